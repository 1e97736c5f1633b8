package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/skumatch/internal/batchclient"
	"github.com/okian/skumatch/pkg/logger"
)

const defaultRunTimeout = 30 * time.Minute

func main() {
	os.Exit(run())
}

// run returns 0 on success, 1 on error and 2 when some items failed.
func run() int {
	var (
		baseURL     = flag.String("url", batchclient.DefaultBaseURL, "Base URL of the service")
		file        = flag.String("file", "", "JSON array of competitor products (generated when empty)")
		generate    = flag.Int("generate", batchclient.DefaultGenerate, "Number of synthetic products to generate")
		seed        = flag.Int64("seed", 0, "Generator seed (0 is random)")
		concurrency = flag.Int("concurrency", 0, "Items resolved in parallel within the batch")
		timeout     = flag.Duration("timeout", batchclient.DefaultTimeout, "HTTP request timeout")
		export      = flag.String("export", batchclient.DefaultExport, "Export format: json, csv or xlsx")
		out         = flag.String("out", "", "Export destination (default: batch-<id>.<format>)")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		batchclient.ShowHelp()
		return 0
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	stats, err := batchclient.Run(ctx, batchclient.Config{
		BaseURL:     *baseURL,
		File:        *file,
		Generate:    *generate,
		Seed:        *seed,
		Concurrency: *concurrency,
		Timeout:     *timeout,
		Export:      *export,
		Out:         *out,
	})
	if err != nil {
		os.Stderr.WriteString("batch failed: " + err.Error() + "\n")
		return 1
	}
	if stats.Failed > 0 {
		return 2
	}
	return 0
}
