package batchclient

import "os"

// ShowHelp prints usage information for batch-submit.
func ShowHelp() {
	os.Stdout.WriteString(`skumatch batch submitter
========================

Submits a batch of competitor products, follows its progress and downloads
the results.

Usage:
  go run ./cmd/batch-submit [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -file string
        JSON array of competitor products; generated when empty
  -generate int
        Number of synthetic products to generate (default 25)
  -seed int
        Generator seed; 0 is random
  -concurrency int
        Items resolved in parallel within the batch (default: server setting)
  -timeout duration
        HTTP request timeout (default 30s)
  -export string
        Export format: json, csv or xlsx (default "csv")
  -out string
        Export destination (default: batch-<id>.<format>)
  -help
        Show this help message

Examples:
  # Match 100 generated products and save an Excel report
  go run ./cmd/batch-submit -generate 100 -export xlsx -out reports/run.xlsx

  # Submit a file with 8 items in flight
  go run ./cmd/batch-submit -file competitors.json -concurrency 8
`)
}
