package batchclient

import "time"

// Defaults applied by Config.withDefaults.
const (
	DefaultBaseURL      = "http://localhost:8080"
	DefaultGenerate     = 25
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = time.Second
	DefaultExport       = "csv"
)

// File permission constants.
const (
	filePermission      = 0o600
	directoryPermission = 0o750
)

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Generate <= 0 {
		c.Generate = DefaultGenerate
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Export == "" {
		c.Export = DefaultExport
	}
	return c
}
