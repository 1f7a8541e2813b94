package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	maxConcurrency = 64
	maxRPS         = 1000
	minTimeout     = time.Second
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateExtraction(&cfg.Extraction)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateBuckets(cfg.Buckets)...)

	return errors.Join(errs...)
}

func validateExtraction(e *ExtractionConfig) []error {
	var errs []error

	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("extraction.timeout: %w", err))
		} else if d < minTimeout {
			errs = append(errs, fmt.Errorf("extraction.timeout: must be at least %s, got %s", minTimeout, d))
		}
	}

	if e.Concurrency < 0 || e.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("extraction.concurrency: must be 0-%d, got %d", maxConcurrency, e.Concurrency))
	}

	if e.RequestsPerSecond < 0 || e.RequestsPerSecond > maxRPS {
		errs = append(errs, fmt.Errorf("extraction.requests_per_second: must be 0-%d, got %d", maxRPS, e.RequestsPerSecond))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	if s.DownloadLimit < 0 {
		return []error{fmt.Errorf("sync.download_limit: must be >= 0, got %d", s.DownloadLimit)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if l.LogLevel != "" && !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: unknown level %q", l.LogLevel))
	}

	if l.LogFormat != "" && !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: unknown format %q", l.LogFormat))
	}

	return errs
}

func validateBuckets(buckets []BucketConfig) []error {
	var errs []error

	seen := map[string]bool{}

	for i, b := range buckets {
		if b.Bucket == "" {
			errs = append(errs, fmt.Errorf("buckets[%d]: bucket is required", i))
		}

		if b.Tenant == "" {
			errs = append(errs, fmt.Errorf("buckets[%d]: tenant is required", i))
		}

		if b.Purchaser == "" {
			errs = append(errs, fmt.Errorf("buckets[%d]: purchaser is required", i))
		}

		key := b.Tenant + "/" + b.Purchaser
		if seen[key] {
			errs = append(errs, fmt.Errorf("buckets[%d]: duplicate tenant/purchaser pair %s", i, key))
		}

		seen[key] = true
	}

	return errs
}

// ExtractionTimeout parses the configured per-request deadline. Returns 0
// for an empty value so the client falls back to its default.
func (c *Config) ExtractionTimeout() time.Duration {
	if c.Extraction.Timeout == "" {
		return 0
	}

	d, err := time.ParseDuration(c.Extraction.Timeout)
	if err != nil {
		return 0
	}

	return d
}
