package extractapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Mock is a stand-in Extractor for local development, enabled by
// ENTELLIEXTRACT_USE_MOCK=1. Every call succeeds after a short simulated
// latency without touching the network.
type Mock struct {
	// Latency is the simulated per-call duration. Zero means 50ms.
	Latency time.Duration
}

// UseMockFromEnv reports whether the mock extractor is requested.
func UseMockFromEnv() bool {
	return os.Getenv(EnvUseMock) == "1"
}

// Extract returns a canned success for any readable file.
func (m *Mock) Extract(ctx context.Context, filePath, brand, purchaser string) (*Result, error) {
	latency := m.Latency
	if latency == 0 {
		latency = 50 * time.Millisecond
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	if _, err := os.Stat(filePath); err != nil {
		return &Result{
			Success:      false,
			StatusCode:   0,
			LatencyMS:    latency.Milliseconds(),
			ErrorMessage: fmt.Sprintf("read file: %v", err),
		}, nil
	}

	return &Result{
		Success:    true,
		StatusCode: http.StatusOK,
		LatencyMS:  latency.Milliseconds(),
		PatternKey: "mock-pattern",
		FullResponse: fmt.Sprintf(
			`{"status":"ok","pattern_key":"mock-pattern","file":%q,"brand":%q,"purchaser":%q}`,
			filepath.Base(filePath), brand, purchaser),
	}, nil
}

var _ Extractor = (*Mock)(nil)
var _ Extractor = (*Client)(nil)
