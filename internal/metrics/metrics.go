// Package metrics turns the checkpoint records of one run into a summary:
// counts, latency percentiles, throughput, a failure breakdown, the
// slowest files, and per-brand failure totals. Everything here is a pure
// function over the records; nothing touches the store.
package metrics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/entelliextract/intelliextract/internal/store"
)

// FailureBreakdown buckets error checkpoints by inferred cause.
type FailureBreakdown struct {
	Timeout     int `json:"timeout"`
	ReadError   int `json:"readError"`
	ServerError int `json:"serverError"`
	ClientError int `json:"clientError"`
	Other       int `json:"other"`
}

// SlowFile is one entry in the top-slowest list.
type SlowFile struct {
	RelativePath string `json:"relativePath"`
	Brand        string `json:"brand"`
	LatencyMS    int64  `json:"latencyMs"`
}

// BrandFailures is one row of the failures-by-brand table.
type BrandFailures struct {
	Brand    string `json:"brand"`
	Failures int    `json:"failures"`
}

// Anomaly flags one record worth a second look.
type Anomaly struct {
	Type         string `json:"type"`
	RelativePath string `json:"relativePath"`
	Detail       string `json:"detail"`
}

// RunMetrics is the computed summary for one run. Serialised as JSON
// into the run's summary column.
type RunMetrics struct {
	RunID      string `json:"runId"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt"`

	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	TotalFiles int `json:"totalFiles"`
	Processed  int `json:"processed"`

	TotalProcessingTimeMS int64   `json:"totalProcessingTimeMs"`
	ThroughputPerSecond   float64 `json:"throughputPerSecond"`
	ThroughputPerMinute   float64 `json:"throughputPerMinute"`

	AvgLatencyMS float64 `json:"avgLatencyMs"`
	P50LatencyMS int64   `json:"p50LatencyMs"`
	P95LatencyMS int64   `json:"p95LatencyMs"`
	P99LatencyMS int64   `json:"p99LatencyMs"`
	ErrorRate    float64 `json:"errorRate"`

	Failures        FailureBreakdown `json:"failures"`
	TopSlowest      []SlowFile       `json:"topSlowest"`
	FailuresByBrand []BrandFailures  `json:"failuresByBrand"`
	Anomalies       []Anomaly        `json:"anomalies"`
}

// topSlowestCount caps the slowest-files list.
const topSlowestCount = 5

// highLatencyFactor marks a record anomalous when its latency exceeds
// this multiple of p95.
const highLatencyFactor = 2

// timeoutPattern matches error messages that indicate a timed-out or
// aborted connection attempt.
var timeoutPattern = regexp.MustCompile(`(?i)timeout|abort|etimedout|econnaborted`)

// Compute summarises the checkpoints of one run.
func Compute(runID string, records []store.Checkpoint, startedAt, finishedAt int64) *RunMetrics {
	m := &RunMetrics{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		TotalFiles: len(records),
	}

	var latencies []int64

	for _, r := range records {
		switch r.Status {
		case store.StatusDone:
			m.Success++
		case store.StatusError:
			m.Failed++
			m.Failures.add(r)
		case store.StatusSkipped:
			m.Skipped++
		}

		if (r.Status == store.StatusDone || r.Status == store.StatusError) && r.LatencyMS >= 0 {
			latencies = append(latencies, r.LatencyMS)
			m.TotalProcessingTimeMS += r.LatencyMS
		}
	}

	m.Processed = m.Success + m.Failed

	if m.TotalProcessingTimeMS > 0 {
		perSecond := float64(m.Processed) / (float64(m.TotalProcessingTimeMS) / 1000)
		m.ThroughputPerSecond = perSecond
		m.ThroughputPerMinute = perSecond * 60
	}

	if len(latencies) > 0 {
		m.AvgLatencyMS = float64(m.TotalProcessingTimeMS) / float64(len(latencies))

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		m.P50LatencyMS = quantile(latencies, 0.50)
		m.P95LatencyMS = quantile(latencies, 0.95)
		m.P99LatencyMS = quantile(latencies, 0.99)
	}

	if m.Processed > 0 {
		m.ErrorRate = float64(m.Failed) / float64(m.Processed)
	}

	m.TopSlowest = topSlowest(records)
	m.FailuresByBrand = failuresByBrand(records)
	m.Anomalies = anomalies(records, m.P95LatencyMS)

	return m
}

// add classifies one error checkpoint into the breakdown.
func (f *FailureBreakdown) add(r store.Checkpoint) {
	switch {
	case r.StatusCode == 0 && timeoutPattern.MatchString(r.ErrorMessage):
		f.Timeout++
	case r.StatusCode == 0 && strings.HasPrefix(strings.ToLower(r.ErrorMessage), "read file:"):
		f.ReadError++
	case r.StatusCode >= 500:
		f.ServerError++
	case r.StatusCode >= 400:
		f.ClientError++
	default:
		f.Other++
	}
}

// quantile returns the q-th quantile of a sorted latency slice using the
// nearest-rank method.
func quantile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}

	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// topSlowest returns the slowest successful records, largest first.
func topSlowest(records []store.Checkpoint) []SlowFile {
	var done []store.Checkpoint

	for _, r := range records {
		if r.Status == store.StatusDone && r.LatencyMS >= 0 {
			done = append(done, r)
		}
	}

	sort.Slice(done, func(i, j int) bool { return done[i].LatencyMS > done[j].LatencyMS })

	if len(done) > topSlowestCount {
		done = done[:topSlowestCount]
	}

	out := make([]SlowFile, 0, len(done))
	for _, r := range done {
		out = append(out, SlowFile{
			RelativePath: r.RelativePath,
			Brand:        r.Brand,
			LatencyMS:    r.LatencyMS,
		})
	}

	return out
}

// failuresByBrand counts error records per brand, most failures first.
// Ties break alphabetically so the ordering is stable.
func failuresByBrand(records []store.Checkpoint) []BrandFailures {
	counts := map[string]int{}

	for _, r := range records {
		if r.Status == store.StatusError {
			counts[r.Brand]++
		}
	}

	out := make([]BrandFailures, 0, len(counts))
	for brand, n := range counts {
		out = append(out, BrandFailures{Brand: brand, Failures: n})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}

		return out[i].Brand < out[j].Brand
	})

	return out
}

// anomalies flags successful records far above p95 and every error
// record with its message.
func anomalies(records []store.Checkpoint, p95 int64) []Anomaly {
	var out []Anomaly

	for _, r := range records {
		switch {
		case r.Status == store.StatusDone && p95 > 0 && r.LatencyMS > highLatencyFactor*p95:
			out = append(out, Anomaly{
				Type:         "high_latency",
				RelativePath: r.RelativePath,
				Detail:       fmt.Sprintf("latency %dms exceeds 2x p95 (%dms)", r.LatencyMS, p95),
			})
		case r.Status == store.StatusError:
			out = append(out, Anomaly{
				Type:         "unexpected_status",
				RelativePath: r.RelativePath,
				Detail:       r.ErrorMessage,
			})
		}
	}

	return out
}
