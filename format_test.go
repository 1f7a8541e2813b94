package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entelliextract/intelliextract/internal/store"
)

func TestFormatMillis(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", formatMillis(0))
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, formatMillis(1700000000000))
}

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"RUN", "STATUS"}, [][]string{
		{"RUN-1700000000000", "done"},
		{"RUN-2", "error"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	// Columns align on the widest cell.
	assert.True(t, strings.HasPrefix(lines[0], "RUN              "), "header: %q", lines[0])
	assert.Contains(t, lines[1], "RUN-1700000000000  done")
	assert.Contains(t, lines[2], "RUN-2")
}

func TestPipeWriter_EmitsOnlyWhenPiped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	piped := &pipeWriter{enabled: true, w: &buf}
	piped.ResumeSkip(4, 10)
	piped.CumulativeMetrics(store.CumulativeStats{Success: 7, Failed: 1, Total: 9})
	piped.Log("Run started: RUN-1")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"RESUME_SKIP\t4\t10",
		"CUMULATIVE_METRICS\tsuccess=7,failed=1,total=9",
		"LOG\tRun started: RUN-1",
	}, lines)

	// A terminal stdout suppresses the protocol entirely.
	var quiet bytes.Buffer

	tty := &pipeWriter{enabled: false, w: &quiet}
	tty.ResumeSkip(1, 2)
	tty.CumulativeMetrics(store.CumulativeStats{})
	tty.Log("hi")

	assert.Zero(t, quiet.Len())
}
