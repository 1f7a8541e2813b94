package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/entelliextract/intelliextract/internal/store"
)

// pipeWriter emits the tab-separated progress protocol on stdout when a
// parent process is capturing it. When stdout is a terminal the protocol
// is suppressed and humans get the normal status output instead.
type pipeWriter struct {
	enabled bool
	w       io.Writer
}

// newPipeWriter detects whether stdout is piped.
func newPipeWriter() *pipeWriter {
	fd := os.Stdout.Fd()
	piped := !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)

	return &pipeWriter{enabled: piped, w: os.Stdout}
}

// ResumeSkip reports how many files were already done before this run.
func (p *pipeWriter) ResumeSkip(already, total int) {
	if p.enabled {
		fmt.Fprintf(p.w, "RESUME_SKIP\t%d\t%d\n", already, total)
	}
}

// CumulativeMetrics reports the all-runs success/failure totals.
func (p *pipeWriter) CumulativeMetrics(s store.CumulativeStats) {
	if p.enabled {
		fmt.Fprintf(p.w, "CUMULATIVE_METRICS\tsuccess=%d,failed=%d,total=%d\n",
			s.Success, s.Failed, s.Total)
	}
}

// Log forwards a human-readable message to the parent process.
func (p *pipeWriter) Log(msg string) {
	if p.enabled {
		fmt.Fprintf(p.w, "LOG\t%s\n", msg)
	}
}
