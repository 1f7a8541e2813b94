package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/entelliextract/intelliextract/internal/extractor"
	"github.com/entelliextract/intelliextract/internal/store"
)

// discoverFiles walks the staging tree for the requested pairs and
// returns the files eligible for extraction: those with no recorded
// extraction status, previously-failed ones when retryFailed is set, and
// files whose last attempt errored when resuming an interrupted run.
// In-flight .part files are never picked up.
func (c *Coordinator) discoverFiles(ctx context.Context, pairs []Pair, retryFailed, resume bool) ([]extractor.InputFile, error) {
	// On resume, files whose checkpoint ended in error are work to redo:
	// an aborted run leaves exactly one such file at the abort point.
	redo := map[string]bool{}

	if resume && !retryFailed {
		var err error

		redo, err = c.store.GetErrorPaths(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("workflow: loading errored paths: %w", err)
		}
	}

	var out []extractor.InputFile

	for _, p := range pairs {
		eligible, err := c.eligibleStatuses(ctx, p)
		if err != nil {
			return nil, err
		}

		root := filepath.Join(c.stagingDir, p.Tenant, p.Purchaser)

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if d.IsDir() || strings.HasSuffix(path, ".part") {
				return nil
			}

			rel, relErr := filepath.Rel(c.stagingDir, path)
			if relErr != nil {
				return relErr
			}

			relSlash := filepath.ToSlash(rel)

			status, known := eligible.statusByPath[path]
			if known && !eligible.include(status, retryFailed, resume && redo[relSlash]) {
				return nil
			}

			out = append(out, extractor.InputFile{
				FilePath:     path,
				RelativePath: relSlash,
				Brand:        p.Tenant,
				Purchaser:    p.Purchaser,
			})

			return nil
		})
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("workflow: walking staging dir for %s/%s: %w", p.Tenant, p.Purchaser, err)
		}
	}

	return out, nil
}

// registryView indexes the registry rows of one pair by local path.
type registryView struct {
	statusByPath map[string]string
}

// include applies the eligibility rule for a known registry row. done
// and skipped rows are never re-queued; error rows come back under
// retryFailed or when a resume marks the path as work to redo.
func (v registryView) include(status string, retryFailed, redo bool) bool {
	if status == "" {
		return true
	}

	if status != store.StatusError {
		return false
	}

	return retryFailed || redo
}

// eligibleStatuses loads the registry rows for one pair.
func (c *Coordinator) eligibleStatuses(ctx context.Context, p Pair) (registryView, error) {
	records, err := c.store.ListFiles(ctx, store.StatsFilter{Brand: p.Tenant, Purchaser: p.Purchaser})
	if err != nil {
		return registryView{}, fmt.Errorf("workflow: listing registry for %s/%s: %w", p.Tenant, p.Purchaser, err)
	}

	view := registryView{statusByPath: make(map[string]string, len(records))}
	for _, r := range records {
		view.statusByPath[r.FullPath] = r.LatestStatus
	}

	return view, nil
}
