// Package sfsck offline-checks a staging/outbox batch directory pair
// for consistency, the batch-stream analogue of the teacher's fsck
// package checking a RECENT hierarchy.
package sfsck

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/immofs/sfs/internal/event"
	"github.com/immofs/sfs/internal/recovery"
)

// Options controls check behavior.
type Options struct {
	Repair     bool
	StaleAfter time.Duration
	Verbose    bool
	Logger     *slog.Logger
}

// Result contains findings.
type Result struct {
	Issues      int
	IssuesFound map[string]int
	Repaired    bool
	Promoted    int
}

// Run checks the staging and outbox directories named by stagingDir and
// outboxDir.
func Run(stagingDir, outboxDir string, opts Options) (*Result, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 10 * time.Minute
	}

	opts.Logger.Info("starting sfsck",
		"staging_dir", stagingDir,
		"outbox_dir", outboxDir,
		"repair", opts.Repair,
	)

	result := &Result{IssuesFound: make(map[string]int)}

	result.IssuesFound["outbox_filenames"] = checkFilenameScheme(outboxDir, opts)
	result.IssuesFound["stale_staging"] = checkStaleStaging(stagingDir, opts)

	for _, count := range result.IssuesFound {
		result.Issues += count
	}

	opts.Logger.Info("sfsck checks complete",
		"issues_found", result.Issues,
		"outbox_filenames", result.IssuesFound["outbox_filenames"],
		"stale_staging", result.IssuesFound["stale_staging"],
	)

	if result.Issues > 0 && opts.Repair {
		opts.Logger.Info("attempting to repair issues", "count", result.Issues)
		rres, err := recovery.Run(stagingDir, outboxDir, nil)
		if err != nil {
			return result, fmt.Errorf("repair failed: %w", err)
		}
		result.Repaired = true
		result.Promoted = len(rres.Promoted)
		opts.Logger.Info("repair complete", "promoted", result.Promoted)
	}

	return result, nil
}

// checkFilenameScheme flags every entry in dir that doesn't parse as a
// valid batch filename (spec §6's deterministic naming scheme).
func checkFilenameScheme(dir string, opts Options) int {
	issues := 0

	entries, err := os.ReadDir(dir)
	if err != nil {
		opts.Logger.Warn("cannot read directory", "path", dir, "error", err)
		return 1
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, err := event.ParseBatchName(name); err != nil {
			opts.Logger.Warn("file does not match batch filename scheme", "file", name, "error", err)
			issues++
			continue
		}
		if opts.Verbose {
			opts.Logger.Debug("filename ok", "file", name)
		}
	}

	return issues
}

// checkStaleStaging flags batch files left in the staging directory
// older than opts.StaleAfter: a batch that never got renamed into the
// outbox within that window means a process died mid-rotate, or
// startup recovery was skipped (spec §4.5).
func checkStaleStaging(dir string, opts Options) int {
	issues := 0

	entries, err := os.ReadDir(dir)
	if err != nil {
		opts.Logger.Warn("cannot read directory", "path", dir, "error", err)
		return 1
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, _ := filepath.Match("*.batch", entry.Name()); !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age > opts.StaleAfter {
			opts.Logger.Warn("stale staging file", "file", filepath.Base(entry.Name()), "age", age)
			issues++
		} else if opts.Verbose {
			opts.Logger.Debug("staging file within budget", "file", entry.Name(), "age", age)
		}
	}

	return issues
}
