// Package recovery promotes staging residue left behind by a prior
// process into the outbox, once, before any filesystem callback may be
// served. Grounded on the recovery loop in original_source/fuse/sfs.c's
// main() (opendir the staging dir, match "*.batch" by substring, rename
// each into the outbox dir, abort on any failure) and on
// original_source/fuse/batch.c's batch_flush for the two-directory
// fsync-after-rename discipline.
package recovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/immofs/sfs/internal/metrics"
)

// Sentinel causes distinguishing the ways Run can fail, so the caller
// can translate each into its own exitcode constant instead of
// collapsing every recovery failure onto one code.
var (
	// ErrStagingDirOpen means the staging directory itself could not be
	// read (caller maps this to exitcode.StagingDirOpen).
	ErrStagingDirOpen = errors.New("recovery: open staging dir")
	// ErrPathBuild means a staging-side entry name could not be matched
	// against the batch-file pattern (exitcode.RecoveryPathBuild).
	ErrPathBuild = errors.New("recovery: build staging path")
	// ErrOutboxPathBuild means the outbox directory could not be
	// fsynced after promotion (exitcode.RecoveryOutboxPathBuild).
	ErrOutboxPathBuild = errors.New("recovery: build outbox path")
	// ErrRename means a staging file could not be promoted to the
	// outbox (exitcode.RecoveryRename).
	ErrRename = errors.New("recovery: rename staging file to outbox")
)

// Result summarizes a completed recovery run.
type Result struct {
	Promoted []string
}

// Run promotes every "*.batch" entry in stagingDir to outboxDir under
// an identical filename, then fsyncs both directories. It runs exactly
// once at startup, before the pipeline accepts its first event (spec
// §4.5). Every failure is wrapped in one of the Err* sentinels above so
// the caller can map it to a distinct exitcode.
func Run(stagingDir, outboxDir string, m *metrics.Metrics) (Result, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrStagingDirOpen, stagingDir, err)
	}

	var result Result
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match("*.batch", entry.Name())
		if err != nil {
			return result, fmt.Errorf("%w: against %s: %v", ErrPathBuild, entry.Name(), err)
		}
		if !matched {
			continue
		}

		src := filepath.Join(stagingDir, entry.Name())
		dst := filepath.Join(outboxDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			if m != nil {
				m.RecoveryFailures.Inc()
			}
			return result, fmt.Errorf("%w: %s to %s: %v", ErrRename, src, dst, err)
		}
		result.Promoted = append(result.Promoted, entry.Name())
	}

	if err := fsyncDir(outboxDir); err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrOutboxPathBuild, outboxDir, err)
	}
	if err := fsyncDir(stagingDir); err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrStagingDirOpen, stagingDir, err)
	}

	if m != nil {
		m.RecoveryPromotions.Add(float64(len(result.Promoted)))
	}

	return result, nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
