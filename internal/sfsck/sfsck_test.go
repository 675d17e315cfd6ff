package sfsck

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeBatch(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("/a.txt\n"), 0o644))
	if age > 0 {
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, old, old))
	}
}

func TestRunFindsNoIssuesOnCleanDirs(t *testing.T) {
	staging := t.TempDir()
	outbox := t.TempDir()

	writeBatch(t, outbox, "1000_node1_host1_123_00001_norec.batch", 0)

	result, err := Run(staging, outbox, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 0, result.Issues)
}

func TestRunFlagsBadFilenameInOutbox(t *testing.T) {
	staging := t.TempDir()
	outbox := t.TempDir()

	writeBatch(t, outbox, "not-a-batch-file.txt", 0)

	result, err := Run(staging, outbox, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 1, result.IssuesFound["outbox_filenames"])
}

func TestRunFlagsStaleStagingFile(t *testing.T) {
	staging := t.TempDir()
	outbox := t.TempDir()

	writeBatch(t, staging, "1000_node1_host1_123_00001_norec.batch", time.Hour)

	result, err := Run(staging, outbox, Options{Logger: quietLogger(), StaleAfter: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, result.IssuesFound["stale_staging"])
}

func TestRunRepairPromotesStaleStagingFile(t *testing.T) {
	staging := t.TempDir()
	outbox := t.TempDir()

	writeBatch(t, staging, "1000_node1_host1_123_00001_norec.batch", time.Hour)

	result, err := Run(staging, outbox, Options{
		Logger:     quietLogger(),
		StaleAfter: time.Minute,
		Repair:     true,
	})
	require.NoError(t, err)
	require.True(t, result.Repaired)
	require.Equal(t, 1, result.Promoted)

	_, err = os.Stat(filepath.Join(outbox, "1000_node1_host1_123_00001_norec.batch"))
	require.NoError(t, err)
}
