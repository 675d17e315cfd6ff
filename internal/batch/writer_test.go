package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immofs/sfs/internal/clock"
	"github.com/immofs/sfs/internal/event"
)

func newTestWriter(t *testing.T, thresholds Thresholds) (*Writer, string, string) {
	t.Helper()
	stagingDir := t.TempDir()
	outboxDir := t.TempDir()
	w := New(stagingDir, outboxDir, Identity{NodeName: "node1", Hostname: "host1", PID: 1234}, thresholds, &clock.Clock{})
	return w, stagingDir, outboxDir
}

func readOutbox(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSubmitEventDedupsWithinBatch(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.SubmitEvent("/a", event.NoRec))

	require.NoError(t, w.Rotate())

	names := readOutbox(t, outbox)
	require.Len(t, names, 1)

	data, err := os.ReadFile(filepath.Join(outbox, names[0]))
	require.NoError(t, err)
	assert.Equal(t, "/a\n", string(data))
}

func TestSubmitEventRotatesOnMaxEvents(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 2, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.SubmitEvent("/b", event.NoRec))
	require.NoError(t, w.SubmitEvent("/c", event.NoRec))

	require.NoError(t, w.Rotate())

	names := readOutbox(t, outbox)
	require.Len(t, names, 2)
}

func TestSubmitEventRotatesOnModeChange(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.SubmitEvent("/dir", event.Rec))

	require.NoError(t, w.Rotate())

	names := readOutbox(t, outbox)
	require.Len(t, names, 2)

	var sawNoRec, sawRec bool
	for _, n := range names {
		parsed, err := event.ParseBatchName(n)
		require.NoError(t, err)
		switch parsed.Mode {
		case event.NoRec:
			sawNoRec = true
		case event.Rec:
			sawRec = true
		}
	}
	assert.True(t, sawNoRec)
	assert.True(t, sawRec)
}

func TestRotateClearsState(t *testing.T) {
	w, _, _ := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.Rotate())

	assert.False(t, w.IsOpen())
	assert.Equal(t, 0, w.eventCnt)
	assert.Equal(t, int64(0), w.byteCount.Load())
	assert.Equal(t, 0, w.dedup.Len())
}

func TestSubmittingAfterRotateStartsFreshBatch(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.Rotate())
	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.Rotate())

	names := readOutbox(t, outbox)
	require.Len(t, names, 2)
}

func TestForceRotateIfStale(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.ForceRotateIfStale(0))

	names := readOutbox(t, outbox)
	require.Len(t, names, 1)
}

func TestForceRotateIfStaleNoopWhenYoung(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 1 << 20})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	require.NoError(t, w.ForceRotateIfStale(time.Hour))

	names := readOutbox(t, outbox)
	assert.Len(t, names, 0)
	assert.True(t, w.IsOpen())
}

func TestNoteBytesWrittenFeedsThreshold(t *testing.T) {
	w, _, outbox := newTestWriter(t, Thresholds{MaxEvents: 100, MaxBytes: 10})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))
	w.NoteBytesWritten(1000)
	require.NoError(t, w.SubmitEvent("/b", event.NoRec))

	names := readOutbox(t, outbox)
	require.Len(t, names, 1)
}
