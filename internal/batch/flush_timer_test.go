package batch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/immofs/sfs/internal/clock"
	"github.com/immofs/sfs/internal/event"
)

func TestFlushTimerRotatesStaleBatch(t *testing.T) {
	stagingDir := t.TempDir()
	outboxDir := t.TempDir()
	w := New(stagingDir, outboxDir, Identity{NodeName: "n", Hostname: "h", PID: 1}, Thresholds{MaxEvents: 1000, MaxBytes: 1 << 20}, &clock.Clock{})

	require.NoError(t, w.SubmitEvent("/a", event.NoRec))

	ft := NewFlushTimer(w, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go ft.Run(ctx)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(outboxDir)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-ft.Stopped()
}
