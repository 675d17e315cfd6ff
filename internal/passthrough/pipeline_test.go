package passthrough

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immofs/sfs/internal/classify"
	"github.com/immofs/sfs/internal/config"
	"github.com/immofs/sfs/internal/event"
)

type recordingPipeline struct {
	submitted  []event.Event
	reloaded   bool
	suppressed []string
}

func (r *recordingPipeline) Submit(path string, mode event.Mode) error {
	r.submitted = append(r.submitted, event.Event{Path: path, Mode: mode})
	return nil
}

func (r *recordingPipeline) ReloadConfig() {
	r.reloaded = true
}

func (r *recordingPipeline) ReportSuppressed(reason string) {
	r.suppressed = append(r.suppressed, reason)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	batchDir := filepath.Join(dir, "batch")
	batchTmpDir := filepath.Join(dir, "batch_tmp")
	require.NoError(t, os.Mkdir(batchDir, 0o755))
	require.NoError(t, os.Mkdir(batchTmpDir, 0o755))

	path := filepath.Join(dir, ".sfs.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
[sfs]
batch_dir = `+batchDir+`
batch_tmp_dir = `+batchTmpDir+`
pid_path = /tmp/sfs.pid
node_name = node1
batch_flush_msec = 1000
batch_max_events = 100
batch_max_bytes = 1048576
`), 0o644))
	c, err := config.Load(path)
	require.NoError(t, err)
	return c
}

func TestDispatchSubmitsEvent(t *testing.T) {
	p := &recordingPipeline{}
	cfg := testConfig(t)

	dispatch(p, cfg, classify.OpMkdir, "/a", "", nil, time.Time{}, time.Now(), nil)

	require.Len(t, p.submitted, 1)
	assert.Equal(t, "/a", p.submitted[0].Path)
	assert.Equal(t, event.NoRec, p.submitted[0].Mode)
	assert.False(t, p.reloaded)
}

func TestDispatchTriggersReloadForConfigPath(t *testing.T) {
	p := &recordingPipeline{}
	cfg := testConfig(t)

	dispatch(p, cfg, classify.OpUnlink, "/.sfs.conf", "", nil, time.Time{}, time.Now(), nil)

	assert.Empty(t, p.submitted)
	assert.True(t, p.reloaded)
	assert.Equal(t, []string{"config_reload"}, p.suppressed)
}

func TestDispatchSuppressesFuseHidden(t *testing.T) {
	p := &recordingPipeline{}
	cfg := testConfig(t)

	dispatch(p, cfg, classify.OpUnlink, "/dir/.fuse_hidden0001", "", nil, time.Time{}, time.Now(), nil)

	assert.Empty(t, p.submitted)
	assert.False(t, p.reloaded)
	assert.Equal(t, []string{"fuse_hidden"}, p.suppressed)
}
