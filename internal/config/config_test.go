package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConf writes body as .sfs.conf in a fresh temp dir, after
// withDirs has filled in its batch directory placeholders.
func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".sfs.conf")
	require.NoError(t, os.WriteFile(path, []byte(withDirs(t, dir, body)), 0o644))
	return path
}

// withDirs creates dir/batch and dir/batch_tmp and substitutes them for
// the BATCH_DIR and BATCH_TMP_DIR placeholders in body, since Load
// requires both batch directories to exist.
func withDirs(t *testing.T, dir, body string) string {
	t.Helper()
	batchDir := filepath.Join(dir, "batch")
	batchTmpDir := filepath.Join(dir, "batch_tmp")
	require.NoError(t, os.MkdirAll(batchDir, 0o755))
	require.NoError(t, os.MkdirAll(batchTmpDir, 0o755))
	return strings.NewReplacer("BATCH_TMP_DIR", batchTmpDir, "BATCH_DIR", batchDir).Replace(body)
}

const minimalConf = `
[sfs]
batch_dir = BATCH_DIR
batch_tmp_dir = BATCH_TMP_DIR
pid_path = /tmp/sfs.pid
node_name = node1
batch_flush_msec = 1000
batch_max_events = 100
batch_max_bytes = 1048576
`

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConf(t, minimalConf)
	c, err := Load(path)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, filepath.Join(filepath.Dir(path), "batch"), snap.BatchDir)
	assert.Equal(t, "node1", snap.NodeName)
	assert.Equal(t, 1000, snap.BatchFlushMsec)
	assert.Equal(t, UpdateMtimeTouch, snap.UpdateMtime)
	assert.False(t, snap.UseOSync)
	assert.False(t, snap.ForbidOlderMtime)
}

func TestLoadMissingRequiredKeyFails(t *testing.T) {
	path := writeConf(t, `
[sfs]
batch_dir = /tmp/batch
batch_flush_msec = 1000
batch_max_events = 100
batch_max_bytes = 1048576
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUpdateMtimeEnum(t *testing.T) {
	path := writeConf(t, minimalConf+"\nupdate_mtime = increment\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, UpdateMtimeIncrement, c.Snapshot().UpdateMtime)
}

func TestReloadFailureRetainsPreviousConfig(t *testing.T) {
	path := writeConf(t, minimalConf)
	c, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not an ini file at all [["), 0o644))
	reloadErr := c.Reload(path)
	assert.Error(t, reloadErr)

	// previous snapshot is unchanged
	assert.Equal(t, "node1", c.Snapshot().NodeName)
}

func TestReloadSuccessSwapsSnapshot(t *testing.T) {
	path := writeConf(t, minimalConf)
	c, err := Load(path)
	require.NoError(t, err)

	updated := `
[sfs]
batch_dir = BATCH_DIR
batch_tmp_dir = BATCH_TMP_DIR
pid_path = /tmp/sfs.pid
node_name = node2
batch_flush_msec = 1000
batch_max_events = 100
batch_max_bytes = 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(withDirs(t, filepath.Dir(path), updated)), 0o644))
	require.NoError(t, c.Reload(path))

	assert.Equal(t, "node2", c.Snapshot().NodeName)
}
