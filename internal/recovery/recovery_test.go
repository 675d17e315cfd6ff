package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPromotesBatchFiles(t *testing.T) {
	stagingDir := t.TempDir()
	outboxDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "100_n_h_1_00000_norec.batch"), []byte("/a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "ignored.txt"), []byte("x"), 0o644))

	result, err := Run(stagingDir, outboxDir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"100_n_h_1_00000_norec.batch"}, result.Promoted)

	_, err = os.Stat(filepath.Join(outboxDir, "100_n_h_1_00000_norec.batch"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(stagingDir, "100_n_h_1_00000_norec.batch"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(stagingDir, "ignored.txt"))
	assert.NoError(t, err, "non-.batch files must be left in place")
}

func TestRunEmptyStagingDirIsNoop(t *testing.T) {
	stagingDir := t.TempDir()
	outboxDir := t.TempDir()

	result, err := Run(stagingDir, outboxDir, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
}

func TestRunFailsOnMissingStagingDir(t *testing.T) {
	_, err := Run(filepath.Join(t.TempDir(), "does-not-exist"), t.TempDir(), nil)
	assert.Error(t, err)
}
