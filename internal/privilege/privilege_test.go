package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestSwitcherEnabledReflectsPermChecks(t *testing.T) {
	assert.False(t, NewSwitcher(false, 0o022).Enabled())
	assert.True(t, NewSwitcher(true, 0o022).Enabled())
}

func TestBeginEndSwitchesFsuidFsgidAndRestoresUmask(t *testing.T) {
	s := NewSwitcher(true, 0o022)
	require.True(t, s.Enabled())

	orig := unix.Umask(0o022)
	defer unix.Umask(orig)

	uid := uint32(unix.Getuid())
	gid := uint32(unix.Getgid())

	end, err := s.Begin(Credentials{UID: uid, GID: gid, Umask: 0o077})
	require.NoError(t, err)

	current := unix.Umask(0o077)
	assert.Equal(t, 0o077, current, "umask should have been switched to the requested value")
	unix.Umask(current)

	end()
	restored := unix.Umask(0o022)
	assert.Equal(t, 0o022, restored, "umask should be restored by End")
	unix.Umask(restored)
}
