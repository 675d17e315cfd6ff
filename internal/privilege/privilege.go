// Package privilege switches the process's filesystem uid/gid around
// each permission-bearing callback, standing in for the kernel's own
// permission checks when sfs enforces per-request credentials instead
// of relying on the mount's mode bits. Grounded on
// original_source/fuse/util.c's sfs_begin_access/sfs_end_access: lock
// an access mutex, setfsgid then setfsuid to the requesting caller's
// ids, run the call, then setfsuid/setfsgid back to root and unlock.
//
// This lock is intentionally distinct from the batch lock (spec §5:
// "credential switching is not serialized with the batch lock").
package privilege

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Switcher serializes fsuid/fsgid switching across concurrent
// filesystem callbacks. The zero value is ready to use with
// PermChecks disabled; call NewSwitcher to enable permission checks.
type Switcher struct {
	mu           sync.Mutex
	permChecks   bool
	processUmask uint32
}

// NewSwitcher returns a Switcher. When permChecks is false, Enabled
// reports false and callers are expected to skip Begin/End entirely,
// matching the original's behavior when sfs_perms was not requested on
// the command line.
func NewSwitcher(permChecks bool, processUmask uint32) *Switcher {
	return &Switcher{permChecks: permChecks, processUmask: processUmask}
}

// Enabled reports whether this Switcher enforces per-request fsuid/fsgid
// checks. Callers that only have a caller's uid/gid, not its umask
// (most passthrough callbacks besides create-type ones), should skip
// Begin/End entirely when Enabled is false rather than risk clobbering
// the process umask with a zero value.
func (s *Switcher) Enabled() bool {
	return s.permChecks
}

// Credentials is the caller identity a permission-bearing callback
// must run under.
type Credentials struct {
	UID   uint32
	GID   uint32
	Umask uint32
}

// End reverses a successful Begin: sets fsuid/fsgid back to root and
// releases the lock. Callers must defer End immediately after a
// successful Begin.
type End func()

// Begin acquires the access lock and switches the process's fsuid/fsgid
// to creds, returning a function to reverse the switch. Callers must
// check Enabled first: when permission checks are disabled there is no
// caller umask to apply this to outside create-type calls, and a
// caller without one has no business invoking Begin at all.
func (s *Switcher) Begin(creds Credentials) (End, error) {
	s.mu.Lock()

	if _, err := unix.SetfsgidRetGid(int(creds.GID)); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("privilege: setfsgid %d: %w", creds.GID, err)
	}
	if _, err := unix.SetfsuidRetUid(int(creds.UID)); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("privilege: setfsuid %d: %w", creds.UID, err)
	}

	unix.Umask(int(creds.Umask))

	return func() {
		unix.SetfsuidRetUid(0)
		unix.SetfsgidRetGid(0)
		unix.Umask(int(s.processUmask))
		s.mu.Unlock()
	}, nil
}
