// Package pidfile guards the configured pid_path against concurrent
// sfs instances. Grounded on recentfile/lock.go's directory-based lock
// in the teacher tree, adapted to a single regular file: a pid file
// has no child entries to coordinate, so flock(2) via
// github.com/gofrs/flock is the idiomatic fit (it is already present
// in the example pack's manifests behind several daemon-style tools)
// rather than recentfile/lock.go's os.Mkdir-based directory lock,
// which exists to let a Recentfile hierarchy claim an aggregation
// window, not to guard one file.
package pidfile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// PIDFile is a locked, self-writing pid file.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// Acquire takes an exclusive lock on path and writes the current
// process's pid into it. Returns an error if another live process
// already holds the lock.
func Acquire(path string) (*PIDFile, error) {
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile: %s is held by another process", path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
	}

	return &PIDFile{path: path, lock: lock}, nil
}

// Release unlocks and removes the pid file.
func (p *PIDFile) Release() error {
	if err := p.lock.Unlock(); err != nil {
		return fmt.Errorf("pidfile: unlock %s: %w", p.path, err)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", p.path, err)
	}
	return nil
}
