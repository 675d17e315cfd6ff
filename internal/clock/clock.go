// Package clock provides a wall-clock timestamp source that never
// reports time going backwards.
//
// Batch filenames embed integral seconds of wall-clock creation time so
// that names stay lexicographically sortable across process restarts
// (spec §4.1, §6); original_source/fuse/util.c resolves the spec's
// "monotonic" wording the same way despite its function's name —
// sfs_get_monotonic_time sources CLOCK_REALTIME and only falls back to
// the last good reading on syscall failure or an observed regression
// (e.g. NTP stepping the clock backwards). We follow that exactly,
// using golang.org/x/sys/unix.ClockGettime for an independently
// queryable raw reading rather than time.Time's opaque monotonic field.
package clock

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Timespec is a (seconds, nanoseconds) pair.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Less reports whether t is strictly earlier than o.
func (t Timespec) Less(o Timespec) bool {
	if t.Sec != o.Sec {
		return t.Sec < o.Sec
	}
	return t.Nsec < o.Nsec
}

// Clock is a wall-clock timestamp source that never reports time going
// backwards. The zero value is ready to use.
type Clock struct {
	mu    sync.Mutex
	last  Timespec
	valid bool
}

// Now returns a (seconds, nanoseconds) pair guaranteed to be
// non-decreasing across consecutive calls on this Clock. On syscall
// failure, or if the raw reading would regress relative to the last
// successfully returned value, the last good value is returned instead.
func (c *Clock) Now() Timespec {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return c.last
	}

	current := Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
	if c.valid && current.Less(c.last) {
		return c.last
	}

	c.last = current
	c.valid = true
	return current
}
