// Package event defines the path-level change record the rest of the
// pipeline moves around: a mount-relative path plus a recursion mode.
package event

import (
	"fmt"
	"regexp"
	"strconv"
)

// Mode tags whether a consumer must treat an event's path as a single
// entry or as the root of a subtree that needs re-examining.
type Mode string

const (
	NoRec Mode = "norec"
	Rec   Mode = "rec"
)

// Event is a single (path, mode) change record.
type Event struct {
	Path string
	Mode Mode
}

// Line returns the on-disk representation of the event: path + newline.
// Paths containing "\n" are out of contract (spec §3) and are not escaped.
func (e Event) Line() string {
	return e.Path + "\n"
}

var filenameRx = regexp.MustCompile(`^(\d+)_(.+)_(.+)_(\d+)_(\d{5})_(norec|rec)\.batch$`)

// BatchName builds the deterministic batch filename described in spec §6:
// <sec>_<node_name>_<hostname>_<pid>_<subid:05d>_<mode>.batch
func BatchName(sec int64, nodeName, hostname string, pid, subID int, mode Mode) string {
	return fmt.Sprintf("%d_%s_%s_%d_%05d_%s.batch", sec, nodeName, hostname, pid, subID, mode)
}

// ParsedName is the decomposed form of a batch filename.
type ParsedName struct {
	Sec      int64
	NodeName string
	Hostname string
	PID      int
	SubID    int
	Mode     Mode
}

// ParseBatchName decomposes a filename produced by BatchName. It returns
// an error for anything that doesn't match the wire layout in spec §6.
func ParseBatchName(name string) (ParsedName, error) {
	m := filenameRx.FindStringSubmatch(name)
	if m == nil {
		return ParsedName{}, fmt.Errorf("event: %q is not a valid batch filename", name)
	}
	sec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ParsedName{}, fmt.Errorf("event: bad seconds in %q: %w", name, err)
	}
	pid, err := strconv.Atoi(m[4])
	if err != nil {
		return ParsedName{}, fmt.Errorf("event: bad pid in %q: %w", name, err)
	}
	subID, err := strconv.Atoi(m[5])
	if err != nil {
		return ParsedName{}, fmt.Errorf("event: bad subid in %q: %w", name, err)
	}
	return ParsedName{
		Sec:      sec,
		NodeName: m[2],
		Hostname: m[3],
		PID:      pid,
		SubID:    subID,
		Mode:     Mode(m[6]),
	}, nil
}
