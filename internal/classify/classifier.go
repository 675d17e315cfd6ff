// Package classify maps a completed filesystem operation onto zero,
// one, or two change events, applying the path-suppression and mtime
// policies from spec §4.6. Grounded on the op-to-event table embedded
// in original_source/fuse/sfs.c's callback bodies (each mutating
// callback calls batch_file_event directly, or sfs_update_mtime first
// for chmod/chown) and on batch_file_event's own suppression checks
// (config reload trigger, .sfs.mounted marker, ignore prefix,
// .fuse_hidden substring).
package classify

import (
	"strings"
	"time"

	"github.com/immofs/sfs/internal/config"
	"github.com/immofs/sfs/internal/event"
)

// Op identifies which filesystem operation completed successfully.
type Op string

const (
	OpMknod        Op = "mknod"
	OpMkdir        Op = "mkdir"
	OpUnlink       Op = "unlink"
	OpRmdir        Op = "rmdir"
	OpSymlink      Op = "symlink"
	OpLink         Op = "link"
	OpChmod        Op = "chmod"
	OpChown        Op = "chown"
	OpTruncate     Op = "truncate"
	OpUtimens      Op = "utimens"
	OpSetxattr     Op = "setxattr"
	OpRemovexattr  Op = "removexattr"
	OpWriteRelease Op = "write_release"
	OpRename       Op = "rename"
	OpRead         Op = "read" // and other non-mutating ops: never emits
)

// Suppressed names why an operation produced no event.
type Suppressed string

const (
	SuppressedConfigReload Suppressed = "config_reload"
	SuppressedMountMarker  Suppressed = "mount_marker"
	SuppressedIgnorePrefix Suppressed = "ignore_prefix"
	SuppressedFuseHidden   Suppressed = "fuse_hidden"
)

const (
	configPath       = "/.sfs.conf"
	mountedPath      = "/.sfs.mounted"
	fuseHiddenMarker = ".fuse_hidden"
)

// Result is the outcome of classifying one operation.
type Result struct {
	Events      []event.Event
	ReloadConf  bool
	Suppressed  Suppressed
	MtimeUpdate *MtimeUpdate
}

// MtimeUpdate instructs the caller to set the target's mtime before
// the event is emitted, per the configured update_mtime policy.
type MtimeUpdate struct {
	Path string
	To   time.Time
}

// IsDirFunc reports whether path names a directory; used only for
// rename, to decide between rec and norec (spec §4.6).
type IsDirFunc func(path string) bool

// Classify maps one completed operation to a Result. newPath is only
// used for OpRename; currentMtime and now are only consulted for
// OpChmod/OpChown (update_mtime) and handled by the caller via
// MtimeUpdate, since classify itself never touches the filesystem.
func Classify(snap config.Snapshot, op Op, path, newPath string, isDir IsDirFunc, currentMtime time.Time, now time.Time) Result {
	if suppressed, res := checkSuppression(snap, path); suppressed {
		return res
	}

	switch op {
	case OpRename:
		if suppressed, res := checkSuppression(snap, newPath); suppressed {
			return res
		}
		mode := event.NoRec
		if isDir != nil && isDir(newPath) {
			mode = event.Rec
		}
		return Result{Events: []event.Event{
			{Path: path, Mode: mode},
			{Path: newPath, Mode: mode},
		}}

	case OpMknod, OpMkdir, OpUnlink, OpRmdir, OpSymlink, OpLink,
		OpTruncate, OpUtimens, OpSetxattr, OpRemovexattr, OpWriteRelease:
		return Result{Events: []event.Event{{Path: path, Mode: event.NoRec}}}

	case OpChmod, OpChown:
		res := Result{Events: []event.Event{{Path: path, Mode: event.NoRec}}}
		res.MtimeUpdate = mtimeUpdateFor(snap, path, currentMtime, now)
		return res

	default:
		return Result{}
	}
}

// mtimeUpdateFor computes the mtime change to apply before the event
// is emitted, per the update_mtime policy (spec §4.6). Returns nil for
// UpdateMtimeNo.
func mtimeUpdateFor(snap config.Snapshot, path string, currentMtime, now time.Time) *MtimeUpdate {
	switch snap.UpdateMtime {
	case config.UpdateMtimeTouch:
		return &MtimeUpdate{Path: path, To: now}
	case config.UpdateMtimeIncrement:
		return &MtimeUpdate{Path: path, To: currentMtime.Add(time.Nanosecond)}
	default:
		return nil
	}
}

// CheckForbidOlderMtime reports whether a requested utimens/utime
// setting requestedMtime on a file currently at currentMtime must be
// rejected under the forbid_older_mtime policy (spec §4.6).
func CheckForbidOlderMtime(snap config.Snapshot, currentMtime, requestedMtime time.Time) bool {
	return snap.ForbidOlderMtime && requestedMtime.Before(currentMtime)
}

func checkSuppression(snap config.Snapshot, path string) (bool, Result) {
	switch {
	case path == configPath:
		return true, Result{ReloadConf: true, Suppressed: SuppressedConfigReload}
	case path == mountedPath:
		return true, Result{Suppressed: SuppressedMountMarker}
	case snap.IgnorePathPrefix != "" && strings.HasPrefix(path, snap.IgnorePathPrefix):
		return true, Result{Suppressed: SuppressedIgnorePrefix}
	case strings.Contains(path, fuseHiddenMarker):
		return true, Result{Suppressed: SuppressedFuseHidden}
	default:
		return false, Result{}
	}
}
