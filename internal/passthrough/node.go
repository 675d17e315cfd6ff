package passthrough

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/xattr"

	"github.com/immofs/sfs/internal/classify"
	"github.com/immofs/sfs/internal/config"
	"github.com/immofs/sfs/internal/privilege"
)

// Root wires a loopback tree at dir to Pipeline p, classifying every
// successful mutation through cfg's live snapshot.
type Root struct {
	loopback *fs.LoopbackRoot
	pipeline Pipeline
	cfg      *config.Config
	access   *privilege.Switcher
}

// NewRoot builds the InodeEmbedder to hand to fs.Mount. Mirrors the
// construction fs.NewLoopbackRoot performs internally, reproduced here
// because customizing node behavior requires supplying our own NewNode
// factory on the LoopbackRoot. access may be nil, in which case
// permission-bearing calls run under the process's own credentials.
func NewRoot(dir string, p Pipeline, cfg *config.Config, access *privilege.Switcher) (fs.InodeEmbedder, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(dir, &st); err != nil {
		return nil, err
	}

	r := &Root{pipeline: p, cfg: cfg, access: access}
	r.loopback = &fs.LoopbackRoot{
		Path: dir,
		Dev:  uint64(st.Dev),
		NewNode: func(rootData *fs.LoopbackRoot, parent *fs.Inode, name string, st *syscall.Stat_t) fs.InodeEmbedder {
			return &Node{LoopbackNode: fs.LoopbackNode{RootData: rootData}, root: r}
		},
	}

	return r.loopback.NewNode(r.loopback, nil, "", &st), nil
}

// beginAccess switches to the calling request's uid/gid for the
// duration of a permission-bearing callback, mirroring
// original_source/fuse/util.c's sfs_begin_access/sfs_end_access
// bracketing. Returns a no-op End when no Switcher was configured or
// the caller identity is unavailable.
func (n *Node) beginAccess(ctx context.Context) privilege.End {
	if n.root.access == nil || !n.root.access.Enabled() {
		return func() {}
	}
	// go-fuse's fs package passes the request's *fuse.Context in as the
	// context.Context value itself (it implements the interface), so the
	// caller identity is recovered with a type assertion rather than a
	// context.Value lookup.
	caller, ok := ctx.(*fuse.Context)
	if !ok {
		return func() {}
	}
	end, err := n.root.access.Begin(privilege.Credentials{UID: caller.Owner.Uid, GID: caller.Owner.Gid})
	if err != nil {
		return func() {}
	}
	return end
}

// Node is a passthrough inode instrumented to classify and publish
// every successful mutating call. Grounded on the op-to-event table in
// original_source/fuse/sfs.c: each overridden method here is the Go
// analogue of one (or, for Setattr, several coalesced) sfs.c callback.
type Node struct {
	fs.LoopbackNode
	root *Root
}

func (n *Node) mountPath(name string) string {
	base := n.EmbeddedInode().Path(nil)
	if base == "" {
		return "/" + name
	}
	return "/" + base + "/" + name
}

func (n *Node) selfPath() string {
	return "/" + n.EmbeddedInode().Path(nil)
}

func (n *Node) isDir(childName string) classify.IsDirFunc {
	return func(path string) bool {
		var st syscall.Stat_t
		full := n.root.loopback.Path + path
		if err := syscall.Stat(full, &st); err != nil {
			return false
		}
		return st.Mode&syscall.S_IFDIR != 0
	}
}

func (n *Node) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer n.beginAccess(ctx)()
	inode, errno := n.LoopbackNode.Mknod(ctx, name, mode, dev, out)
	if errno == 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpMknod, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
	}
	return inode, errno
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer n.beginAccess(ctx)()
	inode, errno := n.LoopbackNode.Mkdir(ctx, name, mode, out)
	if errno == 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpMkdir, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
	}
	return inode, errno
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	defer n.beginAccess(ctx)()
	errno := n.LoopbackNode.Unlink(ctx, name)
	if errno == 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpUnlink, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
	}
	return errno
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	defer n.beginAccess(ctx)()
	errno := n.LoopbackNode.Rmdir(ctx, name)
	if errno == 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpRmdir, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
	}
	return errno
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer n.beginAccess(ctx)()
	inode, errno := n.LoopbackNode.Symlink(ctx, target, name, out)
	if errno == 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpSymlink, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
	}
	return inode, errno
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer n.beginAccess(ctx)()
	inode, errno := n.LoopbackNode.Link(ctx, target, name, out)
	if errno == 0 {
		// Both the new link and the existing target are affected
		// (spec §4.6: "link (both endpoints)").
		targetNode, ok := target.(*Node)
		targetPath := ""
		if ok {
			targetPath = targetNode.selfPath()
		}
		dispatch(n.root.pipeline, n.root.cfg, classify.OpLink, n.mountPath(name), "", nil, time.Time{}, time.Now(), nil)
		if targetPath != "" {
			dispatch(n.root.pipeline, n.root.cfg, classify.OpLink, targetPath, "", nil, time.Time{}, time.Now(), nil)
		}
	}
	return inode, errno
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	defer n.beginAccess(ctx)()
	errno := n.LoopbackNode.Rename(ctx, name, newParent, newName, flags)
	if errno == 0 {
		srcPath := n.mountPath(name)
		dstParent, ok := newParent.(*Node)
		dstPath := "/" + newName
		if ok {
			dstPath = dstParent.mountPath(newName)
		}
		dispatch(n.root.pipeline, n.root.cfg, classify.OpRename, srcPath, dstPath, n.isDir(newName), time.Time{}, time.Now(), nil)
	}
	return errno
}

// Setxattr and Removexattr go through github.com/pkg/xattr directly
// against the real on-disk path rather than the embedded LoopbackNode's
// own xattr methods, the same library the pack's reva and gcsfuse trees
// use for the identical purpose.
func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	defer n.beginAccess(ctx)()
	full := n.root.loopback.Path + n.selfPath()
	if err := xattr.LSetWithFlags(full, attr, data, int(flags)); err != nil {
		return fs.ToErrno(err)
	}
	dispatch(n.root.pipeline, n.root.cfg, classify.OpSetxattr, n.selfPath(), "", nil, time.Time{}, time.Now(), nil)
	return 0
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	defer n.beginAccess(ctx)()
	full := n.root.loopback.Path + n.selfPath()
	if err := xattr.LRemove(full, attr); err != nil {
		return fs.ToErrno(err)
	}
	dispatch(n.root.pipeline, n.root.cfg, classify.OpRemovexattr, n.selfPath(), "", nil, time.Time{}, time.Now(), nil)
	return 0
}

// Getxattr reads through pkg/xattr too, for symmetry with Setxattr
// above, even though reads never publish a change event.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	full := n.root.loopback.Path + n.selfPath()
	data, err := xattr.LGet(full, attr)
	if err != nil {
		return 0, fs.ToErrno(err)
	}
	if len(dest) < len(data) {
		return uint32(len(data)), syscall.ERANGE
	}
	copy(dest, data)
	return uint32(len(data)), 0
}

// Setattr fans out to chmod/chown/truncate/utimens semantics based on
// the dirty-attribute bitmask in in.Valid, since go-fuse's node API
// coalesces what original_source/fuse/sfs.c implements as four
// distinct low-level FUSE callbacks (spec §9: the two sfs.c variants
// differ in exactly this kind of signature granularity). Each bit that
// is set is classified and emitted as its own event, in original
// callback order, preserving the one-event-per-attribute-kind contract
// rather than collapsing a combined setattr into a single event.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	defer n.beginAccess(ctx)()

	var priorMtime time.Time
	if in.Valid&(fuse.FATTR_MODE|fuse.FATTR_UID|fuse.FATTR_GID|fuse.FATTR_MTIME|fuse.FATTR_ATIME) != 0 {
		var st syscall.Stat_t
		if syscall.Stat(n.root.loopback.Path+n.selfPath(), &st) == nil {
			priorMtime = time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec))
		}
	}

	if in.Valid&fuse.FATTR_MTIME != 0 {
		requested := time.Unix(int64(in.Mtime), int64(in.Mtimensec))
		if classify.CheckForbidOlderMtime(n.root.cfg.Snapshot(), priorMtime, requested) {
			return syscall.EPERM
		}
	}

	errno := n.LoopbackNode.Setattr(ctx, f, in, out)
	if errno != 0 {
		return errno
	}

	now := time.Now()
	path := n.selfPath()

	if in.Valid&fuse.FATTR_MODE != 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpChmod, path, "", nil, priorMtime, now, n.applyMtimeUpdate)
	}
	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpChown, path, "", nil, priorMtime, now, n.applyMtimeUpdate)
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpTruncate, path, "", nil, priorMtime, now, nil)
	}
	if in.Valid&(fuse.FATTR_MTIME|fuse.FATTR_ATIME) != 0 {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpUtimens, path, "", nil, priorMtime, now, nil)
	}

	return fs.OK
}

func (n *Node) applyMtimeUpdate(upd *classify.MtimeUpdate) {
	if upd == nil {
		return
	}
	full := n.root.loopback.Path + upd.Path
	ts := []syscall.Timespec{
		{Sec: 0, Nsec: syscall.UTIME_OMIT},
		{Sec: upd.To.Unix(), Nsec: int64(upd.To.Nanosecond())},
	}
	_ = syscall.UtimesNanoAt(syscall.AT_FDCWD, full, ts, 0)
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fh, fuseFlags, errno := n.LoopbackNode.Open(ctx, flags)
	if errno != 0 {
		return fh, fuseFlags, errno
	}
	return &trackedFile{inner: fh}, fuseFlags, 0
}

func (n *Node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	tf, ok := f.(*trackedFile)
	if !ok {
		return 0
	}
	errno := tf.Release(ctx)
	if tf.dirty() {
		dispatch(n.root.pipeline, n.root.cfg, classify.OpWriteRelease, n.selfPath(), "", nil, time.Time{}, time.Now(), nil)
	}
	return errno
}
