package passthrough

import (
	"context"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// trackedFile wraps the loopback file handle go-fuse hands back from
// Open, remembering whether any Write call on it succeeded. go-fuse's
// FileHandle is an empty marker interface and capabilities are
// discovered via type assertion on sub-interfaces (FileReader,
// FileWriter, ...), so every capability the wrapped handle supports
// must be re-exposed explicitly here rather than inherited through
// embedding.
type trackedFile struct {
	inner     fs.FileHandle
	dirtyFlag atomic.Bool
}

func (f *trackedFile) dirty() bool { return f.dirtyFlag.Load() }

func (f *trackedFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	r, ok := f.inner.(fs.FileReader)
	if !ok {
		return nil, syscall.ENOTSUP
	}
	return r.Read(ctx, dest, off)
}

func (f *trackedFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	w, ok := f.inner.(fs.FileWriter)
	if !ok {
		return 0, syscall.ENOTSUP
	}
	n, errno := w.Write(ctx, data, off)
	if errno == 0 && n > 0 {
		f.dirtyFlag.Store(true)
	}
	return n, errno
}

func (f *trackedFile) Flush(ctx context.Context) syscall.Errno {
	fl, ok := f.inner.(fs.FileFlusher)
	if !ok {
		return 0
	}
	return fl.Flush(ctx)
}

func (f *trackedFile) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	fs2, ok := f.inner.(fs.FileFsyncer)
	if !ok {
		return 0
	}
	return fs2.Fsync(ctx, flags)
}

func (f *trackedFile) Release(ctx context.Context) syscall.Errno {
	r, ok := f.inner.(fs.FileReleaser)
	if !ok {
		return 0
	}
	return r.Release(ctx)
}

func (f *trackedFile) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	g, ok := f.inner.(fs.FileGetattrer)
	if !ok {
		return syscall.ENOTSUP
	}
	return g.Getattr(ctx, out)
}
