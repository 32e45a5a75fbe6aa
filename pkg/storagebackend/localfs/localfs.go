// Package localfs is the reference storagebackend.Backend implementation:
// a POSIX filesystem rooted at a base directory, opening writers with
// O_EXCL so two concurrent writers targeting the same storage_path fail
// loudly rather than silently interleaving (paired with the random path
// suffix of invariant 4, this should never actually trigger in practice).
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/storagebackend"
)

type Backend struct {
	baseDir string
}

func New(baseDir string) *Backend { return &Backend{baseDir: baseDir} }

var _ storagebackend.Backend = (*Backend)(nil)

func (b *Backend) resolve(path string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(path))
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(b.resolve(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, dataerr.Wrap(dataerr.StorageFault, err, "stat %s", path)
	}
	return true, nil
}

func (b *Backend) Size(ctx context.Context, path string) (int64, error) {
	st, err := b.Stat(ctx, path)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

func (b *Backend) Stat(ctx context.Context, path string) (storagebackend.Stat, error) {
	if err := ctx.Err(); err != nil {
		return storagebackend.Stat{}, err
	}
	info, err := os.Stat(b.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return storagebackend.Stat{}, dataerr.Wrap(dataerr.Missing, err, "no such object %s", path)
		}
		return storagebackend.Stat{}, dataerr.Wrap(dataerr.StorageFault, err, "stat %s", path)
	}
	return storagebackend.Stat{Path: path, Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

func (b *Backend) Ls(ctx context.Context, dir string) ([]storagebackend.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.resolve(dir))
	if err != nil {
		return nil, dataerr.Wrap(dataerr.StorageFault, err, "ls %s", dir)
	}
	out := make([]storagebackend.Stat, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, storagebackend.Stat{
			Path: filepath.ToSlash(filepath.Join(dir, e.Name())), Size: info.Size(), ModTime: info.ModTime(), IsDir: e.IsDir(),
		})
	}
	return out, nil
}

func (b *Backend) Mkdir(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := b.resolve(path)
	var err error
	if recursive {
		err = os.MkdirAll(full, 0o755)
	} else {
		err = os.Mkdir(full, 0o755)
	}
	if err != nil && !os.IsExist(err) {
		return dataerr.Wrap(dataerr.StorageFault, err, "mkdir %s", path)
	}
	return nil
}

type reader struct {
	f   *os.File
	lr  io.Reader
}

func (r *reader) Read(p []byte) (int, error) { return r.lr.Read(p) }
func (r *reader) Close() error                { return r.f.Close() }

func (b *Backend) Reader(ctx context.Context, path string, offset, limit int64) (storagebackend.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dataerr.Wrap(dataerr.Missing, err, "no such object %s", path)
		}
		return nil, dataerr.Wrap(dataerr.StorageFault, err, "open %s", path)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, dataerr.Wrap(dataerr.StorageFault, err, "seek %s", path)
		}
	}

	var rd io.Reader = f
	if limit >= 0 {
		rd = io.LimitReader(f, limit)
	}
	return &reader{f: f, lr: rd}, nil
}

type writer struct {
	f *os.File
}

func (w *writer) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *writer) Close() error                 { return w.f.Close() }

// Writer creates parent directories and opens path exclusively, so a second
// writer racing for the same path gets an error rather than silent data
// corruption (per §4.4's "creates (and mkdir -ps) the parent directory").
func (b *Backend) Writer(ctx context.Context, path string) (storagebackend.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, dataerr.Wrap(dataerr.StorageFault, err, "mkdir parent of %s", path)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, dataerr.Wrap(dataerr.StorageFault, err, "open %s for write", path)
	}
	return &writer{f: f}, nil
}
