// Package storagebackend defines the object-store plugin boundary of §6:
// exists/size/stat/ls/mkdir plus streaming reader/writer, all respecting the
// caller's cancellation token. localfs provides the reference
// implementation backed by a POSIX filesystem.
package storagebackend

import (
	"context"
	"io"
	"time"
)

// Stat describes one stored object.
type Stat struct {
	Path      string
	Size      int64
	ModTime   time.Time
	IsDir     bool
}

// Writer is handed chunks in order; Close finalises the object and reports
// no byte count (callers count bytes themselves, see pipeline.WriteResult).
// It opens the destination exclusively so two concurrent writers to
// the same randomly-suffixed path (invariant 4) can never collide silently.
type Writer interface {
	io.Writer
	Close() error
}

// Reader streams bytes from offset up to limit (a negative limit means
// unbounded), per §4.4.
type Reader interface {
	io.ReadCloser
}

// Backend is the capability set a storage plugin exposes.
type Backend interface {
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Stat(ctx context.Context, path string) (Stat, error)
	Ls(ctx context.Context, dir string) ([]Stat, error)
	Mkdir(ctx context.Context, path string, recursive bool) error
	Reader(ctx context.Context, path string, offset, limit int64) (Reader, error)
	Writer(ctx context.Context, path string) (Writer, error)
}
