package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/storagebackend"
)

// WriteResult is what the storage-writer stage reports back to the driving
// stage once the inbound source is exhausted.
type WriteResult struct {
	BytesWritten int64
	RowCount     int64
}

// chunkSubscriber drains a ChunkSource into an io.Writer (the storage
// backend's writer and, via io.MultiWriter, a row-counting tee), honouring
// backpressure by requesting one chunk at a time.
type chunkSubscriber struct {
	dst       io.Writer
	bytes     int64
	sub       Subscription
	done      chan error
}

func (s *chunkSubscriber) OnSubscribe(sub Subscription) {
	s.sub = sub
	sub.Request(1)
}

func (s *chunkSubscriber) OnNext(c Chunk) error {
	n, err := s.dst.Write(c.Data)
	s.bytes += int64(n)
	c.Release()
	if err != nil {
		return dataerr.Wrap(dataerr.StorageFault, err, "storage write failed")
	}
	s.sub.Request(1)
	return nil
}

func (s *chunkSubscriber) OnComplete() { s.done <- nil }
func (s *chunkSubscriber) OnError(err error) { s.done <- err }

// RunWriter implements the upload pipeline of §4.4: inbound source ->
// decoder/row-counter -> storage-writer. The row-counter and storage-writer
// stages run concurrently over the same bytes via an io.Pipe tee, so a
// single pass over the inbound stream both counts rows and lands bytes on
// the backend — any decoder or writer error cancels the inbound source and
// the pipeline completes with that error, releasing whatever chunks are
// still in flight.
func RunWriter(ctx context.Context, src ChunkSource, c codec.Codec, backend storagebackend.Backend, path string) (WriteResult, error) {
	out, err := backend.Writer(ctx, path)
	if err != nil {
		return WriteResult{}, err
	}

	pr, pw := io.Pipe()
	countCh := make(chan countResult, 1)
	go func() {
		rows, err := c.CountRows(pr)
		if err != nil {
			// Fail the tee's next write so Run stops pulling from src.
			err = dataerr.Wrap(dataerr.InputInvalid, err, "decoding payload for row count")
			pr.CloseWithError(err)
		} else {
			// Drain whatever the codec left unread so the tee never blocks.
			_, _ = io.Copy(io.Discard, pr)
		}
		countCh <- countResult{rows: rows, err: err}
	}()

	mw := io.MultiWriter(out, pw)
	sub := &chunkSubscriber{dst: mw, done: make(chan error, 1)}

	Run(ctx, src, sub)
	writeErr := <-sub.done

	pw.CloseWithError(writeErr)
	closeErr := out.Close()

	cr := <-countCh

	if writeErr != nil {
		if cr.err != nil && errors.Is(writeErr, cr.err) {
			return WriteResult{}, cr.err
		}
		return WriteResult{}, writeErr
	}
	if closeErr != nil {
		return WriteResult{}, dataerr.Wrap(dataerr.StorageFault, closeErr, "closing storage writer for %s", path)
	}
	if cr.err != nil {
		return WriteResult{}, cr.err
	}

	return WriteResult{BytesWritten: sub.bytes, RowCount: cr.rows}, nil
}

type countResult struct {
	rows int64
	err  error
}

// RunRawWriter implements the upload pipeline for FILE objects: inbound
// source -> storage-writer directly, with no decode/row-counting stage (only
// DATA objects carry a row count, per §3).
func RunRawWriter(ctx context.Context, src ChunkSource, backend storagebackend.Backend, path string) (WriteResult, error) {
	out, err := backend.Writer(ctx, path)
	if err != nil {
		return WriteResult{}, err
	}

	sub := &chunkSubscriber{dst: out, done: make(chan error, 1)}
	Run(ctx, src, sub)
	writeErr := <-sub.done

	closeErr := out.Close()
	if writeErr != nil {
		return WriteResult{}, writeErr
	}
	if closeErr != nil {
		return WriteResult{}, dataerr.Wrap(dataerr.StorageFault, closeErr, "closing storage writer for %s", path)
	}
	return WriteResult{BytesWritten: sub.bytes}, nil
}
