package pipeline

import (
	"context"
	"io"

	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/storagebackend"
	"github.com/cuemby/dataplane/pkg/types"
)

// OutboundWriter is the transport-facing sink for the download adapter:
// Emit delivers one chunk of payload (the first call on a given stream
// should instead go through the adapter's schema/stat message, not this).
type OutboundWriter interface {
	Emit(ctx context.Context, data []byte) error
}

// RunFileReader implements the download pipeline for FILE objects: byte
// offset/limit are applied directly by the backend before any bytes are
// read, so no codec involvement is required (§4.4: "byte-skip / byte-limit
// for files").
func RunFileReader(ctx context.Context, backend storagebackend.Backend, path string, offset, limit int64, out OutboundWriter) error {
	r, err := backend.Reader(ctx, path, offset, limit)
	if err != nil {
		return err
	}
	defer r.Close()

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return dataerr.Wrap(dataerr.Cancelled, err, "read cancelled")
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := out.Emit(ctx, append([]byte(nil), buf[:n]...)); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return dataerr.Wrap(dataerr.StorageFault, readErr, "reading %s", path)
		}
	}
}

// RunDataReader implements the download pipeline for DATA objects: decode
// rows, apply row-skip/row-limit, re-encode in the requested format, and
// emit the encoded bytes. A negative limit means unbounded.
func RunDataReader(ctx context.Context, backend storagebackend.Backend, path string, c codec.Codec, schema types.SchemaDefinition, offset, limit int64, out OutboundWriter) error {
	r, err := backend.Reader(ctx, path, 0, -1)
	if err != nil {
		return err
	}
	defer r.Close()

	dec, err := c.NewDecoder(r, schema)
	if err != nil {
		return dataerr.Wrap(dataerr.InputInvalid, err, "decoding stored payload")
	}

	pr, pw := io.Pipe()
	encodeErrCh := make(chan error, 1)
	go func() {
		enc, err := c.NewEncoder(pw, schema)
		if err != nil {
			pw.CloseWithError(err)
			encodeErrCh <- err
			return
		}

		var skipped, emitted int64
		for {
			if err := ctx.Err(); err != nil {
				pw.CloseWithError(err)
				encodeErrCh <- dataerr.Wrap(dataerr.Cancelled, err, "read cancelled")
				return
			}
			row, err := dec.ReadRow()
			if err == io.EOF {
				break
			}
			if err != nil {
				pw.CloseWithError(err)
				encodeErrCh <- dataerr.Wrap(dataerr.StorageFault, err, "decoding row")
				return
			}
			if skipped < offset {
				skipped++
				continue
			}
			if limit >= 0 && emitted >= limit {
				continue
			}
			if err := enc.WriteRow(row); err != nil {
				pw.CloseWithError(err)
				encodeErrCh <- dataerr.Wrap(dataerr.StorageFault, err, "encoding row")
				return
			}
			emitted++
		}
		if err := enc.Close(); err != nil {
			pw.CloseWithError(err)
			encodeErrCh <- err
			return
		}
		pw.Close()
		encodeErrCh <- nil
	}()

	buf := make([]byte, 64*1024)
	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			if err := out.Emit(ctx, append([]byte(nil), buf[:n]...)); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return <-encodeErrCh
}
