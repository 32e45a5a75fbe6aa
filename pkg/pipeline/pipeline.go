// Package pipeline implements the reactive-streams-style primitives of
// §4.4: a chunk is an owned, ref-counted buffer; a subscription carries
// request(n) backpressure; a subscriber exposes onSubscribe/onNext/
// onComplete/onError. Writer and reader pipelines (writer.go, reader.go)
// compose these primitives with a codec and an object-store backend.
package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/cuemby/dataplane/pkg/dataerr"
)

// Chunk is an owned byte buffer. Ownership passes from producer to
// consumer; the consumer must call Release exactly once when done with the
// bytes, which Release enforces via sync.Once so a double-release is safe.
type Chunk struct {
	Data    []byte
	release func()
	once    sync.Once
}

// NewChunk wraps data with an optional release callback (e.g. returning a
// buffer to a pool). release may be nil for chunks with no pooled backing.
func NewChunk(data []byte, release func()) Chunk {
	return Chunk{Data: data, release: release}
}

func (c *Chunk) Release() {
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Subscription is the backpressure handle a Publisher gives to a Subscriber:
// Request asks for up to n more onNext calls; Cancel tears the pipeline down
// from the subscriber side.
type Subscription interface {
	Request(n int64)
	Cancel()
}

// Subscriber is a pipeline stage or sink.
type Subscriber interface {
	OnSubscribe(sub Subscription)
	OnNext(chunk Chunk) error
	OnComplete()
	OnError(err error)
}

// ChunkSource is the pull-side contract a pipeline source exposes: Next
// blocks until a chunk is available, ctx is cancelled, or the source is
// exhausted (io.EOF).
type ChunkSource interface {
	Next(ctx context.Context) (Chunk, error)
}

type subscription struct {
	requestCh chan int64
	cancel    context.CancelFunc
}

func (s *subscription) Request(n int64) {
	if n <= 0 {
		return
	}
	select {
	case s.requestCh <- n:
	default:
		// Should not happen in practice (buffered deeply enough for this
		// module's single-consumer pipelines); drop rather than block the
		// requester, matching the non-blocking-send idiom used elsewhere.
	}
}

func (s *subscription) Cancel() { s.cancel() }

// Run drives src into sub honouring backpressure: sub must call
// Request(n) via the Subscription handed to OnSubscribe before any chunks
// flow. Run returns once OnComplete or OnError has been delivered.
func Run(ctx context.Context, src ChunkSource, sub Subscriber) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requestCh := make(chan int64, 64)
	sub.OnSubscribe(&subscription{requestCh: requestCh, cancel: cancel})

	var credit int64
	for {
		if credit <= 0 {
			select {
			case n := <-requestCh:
				credit += n
				continue
			case <-ctx.Done():
				sub.OnError(dataerr.Wrap(dataerr.Cancelled, ctx.Err(), "pipeline cancelled"))
				return
			}
		}

		select {
		case n := <-requestCh:
			credit += n
			continue
		case <-ctx.Done():
			sub.OnError(dataerr.Wrap(dataerr.Cancelled, ctx.Err(), "pipeline cancelled"))
			return
		default:
		}

		chunk, err := src.Next(ctx)
		if err == io.EOF {
			sub.OnComplete()
			return
		}
		if err != nil {
			sub.OnError(err)
			return
		}
		if err := sub.OnNext(chunk); err != nil {
			sub.OnError(err)
			return
		}
		credit--
	}
}

// sliceSource adapts a fixed slice of chunks into a ChunkSource, used by
// tests and by adapters bridging a non-streaming transport.
type sliceSource struct {
	chunks []Chunk
	idx    int
}

func NewSliceSource(chunks []Chunk) ChunkSource { return &sliceSource{chunks: chunks} }

func (s *sliceSource) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.idx >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
