// Package adapter translates between pkg/dataplane's typed request/result
// values and the abstract streaming transport of §4.6. The concrete wire
// transport (gRPC, HTTP/2, ...) is external (§1); this package defines only
// the boundary interfaces a transport implements plus the adapter logic
// that drives them: delayed-start suppression of the duplicate first
// Request(1), and unary-vs-in-stream error surfacing.
package adapter

import (
	"context"
	"sync"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/pipeline"
)

// InboundStream is what a transport exposes for a client-streaming upload:
// Recv returns the next chunk of bytes, io.EOF once the client half-closes.
type InboundStream interface {
	Recv(ctx context.Context) ([]byte, error)
}

// OutboundMessage is one logical message a download adapter emits: either
// the first message (schema/stat, IsFirst true) or a payload chunk.
type OutboundMessage struct {
	IsFirst bool
	Schema  interface{} // *types.SchemaDefinition or *types.FileDefinition, transport-specific framing
	Payload []byte
}

// OutboundStream is what a transport exposes for a server-streaming
// download.
type OutboundStream interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// inboundSource adapts an InboundStream into a pipeline.ChunkSource,
// buffering inbound messages into the write pipeline's source while
// honouring backpressure (§4.6 "Upload adapter").
type inboundSource struct {
	stream InboundStream
}

// NewUploadSource wraps a transport's InboundStream as a pipeline.ChunkSource.
func NewUploadSource(stream InboundStream) pipeline.ChunkSource {
	return &inboundSource{stream: stream}
}

func (s *inboundSource) Next(ctx context.Context) (pipeline.Chunk, error) {
	data, err := s.stream.Recv(ctx)
	if err != nil {
		return pipeline.Chunk{}, err
	}
	return pipeline.NewChunk(data, nil), nil
}

// DownloadWriter adapts an OutboundStream into the pipeline.OutboundWriter
// the read pipeline emits payload chunks through. The first logical message
// (schema/stat) is sent separately via SendFirst before Stream is invoked,
// per §4.6: "the first logical message from the state machine becomes the
// first transport message".
type DownloadWriter struct {
	stream    OutboundStream
	mu        sync.Mutex
	firstSent bool
}

func NewDownloadWriter(stream OutboundStream) *DownloadWriter {
	return &DownloadWriter{stream: stream}
}

// SendFirst emits the schema/stat message. It must be called before Emit.
func (w *DownloadWriter) SendFirst(ctx context.Context, schema interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.stream.Send(ctx, OutboundMessage{IsFirst: true, Schema: schema}); err != nil {
		return err
	}
	w.firstSent = true
	return nil
}

func (w *DownloadWriter) Emit(ctx context.Context, data []byte) error {
	return w.stream.Send(ctx, OutboundMessage{Payload: data})
}

// FirstSent reports whether SendFirst has already succeeded, which the
// caller uses to decide whether a subsequent error is a unary failure
// (first message never went out) or an in-stream error terminator
// (§4.6: "on error, if the first message has not yet been sent the error
// is surfaced as a unary failure, otherwise... an in-stream error
// terminator").
func (w *DownloadWriter) FirstSent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstSent
}

// ConnectGate realises the "delayed-start protocol" of §4.4/§4.6: the
// transport requests one message on connect before the main handler even
// runs, and the handler's own first Request(1) call (issued once it starts)
// must be suppressed as a duplicate so only one credit of 1 is ever
// outstanding before the handler begins consuming.
type ConnectGate struct {
	once sync.Once
}

// NewConnectGate returns a gate a download/upload adapter installs around
// the subscription's Request calls once the transport has already
// requested one message on connect.
func NewConnectGate() *ConnectGate { return &ConnectGate{} }

// Suppress drops the first call it ever sees (the handler's own initial
// Request(1)); every subsequent call passes through to fn unchanged.
func (g *ConnectGate) Suppress(fn func()) {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		fn()
	}
}

// ErrorOutcome classifies how an adapter should surface err to the
// transport: as a unary failure (nothing sent yet) or an in-stream
// terminator.
type ErrorOutcome int

const (
	UnaryFailure ErrorOutcome = iota
	StreamTerminator
)

// Classify applies the §4.6 rule given whether the first message has
// already gone out.
func Classify(firstSent bool) ErrorOutcome {
	if firstSent {
		return StreamTerminator
	}
	return UnaryFailure
}

// WireKind exposes the dataerr.Kind -> wire category mapping (§7) for a
// transport adapter to pick a status code; kept here rather than re-derived
// per transport so every adapter maps errors identically.
func WireKind(err error) (dataerr.Kind, string) {
	kind := dataerr.KindOf(err)
	return kind, kind.WireCategory()
}
