// Package catalogue defines the async client interface the data-plane core
// uses to talk to the external metadata catalogue (§4.2). The catalogue's
// own storage engine and consensus are out of scope for this module; this
// package only defines the boundary and, in the boltcat subpackage, a
// bbolt-backed reference implementation used for local operation and tests.
package catalogue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/dataplane/pkg/types"
)

// PreallocateEntry requests one fresh object id of the given kind.
type PreallocateEntry struct {
	ObjectType types.ObjectType
}

// CreatePreallocatedEntry graduates a pre-allocated id to version 1 by
// attaching its first definition and tag updates.
type CreatePreallocatedEntry struct {
	ObjectID   uuid.UUID
	ObjectType types.ObjectType
	File       *types.FileDefinition
	Data       *types.DataDefinition
	Storage    *types.StorageDefinition
	TagUpdates []types.TagUpdate
}

// UpdateObjectEntry commits a new version on top of PriorVersion.
type UpdateObjectEntry struct {
	ObjectID     uuid.UUID
	ObjectType   types.ObjectType
	PriorVersion int
	File         *types.FileDefinition
	Data         *types.DataDefinition
	Storage      *types.StorageDefinition
	TagUpdates   []types.TagUpdate
}

// SaveTagEntry appends a new tag_version on an already-committed version.
type SaveTagEntry struct {
	ObjectID   uuid.UUID
	ObjectType types.ObjectType
	Version    int
	PriorTag   int
	TagUpdates []types.TagUpdate
}

// WriteBatchRequest is the single batched write the coordinator issues per
// request; writeBatch is atomic across every entry listed in it.
type WriteBatchRequest struct {
	Preallocate       []PreallocateEntry
	CreatePreallocated []CreatePreallocatedEntry
	UpdateObject       []UpdateObjectEntry
	SaveTag            []SaveTagEntry
}

// WriteBatchResult carries the headers produced, positionally matching the
// concatenation of Preallocate, CreatePreallocated, UpdateObject, SaveTag.
type WriteBatchResult struct {
	Headers []types.ObjectHeader
}

// Client is the data-plane core's view of the metadata catalogue. All
// operations are asynchronous with respect to the caller's cancellation
// token; reads are idempotent under retry, writes are not and must never be
// retried by an implementation of this interface (§4.2).
type Client interface {
	PreallocateBatch(ctx context.Context, tenant string, kinds []types.ObjectType) ([]uuid.UUID, error)
	ReadObject(ctx context.Context, tenant string, sel types.Selector) (*types.Tag, error)
	ReadBatch(ctx context.Context, tenant string, sels []types.Selector) ([]*types.Tag, error)
	WriteBatch(ctx context.Context, tenant string, req WriteBatchRequest) (*WriteBatchResult, error)
}

// Instrumented wraps any Client with the dataplane_catalogue_* metrics,
// independent of which Client is underneath (boltcat, or a real RPC client
// against the external catalogue). The reference binary wraps whatever
// Client it constructs with this before handing it to pkg/dataplane.
type Instrumented struct {
	Client
	Observe func(method string, dur time.Duration, err error)
}

func (i Instrumented) PreallocateBatch(ctx context.Context, tenant string, kinds []types.ObjectType) ([]uuid.UUID, error) {
	start := time.Now()
	ids, err := i.Client.PreallocateBatch(ctx, tenant, kinds)
	i.Observe("preallocate_batch", time.Since(start), err)
	return ids, err
}

func (i Instrumented) ReadObject(ctx context.Context, tenant string, sel types.Selector) (*types.Tag, error) {
	start := time.Now()
	tag, err := i.Client.ReadObject(ctx, tenant, sel)
	i.Observe("read_object", time.Since(start), err)
	return tag, err
}

func (i Instrumented) ReadBatch(ctx context.Context, tenant string, sels []types.Selector) ([]*types.Tag, error) {
	start := time.Now()
	tags, err := i.Client.ReadBatch(ctx, tenant, sels)
	i.Observe("read_batch", time.Since(start), err)
	return tags, err
}

func (i Instrumented) WriteBatch(ctx context.Context, tenant string, req WriteBatchRequest) (*WriteBatchResult, error) {
	start := time.Now()
	res, err := i.Client.WriteBatch(ctx, tenant, req)
	i.Observe("write_batch", time.Since(start), err)
	return res, err
}
