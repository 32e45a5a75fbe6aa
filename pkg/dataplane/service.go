// Package dataplane implements the request state machine of §4.1: the
// ordered sequence of stages that drives each create/update/read request,
// coordinating the metadata catalogue (pkg/catalogue), the version guard
// (pkg/guard), the streaming storage pipeline (pkg/pipeline), and the
// tenant runtime registry (pkg/registry).
package dataplane

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/guard"
	"github.com/cuemby/dataplane/pkg/log"
	"github.com/cuemby/dataplane/pkg/metrics"
	"github.com/cuemby/dataplane/pkg/pipeline"
	"github.com/cuemby/dataplane/pkg/registry"
	"github.com/cuemby/dataplane/pkg/types"
)

// OrphanReporter is notified of a storage_path that was written but whose
// owning catalogue commit did not land, per §9's "Open question": the core
// never deletes these, it only reports them to an out-of-band collector.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, tenant, storageKey, storagePath string)
}

type noopOrphanReporter struct{}

func (noopOrphanReporter) ReportOrphan(context.Context, string, string, string) {}

// Service is the request state machine: one method per top-level operation
// in §4.1, each running its own ordered stage sequence over a local
// request/result value. Constructed with every collaborator passed in
// explicitly, never resolved through an ambient global.
type Service struct {
	catalogue catalogue.Client
	registry  *registry.Registry
	codecs    *codec.Registry
	suffixes  RandomSuffixSource
	orphans   OrphanReporter
	log       zerolog.Logger
	now       func() time.Time
}

// New constructs a Service from its collaborators with the production
// suffix source (crypto/rand) and clock (time.Now); tests replace them via
// WithSuffixSource and WithClock. A nil orphans reporter becomes a no-op.
func New(cat catalogue.Client, reg *registry.Registry, codecs *codec.Registry, orphans OrphanReporter, log zerolog.Logger) *Service {
	if orphans == nil {
		orphans = noopOrphanReporter{}
	}
	return &Service{
		catalogue: cat,
		registry:  reg,
		codecs:    codecs,
		suffixes:  DefaultSuffixSource(),
		orphans:   orphans,
		log:       log,
		now:       time.Now,
	}
}

// WithSuffixSource overrides the random path-suffix source (tests).
func (s *Service) WithSuffixSource(src RandomSuffixSource) *Service {
	s.suffixes = src
	return s
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// deriveExtension mirrors the "extension (derived)" field of the File
// definition entity (§3): the suffix of name after the last dot, or "" if
// name carries none.
func deriveExtension(name string) string {
	ext := path.Ext(name)
	return strings.TrimPrefix(ext, ".")
}

// loadPrior fetches the prior DATA/FILE tag (stage 1 of §4.1, update path).
// Fails MISSING if the selector does not resolve.
func (s *Service) loadPrior(ctx context.Context, tenant string, sel types.Selector) (*types.Tag, error) {
	tag, err := s.catalogue.ReadObject(ctx, tenant, sel)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// resolveSchema implements stage 2 (data only): adopt a literal schema,
// fetch an external schema object, or reuse the prior's cached schema when
// an update names the same schema id.
func (s *Service) resolveSchema(ctx context.Context, tenant string, literal *types.SchemaDefinition, schemaID *types.Selector, prior *types.Tag) (types.SchemaDefinition, error) {
	if literal != nil {
		return *literal, nil
	}
	if schemaID == nil {
		return types.SchemaDefinition{}, dataerr.New(dataerr.InputInvalid, "request supplies neither a schema literal nor a schema id")
	}
	if prior != nil && prior.Data != nil && prior.Data.Schema.SchemaID != nil && sameSelector(*prior.Data.Schema.SchemaID, *schemaID) {
		return prior.Data.Schema, nil
	}
	schemaTag, err := s.catalogue.ReadObject(ctx, tenant, *schemaID)
	if err != nil {
		return types.SchemaDefinition{}, err
	}
	if schemaTag.Data == nil {
		return types.SchemaDefinition{}, dataerr.New(dataerr.InputInvalid, "selector %v does not name a schema object", schemaID)
	}
	schema := schemaTag.Data.Schema
	schema.SchemaID = schemaID
	return schema, nil
}

func sameSelector(a, b types.Selector) bool {
	return a.Kind == b.Kind && a.ObjectID == b.ObjectID && a.ObjectVersion == b.ObjectVersion && a.TagVersion == b.TagVersion
}

// preallocate implements stage 3 (create only): one batched call requesting
// both a DATA/FILE id and a STORAGE id.
func (s *Service) preallocate(ctx context.Context, tenant string, objectKind types.ObjectType) (uuid.UUID, uuid.UUID, error) {
	ids, err := s.catalogue.PreallocateBatch(ctx, tenant, []types.ObjectType{objectKind, types.ObjectTypeStorage})
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if len(ids) != 2 {
		return uuid.Nil, uuid.Nil, dataerr.New(dataerr.Internal, "preallocate returned %d ids, expected 2", len(ids))
	}
	return ids[0], ids[1], nil
}

// resolveStorage looks up the backend for storageKey, falling back to the
// tenant's default bucket when storageKey is empty.
func (s *Service) resolveStorage(tenant, storageKey string) (*registry.TenantRuntime, string, error) {
	rt, err := s.registry.Tenant(tenant)
	if err != nil {
		return nil, "", err
	}
	if storageKey == "" {
		storageKey = rt.Storage.DefaultLocation()
	}
	if storageKey == "" {
		return nil, "", dataerr.New(dataerr.InputInvalid, "no storage_key given and tenant has no default bucket")
	}
	return rt, storageKey, nil
}

// requestLogger derives the per-request logger every Service method builds
// at its first statement: a child of s.log carrying tenant and request_id
// fields, so every log line for one request can be correlated even though
// no RequestState value threads through the stage sequence itself (§9).
func (s *Service) requestLogger(tenant string) zerolog.Logger {
	return log.WithRequestID(log.WithTenant(s.log, tenant), uuid.NewString())
}

func logFailure(rl zerolog.Logger, op string, err error) {
	rl.Error().Err(err).Str("op", op).Str("kind", string(dataerr.KindOf(err))).Msg("request failed")
}

// logSuccess emits the accepted counterpart to logFailure once an operation
// commits, scoping rl with the committed object's id.
func logSuccess(rl zerolog.Logger, op string, objectID uuid.UUID) {
	log.WithObjectID(rl, objectID.String()).Info().Str("op", op).Msg("request committed")
}

// instrument records dataplane_requests_total/dataplane_request_duration_seconds
// for one operation invocation; called via defer from every Service method
// so every stage-sequence outcome, success or typed failure, is counted.
func (s *Service) instrument(op string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(dataerr.KindOf(err))
	}
	metrics.RequestsTotal.WithLabelValues(op, kind).Inc()
	metrics.RequestDuration.WithLabelValues(op).Observe(s.now().Sub(start).Seconds())
}

// newStorageItem builds the StorageItem for a freshly written data item: a
// single incarnation holding a single copy, per §3's "only the first
// incarnation/copy is produced; more may be read".
func newStorageItem(storageKey, storagePath, format string, ts time.Time) *types.StorageItem {
	return &types.StorageItem{
		Incarnations: []types.Incarnation{
			{
				IncarnationIndex: 0,
				Timestamp:        ts,
				Status:           types.IncarnationStatusAvailable,
				Copies: []types.Copy{
					{StorageKey: storageKey, StoragePath: storagePath, StorageFormat: format, Status: types.CopyStatusAvailable, Timestamp: ts},
				},
			},
		},
	}
}

// mergeStorageItems retains prior data items and adds a new one, per stage 4
// of §4.1 ("for updates, retain prior parts/incarnations and only *add* the
// new data_item") and invariant 3 (data_item keys are append-only).
func mergeStorageItems(prior *types.StorageDefinition, newDataItem string, newItem *types.StorageItem) *types.StorageDefinition {
	items := map[string]*types.StorageItem{}
	if prior != nil {
		for k, v := range prior.DataItems {
			items[k] = v
		}
	}
	items[newDataItem] = newItem
	return &types.StorageDefinition{DataItems: items}
}
