package dataplane

import (
	"context"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/metrics"
	"github.com/cuemby/dataplane/pkg/pipeline"
	"github.com/cuemby/dataplane/pkg/types"
)

// ReadFileRequest addresses one FILE object version for a download (§6).
type ReadFileRequest struct {
	Tenant   string
	Selector types.Selector
	Offset   int64
	Limit    int64 // negative means unbounded, per §4.4
}

// ReadFileResult carries the resolved header/stat (the adapter's first
// outbound message, §4.6) plus a Stream func the adapter invokes once it is
// ready to receive payload chunks.
type ReadFileResult struct {
	Header types.ObjectHeader
	File   types.FileDefinition
	Stream func(ctx context.Context, out pipeline.OutboundWriter) error
}

// ReadFile implements the read pipeline of §4.1 for FILE objects: resolve
// the tag and selected copy (stages 1-2), leaving the byte stream (stages
// 3-4) to the returned Stream closure so the adapter can emit the stat
// message first.
func (s *Service) ReadFile(ctx context.Context, req ReadFileRequest) (res *ReadFileResult, err error) {
	const op = "read_file"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	tag, err := s.catalogue.ReadObject(ctx, req.Tenant, req.Selector)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}
	if tag.Header.ObjectType != types.ObjectTypeFile || tag.File == nil {
		err := dataerr.New(dataerr.WrongType, "selector does not name a FILE object")
		logFailure(reqLog, op, err)
		return nil, err
	}

	storageTag, err := s.catalogue.ReadObject(ctx, req.Tenant, tag.File.StorageID)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}
	cp, err := selectCopy(storageTag.Storage, tag.File.DataItem)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}

	rt, err := s.registry.Tenant(req.Tenant)
	if err != nil {
		return nil, err
	}
	backend, err := rt.Storage.FileStorage(cp.StorageKey)
	if err != nil {
		return nil, err
	}

	logSuccess(reqLog, op, tag.Header.ObjectID)
	return &ReadFileResult{
		Header: tag.Header,
		File:   *tag.File,
		Stream: func(ctx context.Context, out pipeline.OutboundWriter) error {
			metrics.ActivePipelines.WithLabelValues("download").Inc()
			defer metrics.ActivePipelines.WithLabelValues("download").Dec()
			return pipeline.RunFileReader(ctx, backend, cp.StoragePath, req.Offset, req.Limit, out)
		},
	}, nil
}

// ReadDatasetRequest addresses one DATA object version for a download (§6).
type ReadDatasetRequest struct {
	Tenant   string
	Selector types.Selector
	Format   string
	Offset   int64
	Limit    int64
	PartKey  string
}

// ReadDatasetResult mirrors ReadFileResult for DATA objects: the resolved
// schema is the adapter's first outbound message.
type ReadDatasetResult struct {
	Header   types.ObjectHeader
	Schema   types.SchemaDefinition
	RowCount int64
	Stream   func(ctx context.Context, out pipeline.OutboundWriter) error
}

// ReadDataset implements the read pipeline of §4.1 for DATA objects.
func (s *Service) ReadDataset(ctx context.Context, req ReadDatasetRequest) (res *ReadDatasetResult, err error) {
	const op = "read_dataset"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	tag, err := s.catalogue.ReadObject(ctx, req.Tenant, req.Selector)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}
	if tag.Header.ObjectType != types.ObjectTypeData || tag.Data == nil {
		err := dataerr.New(dataerr.WrongType, "selector does not name a DATA object")
		logFailure(reqLog, op, err)
		return nil, err
	}

	// The schema tag (if external) and the storage tag are both known from
	// the main tag alone, so resolve them in one round trip via ReadBatch
	// rather than two sequential ReadObject calls.
	sels := []types.Selector{tag.Data.StorageID}
	schemaIdx := -1
	if tag.Data.Schema.SchemaID != nil {
		schemaIdx = len(sels)
		sels = append(sels, *tag.Data.Schema.SchemaID)
	}
	batch, err := s.catalogue.ReadBatch(ctx, req.Tenant, sels)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}
	storageTag := batch[0]

	schema := tag.Data.Schema
	if schemaIdx >= 0 && batch[schemaIdx] != nil && batch[schemaIdx].Data != nil {
		schema = batch[schemaIdx].Data.Schema
		schema.SchemaID = tag.Data.Schema.SchemaID
	}

	partKey := req.PartKey
	if partKey == "" {
		partKey = defaultPartKey
	}
	part, ok := tag.Data.Parts[partKey]
	if !ok {
		err := dataerr.New(dataerr.Missing, "part %q not found on object %s", partKey, tag.Header.ObjectID)
		logFailure(reqLog, op, err)
		return nil, err
	}
	if len(part.Current.Deltas) == 0 {
		err := dataerr.New(dataerr.Internal, "part %q has no deltas", partKey)
		logFailure(reqLog, op, err)
		return nil, err
	}
	dataItem := part.Current.Deltas[len(part.Current.Deltas)-1].DataItem

	cp, err := selectCopy(storageTag.Storage, dataItem)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}

	format := req.Format
	if format == "" {
		format = cp.StorageFormat
	}
	c, err := s.codecs.Resolve(format)
	if err != nil {
		logFailure(reqLog, op, err)
		return nil, err
	}

	rt, err := s.registry.Tenant(req.Tenant)
	if err != nil {
		return nil, err
	}
	backend, err := rt.Storage.DataStorage(cp.StorageKey)
	if err != nil {
		return nil, err
	}

	logSuccess(reqLog, op, tag.Header.ObjectID)
	return &ReadDatasetResult{
		Header:   tag.Header,
		Schema:   schema,
		RowCount: tag.Data.RowCount,
		Stream: func(ctx context.Context, out pipeline.OutboundWriter) error {
			metrics.ActivePipelines.WithLabelValues("download").Inc()
			defer metrics.ActivePipelines.WithLabelValues("download").Dec()
			return pipeline.RunDataReader(ctx, backend, cp.StoragePath, c, schema, req.Offset, req.Limit, out)
		},
	}, nil
}

// selectCopy picks the storage copy to read for dataItem: the latest
// available copy of the latest incarnation (§9: more than one may be read,
// though this core only ever produces one).
func selectCopy(storage *types.StorageDefinition, dataItem string) (types.Copy, error) {
	if storage == nil {
		return types.Copy{}, dataerr.New(dataerr.Missing, "no storage definition to resolve data_item %q", dataItem)
	}
	item, ok := storage.DataItems[dataItem]
	if !ok || len(item.Incarnations) == 0 {
		return types.Copy{}, dataerr.New(dataerr.Missing, "data_item %q not found in storage definition", dataItem)
	}
	incarnation := item.Incarnations[len(item.Incarnations)-1]
	for i := len(incarnation.Copies) - 1; i >= 0; i-- {
		if incarnation.Copies[i].Status == types.CopyStatusAvailable {
			return incarnation.Copies[i], nil
		}
	}
	return types.Copy{}, dataerr.New(dataerr.Missing, "no available copy for data_item %q", dataItem)
}
