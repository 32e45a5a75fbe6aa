package dataplane

import (
	"context"
	"fmt"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/metrics"
	"github.com/cuemby/dataplane/pkg/pipeline"
	"github.com/cuemby/dataplane/pkg/types"
)

const defaultPartKey = "default"

// CreateDatasetRequest is the first-message payload of create_dataset (§6).
// Exactly one of SchemaLiteral/SchemaID must be set.
type CreateDatasetRequest struct {
	Tenant       string
	Principal    types.Principal
	Format       string
	SchemaLiteral *types.SchemaDefinition
	SchemaID      *types.Selector
	PartKey       string
	StorageKey    string
	TagUpdates    []types.TagUpdate
	Payload       pipeline.ChunkSource
}

// CreateDataset implements createDataset's stage sequence (§4.1): resolve
// schema, pre-allocate, build definitions, stream, finalise, commit.
func (s *Service) CreateDataset(ctx context.Context, req CreateDatasetRequest) (hdr types.ObjectHeader, err error) {
	const op = "create_dataset"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	c, err := s.codecs.Resolve(req.Format)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	schema, err := s.resolveSchema(ctx, req.Tenant, req.SchemaLiteral, req.SchemaID, nil)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	rt, storageKey, err := s.resolveStorage(req.Tenant, req.StorageKey)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	backend, err := rt.Storage.DataStorage(storageKey)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	dataID, storageID, err := s.preallocate(ctx, req.Tenant, types.ObjectTypeData)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	partKey := req.PartKey
	if partKey == "" {
		partKey = defaultPartKey
	}

	suffix, err := s.suffixes.Suffix()
	if err != nil {
		err = dataerr.Wrap(dataerr.Internal, err, "draw storage path suffix")
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	storagePath := DataDeltaPath(dataID, partKey, 0, suffix, c.FileExtension())
	dataItem := fmt.Sprintf("data-%s-%s-s0", dataID, partKey)

	metrics.ActivePipelines.WithLabelValues("upload").Inc()
	wr, err := pipeline.RunWriter(ctx, req.Payload, c, backend, storagePath)
	metrics.ActivePipelines.WithLabelValues("upload").Dec()
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(wr.BytesWritten))
	metrics.RowsTransferred.WithLabelValues("upload").Add(float64(wr.RowCount))

	parts := map[string]*types.Part{
		partKey: {
			PartKey: partKey,
			Current: types.Snap{SnapIndex: 0, Deltas: []types.Delta{
				{DeltaIndex: 0, DataItem: dataItem, PhysicalRowCount: wr.RowCount, DeltaRowCount: wr.RowCount},
			}},
		},
	}

	dataDef := &types.DataDefinition{
		Schema:    schema,
		Parts:     parts,
		RowCount:  wr.RowCount,
		StorageID: types.ExplicitSelector(storageID, 1, 1),
	}
	storageDef := &types.StorageDefinition{DataItems: map[string]*types.StorageItem{
		dataItem: newStorageItem(storageKey, storagePath, req.Format, s.now()),
	}}

	dataTags := append([]types.TagUpdate{
		{AttrName: attrRowCount, Op: types.TagOpCreate, Value: wr.RowCount},
	}, req.TagUpdates...)
	if schema.SchemaID != nil {
		dataTags = append(dataTags, types.TagUpdate{AttrName: attrSchemaRef, Op: types.TagOpCreate, Value: *schema.SchemaID})
	}

	storageTags := []types.TagUpdate{
		{AttrName: attrOwnerStorage, Op: types.TagOpCreate, Value: types.ExplicitSelector(dataID, 1, 1)},
	}

	result, err := s.catalogue.WriteBatch(ctx, req.Tenant, catalogue.WriteBatchRequest{
		CreatePreallocated: []catalogue.CreatePreallocatedEntry{
			{ObjectID: dataID, ObjectType: types.ObjectTypeData, Data: dataDef, TagUpdates: dataTags},
			{ObjectID: storageID, ObjectType: types.ObjectTypeStorage, Storage: storageDef, TagUpdates: storageTags},
		},
	})
	if err != nil {
		s.orphans.ReportOrphan(ctx, req.Tenant, storageKey, storagePath)
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	logSuccess(reqLog, op, result.Headers[0].ObjectID)
	return result.Headers[0], nil
}
