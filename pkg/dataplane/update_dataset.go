package dataplane

import (
	"context"
	"fmt"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/guard"
	"github.com/cuemby/dataplane/pkg/metrics"
	"github.com/cuemby/dataplane/pkg/pipeline"
	"github.com/cuemby/dataplane/pkg/types"
)

// UpdateDatasetRequest is the first-message payload of update_dataset (§6).
type UpdateDatasetRequest struct {
	Tenant        string
	Principal     types.Principal
	Prior         types.Selector
	Format        string
	SchemaLiteral *types.SchemaDefinition
	SchemaID      *types.Selector
	PartKey       string
	StorageKey    string
	TagUpdates    []types.TagUpdate
	Payload       pipeline.ChunkSource
}

// UpdateDataset implements updateDataset's stage sequence (§4.1): load
// prior, resolve schema, build definitions, version-guard (incl. schema
// compatibility), supersession-check, stream, finalise, commit.
func (s *Service) UpdateDataset(ctx context.Context, req UpdateDatasetRequest) (hdr types.ObjectHeader, err error) {
	const op = "update_dataset"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	priorTag, err := s.loadPrior(ctx, req.Tenant, req.Prior)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if priorTag.Header.ObjectType != types.ObjectTypeData || priorTag.Data == nil {
		err := dataerr.New(dataerr.WrongType, "selector does not name a DATA object")
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	c, err := s.codecs.Resolve(req.Format)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	schema, err := s.resolveSchema(ctx, req.Tenant, req.SchemaLiteral, req.SchemaID, priorTag)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	newVersion := priorTag.Header.ObjectVersion + 1
	if err := guard.CheckVersionTransition(priorTag.Header.ObjectVersion, newVersion, priorTag.Header.ObjectType, types.ObjectTypeData); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if err := guard.CheckSchemaCompatible(priorTag.Data.Schema, schema); err != nil {
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

	partKey := req.PartKey
	if partKey == "" {
		partKey = defaultPartKey
	}
	snapIndex := newVersion - 1 // snap_index increments on every update (§3)

	suffix, err := s.suffixes.Suffix()
	if err != nil {
		err = dataerr.Wrap(dataerr.Internal, err, "draw storage path suffix")
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	storagePath := DataDeltaPath(priorTag.Header.ObjectID, partKey, snapIndex, suffix, c.FileExtension())
	dataItem := fmt.Sprintf("data-%s-%s-s%d", priorTag.Header.ObjectID, partKey, snapIndex)

	priorStorageTag, err := s.catalogue.ReadObject(ctx, req.Tenant, priorTag.Data.StorageID)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if err := guard.CheckSupersession(priorStorageTag.Storage, dataItem); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	metrics.ActivePipelines.WithLabelValues("upload").Inc()
	wr, err := pipeline.RunWriter(ctx, req.Payload, c, backend, storagePath)
	metrics.ActivePipelines.WithLabelValues("upload").Dec()
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(wr.BytesWritten))
	metrics.RowsTransferred.WithLabelValues("upload").Add(float64(wr.RowCount))

	parts := map[string]*types.Part{}
	for k, p := range priorTag.Data.Parts {
		parts[k] = p
	}
	// The replaced part's own delta history is superseded, not merged: only
	// the new current snap is retained (§3 "A Part has a current Snap").
	parts[partKey] = &types.Part{
		PartKey: partKey,
		Current: types.Snap{SnapIndex: snapIndex, Deltas: []types.Delta{
			{DeltaIndex: 0, DataItem: dataItem, PhysicalRowCount: wr.RowCount, DeltaRowCount: wr.RowCount},
		}},
	}

	storageVersion := priorTag.Data.StorageID.ObjectVersion + 1
	dataDef := &types.DataDefinition{
		Schema:    schema,
		Parts:     parts,
		RowCount:  guard.ExpectedRowCount(parts),
		StorageID: types.ExplicitSelector(priorTag.Data.StorageID.ObjectID, storageVersion, 1),
	}
	storageDef := mergeStorageItems(priorStorageTag.Storage, dataItem, newStorageItem(storageKey, storagePath, req.Format, s.now()))

	dataTags := append([]types.TagUpdate{
		{AttrName: attrRowCount, Op: types.TagOpReplace, Value: dataDef.RowCount},
	}, req.TagUpdates...)

	result, err := s.catalogue.WriteBatch(ctx, req.Tenant, catalogue.WriteBatchRequest{
		UpdateObject: []catalogue.UpdateObjectEntry{
			{ObjectID: priorTag.Header.ObjectID, ObjectType: types.ObjectTypeData, PriorVersion: priorTag.Header.ObjectVersion, Data: dataDef, TagUpdates: dataTags},
			{ObjectID: priorTag.Data.StorageID.ObjectID, ObjectType: types.ObjectTypeStorage, PriorVersion: priorTag.Data.StorageID.ObjectVersion, Storage: storageDef},
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
