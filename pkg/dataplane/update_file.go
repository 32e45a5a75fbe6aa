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

// UpdateFileRequest is the first-message payload of update_file (§6).
type UpdateFileRequest struct {
	Tenant       string
	Principal    types.Principal
	Prior        types.Selector
	Name         string
	DeclaredSize int64
	StorageKey   string
	TagUpdates   []types.TagUpdate
	Payload      pipeline.ChunkSource
}

// UpdateFile implements updateFile's stage sequence (§4.1): load prior,
// build definitions, version-guard, supersession-check, stream, finalise,
// commit.
func (s *Service) UpdateFile(ctx context.Context, req UpdateFileRequest) (hdr types.ObjectHeader, err error) {
	const op = "update_file"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	priorTag, err := s.loadPrior(ctx, req.Tenant, req.Prior)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if priorTag.Header.ObjectType != types.ObjectTypeFile || priorTag.File == nil {
		err := dataerr.New(dataerr.WrongType, "selector does not name a FILE object")
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	newVersion := priorTag.Header.ObjectVersion + 1
	ext := deriveExtension(req.Name)

	if err := guard.CheckVersionTransition(priorTag.Header.ObjectVersion, newVersion, priorTag.Header.ObjectType, types.ObjectTypeFile); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if err := guard.CheckFileImmutable(*priorTag.File, types.FileDefinition{Extension: ext, MimeType: priorTag.File.MimeType}); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	rt, storageKey, err := s.resolveStorage(req.Tenant, req.StorageKey)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	backend, err := rt.Storage.FileStorage(storageKey)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	suffix, err := s.suffixes.Suffix()
	if err != nil {
		err = dataerr.Wrap(dataerr.Internal, err, "draw storage path suffix")
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	storagePath := FilePath(priorTag.Header.ObjectID, newVersion, suffix, req.Name)
	dataItem := fmt.Sprintf("file-%s-v%d", priorTag.Header.ObjectID, newVersion)

	priorStorageTag, err := s.catalogue.ReadObject(ctx, req.Tenant, priorTag.File.StorageID)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	if err := guard.CheckSupersession(priorStorageTag.Storage, dataItem); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	metrics.ActivePipelines.WithLabelValues("upload").Inc()
	wr, err := pipeline.RunRawWriter(ctx, req.Payload, backend, storagePath)
	metrics.ActivePipelines.WithLabelValues("upload").Dec()
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(wr.BytesWritten))
	if err := guard.CheckDeclaredSize(req.DeclaredSize, wr.BytesWritten); err != nil {
		s.orphans.ReportOrphan(ctx, req.Tenant, storageKey, storagePath)
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	storageVersion := priorTag.File.StorageID.ObjectVersion + 1
	fileDef := &types.FileDefinition{
		Name: req.Name, Extension: priorTag.File.Extension, MimeType: priorTag.File.MimeType, Size: wr.BytesWritten,
		DataItem:  dataItem,
		StorageID: types.ExplicitSelector(priorTag.File.StorageID.ObjectID, storageVersion, 1),
	}
	storageDef := mergeStorageItems(priorStorageTag.Storage, dataItem, newStorageItem(storageKey, storagePath, "", s.now()))

	fileTags := append([]types.TagUpdate{
		{AttrName: attrName, Op: types.TagOpReplace, Value: req.Name},
		{AttrName: attrSize, Op: types.TagOpReplace, Value: wr.BytesWritten},
	}, req.TagUpdates...)

	result, err := s.catalogue.WriteBatch(ctx, req.Tenant, catalogue.WriteBatchRequest{
		UpdateObject: []catalogue.UpdateObjectEntry{
			{ObjectID: priorTag.Header.ObjectID, ObjectType: types.ObjectTypeFile, PriorVersion: priorTag.Header.ObjectVersion, File: fileDef, TagUpdates: fileTags},
			{ObjectID: priorTag.File.StorageID.ObjectID, ObjectType: types.ObjectTypeStorage, PriorVersion: priorTag.File.StorageID.ObjectVersion, Storage: storageDef},
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
