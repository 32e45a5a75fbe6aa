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

// CreateFileRequest is the first-message payload of create_file (§6), plus
// the inbound byte stream as a pipeline.ChunkSource.
type CreateFileRequest struct {
	Tenant       string
	Principal    types.Principal
	Name         string
	MimeType     string
	DeclaredSize int64
	StorageKey   string
	TagUpdates   []types.TagUpdate
	Payload      pipeline.ChunkSource
}

// attrOwnerStorage is the storage tag attribute (§4.1 stage 8) linking a
// STORAGE object back to the DATA/FILE object that owns it.
const attrOwnerStorage = "owner"

const (
	attrName      = "name"
	attrExtension = "extension"
	attrMimeType  = "mime_type"
	attrSize      = "size"
	attrRowCount  = "row_count"
	attrSchemaRef = "schema_id"
)

// CreateFile implements createFile's stage sequence (§4.1): pre-allocate,
// build definitions, stream the payload, finalise tags, commit.
func (s *Service) CreateFile(ctx context.Context, req CreateFileRequest) (hdr types.ObjectHeader, err error) {
	const op = "create_file"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

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

	fileID, storageID, err := s.preallocate(ctx, req.Tenant, types.ObjectTypeFile)
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

	ext := deriveExtension(req.Name)
	storagePath := FilePath(fileID, 1, suffix, req.Name)
	dataItem := fmt.Sprintf("file-%s-v1", fileID)

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

	fileDef := &types.FileDefinition{
		Name: req.Name, Extension: ext, MimeType: req.MimeType, Size: wr.BytesWritten,
		DataItem:  dataItem,
		StorageID: types.ExplicitSelector(storageID, 1, 1),
	}
	storageDef := &types.StorageDefinition{DataItems: map[string]*types.StorageItem{
		dataItem: newStorageItem(storageKey, storagePath, "", s.now()),
	}}

	fileTags := append([]types.TagUpdate{
		{AttrName: attrName, Op: types.TagOpCreate, Value: req.Name},
		{AttrName: attrExtension, Op: types.TagOpCreate, Value: ext},
		{AttrName: attrMimeType, Op: types.TagOpCreate, Value: req.MimeType},
		{AttrName: attrSize, Op: types.TagOpCreate, Value: wr.BytesWritten},
	}, req.TagUpdates...)

	storageTags := []types.TagUpdate{
		{AttrName: attrOwnerStorage, Op: types.TagOpCreate, Value: types.ExplicitSelector(fileID, 1, 1)},
	}

	result, err := s.catalogue.WriteBatch(ctx, req.Tenant, catalogue.WriteBatchRequest{
		CreatePreallocated: []catalogue.CreatePreallocatedEntry{
			{ObjectID: fileID, ObjectType: types.ObjectTypeFile, File: fileDef, TagUpdates: fileTags},
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

