package dataplane

import (
	"context"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/guard"
	"github.com/cuemby/dataplane/pkg/types"
)

// UpdateTagsRequest is the payload of saveNewTag (§4.2): annotate an
// already-committed object version with a new tag_version without creating
// a new object_version.
type UpdateTagsRequest struct {
	Tenant     string
	Principal  types.Principal
	Selector   types.Selector
	TagUpdates []types.TagUpdate
}

// UpdateTags implements saveNewTag (§8 Property 3, tag monotonicity):
// resolve the addressed version's current tag, version-guard the new
// tag_version, commit. There is no byte stream and no storage I/O involved;
// only the catalogue's writeBatch path is exercised.
func (s *Service) UpdateTags(ctx context.Context, req UpdateTagsRequest) (hdr types.ObjectHeader, err error) {
	const op = "update_tags"
	start := s.now()
	defer func() { s.instrument(op, start, err) }()
	reqLog := s.requestLogger(req.Tenant)

	priorTag, err := s.catalogue.ReadObject(ctx, req.Tenant, req.Selector)
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	newTagVersion := priorTag.Header.TagVersion + 1
	if err := guard.CheckTagVersion(true, priorTag.Header.TagVersion, newTagVersion); err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}

	result, err := s.catalogue.WriteBatch(ctx, req.Tenant, catalogue.WriteBatchRequest{
		SaveTag: []catalogue.SaveTagEntry{
			{
				ObjectID:   priorTag.Header.ObjectID,
				ObjectType: priorTag.Header.ObjectType,
				Version:    priorTag.Header.ObjectVersion,
				PriorTag:   priorTag.Header.TagVersion,
				TagUpdates: req.TagUpdates,
			},
		},
	})
	if err != nil {
		logFailure(reqLog, op, err)
		return types.ObjectHeader{}, err
	}
	logSuccess(reqLog, op, result.Headers[0].ObjectID)
	return result.Headers[0], nil
}
