// Package boltcat is a bbolt-backed reference implementation of
// catalogue.Client, using a bucket-per-entity layout with JSON-marshalled
// values. It exists for standalone operation and for this repository's own
// tests; a production deployment talks to a real external catalogue
// service instead.
package boltcat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/cuemby/dataplane/pkg/catalogue"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

var (
	bucketTags         = []byte("tags")
	bucketHeads        = []byte("heads")
	bucketPreallocated = []byte("preallocated")
)

// head tracks the latest committed version and latest tag_version of that
// version, for one (tenant, object_id).
type head struct {
	ObjectType    types.ObjectType `json:"object_type"`
	ObjectVersion int              `json:"object_version"`
	TagVersion    int              `json:"tag_version"`
}

// Catalogue is a local, single-process stand-in for the metadata catalogue.
// All exported methods satisfy catalogue.Client.
type Catalogue struct {
	db *bbolt.DB
	mu sync.Mutex // serialises writeBatch transactions; reads may run concurrently via bbolt's own MVCC
}

// Open creates (or reopens) a bolt-backed catalogue at path.
func Open(path string) (*Catalogue, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalogue db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTags, bucketHeads, bucketPreallocated} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalogue buckets: %w", err)
	}

	return &Catalogue{db: db}, nil
}

func (c *Catalogue) Close() error { return c.db.Close() }

var _ catalogue.Client = (*Catalogue)(nil)

func headKey(tenant string, id uuid.UUID) []byte {
	return []byte(tenant + "/" + id.String())
}

func tagKey(tenant string, id uuid.UUID, version, tagVersion int) []byte {
	return []byte(fmt.Sprintf("%s/%s/%010d/%010d", tenant, id.String(), version, tagVersion))
}

func preallocKey(tenant string, id uuid.UUID) []byte {
	return []byte(tenant + "/" + id.String())
}

func (c *Catalogue) PreallocateBatch(ctx context.Context, tenant string, kinds []types.ObjectType) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataerr.Wrap(dataerr.Cancelled, err, "preallocate cancelled")
	}

	ids := make([]uuid.UUID, len(kinds))
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPreallocated)
		for i, kind := range kinds {
			id := uuid.New()
			ids[i] = id
			raw, err := json.Marshal(kind)
			if err != nil {
				return err
			}
			if err := b.Put(preallocKey(tenant, id), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dataerr.Wrap(dataerr.StorageFault, err, "preallocate batch")
	}
	return ids, nil
}

func (c *Catalogue) ReadObject(ctx context.Context, tenant string, sel types.Selector) (*types.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataerr.Wrap(dataerr.Cancelled, err, "read cancelled")
	}

	var tag *types.Tag
	err := c.db.View(func(tx *bbolt.Tx) error {
		t, err := c.resolve(tx, tenant, sel)
		if err != nil {
			return err
		}
		tag = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (c *Catalogue) ReadBatch(ctx context.Context, tenant string, sels []types.Selector) ([]*types.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataerr.Wrap(dataerr.Cancelled, err, "read batch cancelled")
	}

	tags := make([]*types.Tag, len(sels))
	err := c.db.View(func(tx *bbolt.Tx) error {
		for i, sel := range sels {
			t, err := c.resolve(tx, tenant, sel)
			if err != nil {
				return err
			}
			tags[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// resolve looks up the tag matching sel, honouring the three selector kinds.
func (c *Catalogue) resolve(tx *bbolt.Tx, tenant string, sel types.Selector) (*types.Tag, error) {
	heads := tx.Bucket(bucketHeads)
	tags := tx.Bucket(bucketTags)

	var h head
	raw := heads.Get(headKey(tenant, sel.ObjectID))
	if raw == nil {
		return nil, dataerr.New(dataerr.Missing, "object %s has no committed version", sel.ObjectID)
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, dataerr.Wrap(dataerr.Internal, err, "decode head")
	}

	version, tagVersion := h.ObjectVersion, h.TagVersion
	switch sel.Kind {
	case types.SelectorExplicit:
		version, tagVersion = sel.ObjectVersion, sel.TagVersion
	case types.SelectorLatestTag:
		version = sel.ObjectVersion
		if version == h.ObjectVersion {
			tagVersion = h.TagVersion
		} else {
			tagVersion = c.headTagForVersion(tx, tenant, sel.ObjectID, version)
		}
	case types.SelectorLatestVer:
		// version/tagVersion already set to head
	}

	raw = tags.Get(tagKey(tenant, sel.ObjectID, version, tagVersion))
	if raw == nil {
		return nil, dataerr.New(dataerr.Missing, "no tag at version=%d tag_version=%d for %s", version, tagVersion, sel.ObjectID)
	}

	var tag types.Tag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, dataerr.Wrap(dataerr.Internal, err, "decode tag")
	}
	return &tag, nil
}

// headTagForVersion scans for the highest tag_version committed under a
// non-head version (used only by explicit latest-tag-of-older-version reads).
func (c *Catalogue) headTagForVersion(tx *bbolt.Tx, tenant string, id uuid.UUID, version int) int {
	cur := tx.Bucket(bucketTags).Cursor()
	prefix := []byte(fmt.Sprintf("%s/%s/%010d/", tenant, id.String(), version))
	best := 0
	for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
		var tagVersion int
		fmt.Sscanf(string(k[len(prefix):]), "%d", &tagVersion)
		if tagVersion > best {
			best = tagVersion
		}
	}
	return best
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// WriteBatch applies every entry inside a single bbolt transaction, so the
// all-or-nothing contract of §4.2 falls out of bbolt's own transaction
// semantics: any failing entry aborts the whole transaction.
func (c *Catalogue) WriteBatch(ctx context.Context, tenant string, req catalogue.WriteBatchRequest) (*catalogue.WriteBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataerr.Wrap(dataerr.Cancelled, err, "write batch cancelled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var headers []types.ObjectHeader
	err := c.db.Update(func(tx *bbolt.Tx) error {
		heads := tx.Bucket(bucketHeads)
		tags := tx.Bucket(bucketTags)
		prealloc := tx.Bucket(bucketPreallocated)

		for _, e := range req.Preallocate {
			id := uuid.New()
			raw, _ := json.Marshal(e.ObjectType)
			if err := prealloc.Put(preallocKey(tenant, id), raw); err != nil {
				return err
			}
			headers = append(headers, types.ObjectHeader{Tenant: tenant, ObjectType: e.ObjectType, ObjectID: id, ObjectVersion: 0, TagVersion: 0})
		}

		for _, e := range req.CreatePreallocated {
			if prealloc.Get(preallocKey(tenant, e.ObjectID)) == nil {
				return dataerr.New(dataerr.Missing, "object %s was not pre-allocated", e.ObjectID)
			}
			if heads.Get(headKey(tenant, e.ObjectID)) != nil {
				return dataerr.New(dataerr.Duplicate, "object %s already has a committed version", e.ObjectID)
			}

			tag := &types.Tag{
				Header: types.ObjectHeader{Tenant: tenant, ObjectType: e.ObjectType, ObjectID: e.ObjectID, ObjectVersion: 1, TagVersion: 1},
				Attrs:  map[string]interface{}{},
				File:   e.File, Data: e.Data, Storage: e.Storage,
			}
			applyTagUpdates(tag, e.TagUpdates)

			raw, err := json.Marshal(tag)
			if err != nil {
				return err
			}
			if err := tags.Put(tagKey(tenant, e.ObjectID, 1, 1), raw); err != nil {
				return err
			}
			h, _ := json.Marshal(head{ObjectType: e.ObjectType, ObjectVersion: 1, TagVersion: 1})
			if err := heads.Put(headKey(tenant, e.ObjectID), h); err != nil {
				return err
			}
			if err := prealloc.Delete(preallocKey(tenant, e.ObjectID)); err != nil {
				return err
			}
			headers = append(headers, tag.Header)
		}

		for _, e := range req.UpdateObject {
			var cur head
			raw := heads.Get(headKey(tenant, e.ObjectID))
			if raw == nil {
				return dataerr.New(dataerr.Missing, "object %s has no prior version", e.ObjectID)
			}
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.ObjectVersion != e.PriorVersion {
				return dataerr.New(dataerr.Duplicate, "object %s was updated concurrently: head is v%d, expected v%d", e.ObjectID, cur.ObjectVersion, e.PriorVersion)
			}

			newVersion := cur.ObjectVersion + 1
			tag := &types.Tag{
				Header: types.ObjectHeader{Tenant: tenant, ObjectType: e.ObjectType, ObjectID: e.ObjectID, ObjectVersion: newVersion, TagVersion: 1},
				Attrs:  map[string]interface{}{},
				File:   e.File, Data: e.Data, Storage: e.Storage,
			}
			applyTagUpdates(tag, e.TagUpdates)

			encTag, err := json.Marshal(tag)
			if err != nil {
				return err
			}
			if err := tags.Put(tagKey(tenant, e.ObjectID, newVersion, 1), encTag); err != nil {
				return err
			}
			h, _ := json.Marshal(head{ObjectType: e.ObjectType, ObjectVersion: newVersion, TagVersion: 1})
			if err := heads.Put(headKey(tenant, e.ObjectID), h); err != nil {
				return err
			}
			headers = append(headers, tag.Header)
		}

		for _, e := range req.SaveTag {
			prevRaw := tags.Get(tagKey(tenant, e.ObjectID, e.Version, e.PriorTag))
			if prevRaw == nil {
				return dataerr.New(dataerr.Missing, "no version %d tag %d for %s to annotate", e.Version, e.PriorTag, e.ObjectID)
			}
			var prior types.Tag
			if err := json.Unmarshal(prevRaw, &prior); err != nil {
				return err
			}

			newTagVersion := e.PriorTag + 1
			if tags.Get(tagKey(tenant, e.ObjectID, e.Version, newTagVersion)) != nil {
				return dataerr.New(dataerr.Duplicate, "tag_version %d already saved for %s v%d", newTagVersion, e.ObjectID, e.Version)
			}

			next := prior.Clone()
			next.Header.TagVersion = newTagVersion
			applyTagUpdates(next, e.TagUpdates)

			raw, err := json.Marshal(next)
			if err != nil {
				return err
			}
			if err := tags.Put(tagKey(tenant, e.ObjectID, e.Version, newTagVersion), raw); err != nil {
				return err
			}

			var cur head
			headRaw := heads.Get(headKey(tenant, e.ObjectID))
			if headRaw != nil {
				json.Unmarshal(headRaw, &cur)
				if cur.ObjectVersion == e.Version {
					cur.TagVersion = newTagVersion
					h, _ := json.Marshal(cur)
					heads.Put(headKey(tenant, e.ObjectID), h)
				}
			}
			headers = append(headers, next.Header)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &catalogue.WriteBatchResult{Headers: headers}, nil
}

func applyTagUpdates(tag *types.Tag, updates []types.TagUpdate) {
	if tag.Attrs == nil {
		tag.Attrs = map[string]interface{}{}
	}
	for _, u := range updates {
		switch u.Op {
		case types.TagOpCreate, types.TagOpReplace:
			tag.Attrs[u.AttrName] = u.Value
		case types.TagOpAppend:
			existing, ok := tag.Attrs[u.AttrName].([]interface{})
			if !ok {
				existing = nil
			}
			tag.Attrs[u.AttrName] = append(existing, u.Value)
		case types.TagOpClear:
			tag.Attrs[u.AttrName] = nil
		case types.TagOpDelete:
			delete(tag.Attrs, u.AttrName)
		}
	}
}
