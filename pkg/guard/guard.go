// Package guard implements the version and concurrency checks of §4.3: pure
// predicates over prior and proposed definitions, with no I/O of their own.
package guard

import (
	"fmt"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

// CheckVersionTransition verifies the new version is exactly prior+1 and
// that the object kind has not changed.
func CheckVersionTransition(priorVersion, newVersion int, priorType, newType types.ObjectType) error {
	if newType != priorType {
		return dataerr.New(dataerr.WrongType, "expected object type %s, got %s", priorType, newType)
	}
	if newVersion != priorVersion+1 {
		return dataerr.New(dataerr.VersionInvalid, "object_version must be prior+1: prior=%d new=%d", priorVersion, newVersion)
	}
	return nil
}

// CheckSchemaCompatible enforces the data-update compatibility predicate of
// §4.3: every prior field's name, type, categorical flag, and business-key
// flag must survive unchanged in the new schema; new fields may be appended;
// reordering that preserves those attributes is allowed; removal or type
// change is rejected.
func CheckSchemaCompatible(prior, next types.SchemaDefinition) error {
	byName := make(map[string]types.FieldSchema, len(next.Fields))
	for _, f := range next.Fields {
		byName[f.FieldName] = f
	}

	for _, old := range prior.Fields {
		nf, ok := byName[old.FieldName]
		if !ok {
			return dataerr.New(dataerr.InputInvalid, "field %q removed; field removal is not permitted in a schema-compatible update", old.FieldName)
		}
		if nf.FieldType != old.FieldType {
			return dataerr.New(dataerr.InputInvalid, "field %q changed type %s -> %s", old.FieldName, old.FieldType, nf.FieldType)
		}
		if nf.Categorical != old.Categorical {
			return dataerr.New(dataerr.InputInvalid, "field %q changed categorical flag", old.FieldName)
		}
		if nf.BusinessKey != old.BusinessKey {
			return dataerr.New(dataerr.InputInvalid, "field %q changed business-key flag", old.FieldName)
		}
	}
	return nil
}

// CheckFileImmutable enforces that extension and mime_type never change
// across a file update; name and size are free to change.
func CheckFileImmutable(prior, next types.FileDefinition) error {
	if prior.Extension != next.Extension {
		return dataerr.New(dataerr.VersionInvalid, "file extension is immutable: prior=%q new=%q", prior.Extension, next.Extension)
	}
	if prior.MimeType != next.MimeType {
		return dataerr.New(dataerr.VersionInvalid, "file mime_type is immutable: prior=%q new=%q", prior.MimeType, next.MimeType)
	}
	return nil
}

// CheckTagVersion enforces the saveNewTag contract: the annotated version
// must already exist (the caller supplies priorExists, having already
// resolved the selector) and tag_version must be prior+1.
func CheckTagVersion(priorExists bool, priorTagVersion, newTagVersion int) error {
	if !priorExists {
		return dataerr.New(dataerr.Missing, "cannot save a tag on a version that has not been committed")
	}
	if newTagVersion != priorTagVersion+1 {
		return dataerr.New(dataerr.Duplicate, "tag_version must be prior+1: prior=%d new=%d", priorTagVersion, newTagVersion)
	}
	return nil
}

// CheckSupersession reports DUPLICATE if dataItem already appears in the
// prior storage definition, meaning a concurrent writer has already landed a
// newer version under this same data item key (stage 6 of §4.1).
func CheckSupersession(prior *types.StorageDefinition, dataItem string) error {
	if prior == nil {
		return nil
	}
	if _, exists := prior.DataItems[dataItem]; exists {
		return dataerr.New(dataerr.Duplicate, "data_item %q already present in prior storage definition: object updated concurrently", dataItem)
	}
	return nil
}

// ExpectedRowCount sums delta_row_count across every live snap, per
// invariant 5.
func ExpectedRowCount(parts map[string]*types.Part) int64 {
	var total int64
	for _, p := range parts {
		for _, d := range p.Current.Deltas {
			total += d.DeltaRowCount
		}
	}
	return total
}

// CheckDeclaredSize enforces DATA_SIZE: the actual byte count observed by
// the streaming pipeline must equal the size the client declared up front.
func CheckDeclaredSize(declared, actual int64) error {
	if declared != actual {
		return dataerr.New(dataerr.DataSize, "declared size %d does not match %d bytes received", declared, actual)
	}
	return nil
}

// DescribeVersionString is a small debug helper used by logging call sites.
func DescribeVersionString(objectType types.ObjectType, version int) string {
	return fmt.Sprintf("%s@v%d", objectType, version)
}
