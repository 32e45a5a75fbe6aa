package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

func TestCheckVersionTransition(t *testing.T) {
	tests := []struct {
		name                 string
		priorVersion         int
		newVersion           int
		priorType, newType   types.ObjectType
		wantKind             dataerr.Kind
	}{
		{"valid increment", 3, 4, types.ObjectTypeData, types.ObjectTypeData, ""},
		{"type changed", 3, 4, types.ObjectTypeData, types.ObjectTypeFile, dataerr.WrongType},
		{"skipped version", 3, 5, types.ObjectTypeData, types.ObjectTypeData, dataerr.VersionInvalid},
		{"non-increment", 3, 3, types.ObjectTypeFile, types.ObjectTypeFile, dataerr.VersionInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersionTransition(tt.priorVersion, tt.newVersion, tt.priorType, tt.newType)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, dataerr.KindOf(err))
		})
	}
}

func field(name string, ft types.FieldType, categorical, businessKey bool) types.FieldSchema {
	return types.FieldSchema{FieldName: name, FieldType: ft, Categorical: categorical, BusinessKey: businessKey}
}

func TestCheckSchemaCompatible(t *testing.T) {
	base := types.SchemaDefinition{Fields: []types.FieldSchema{
		field("id", types.FieldInteger, false, true),
		field("label", types.FieldString, true, false),
	}}

	t.Run("appending a field is compatible", func(t *testing.T) {
		next := types.SchemaDefinition{Fields: append(append([]types.FieldSchema{}, base.Fields...),
			field("note", types.FieldString, false, false))}
		assert.NoError(t, CheckSchemaCompatible(base, next))
	})

	t.Run("removing a field is rejected", func(t *testing.T) {
		next := types.SchemaDefinition{Fields: []types.FieldSchema{field("id", types.FieldInteger, false, true)}}
		err := CheckSchemaCompatible(base, next)
		assert.Equal(t, dataerr.InputInvalid, dataerr.KindOf(err))
	})

	t.Run("changing a field type is rejected", func(t *testing.T) {
		next := types.SchemaDefinition{Fields: []types.FieldSchema{
			field("id", types.FieldString, false, true),
			field("label", types.FieldString, true, false),
		}}
		err := CheckSchemaCompatible(base, next)
		assert.Equal(t, dataerr.InputInvalid, dataerr.KindOf(err))
	})

	t.Run("changing categorical flag is rejected", func(t *testing.T) {
		next := types.SchemaDefinition{Fields: []types.FieldSchema{
			field("id", types.FieldInteger, false, true),
			field("label", types.FieldString, false, false),
		}}
		err := CheckSchemaCompatible(base, next)
		assert.Equal(t, dataerr.InputInvalid, dataerr.KindOf(err))
	})

	t.Run("changing business key flag is rejected", func(t *testing.T) {
		next := types.SchemaDefinition{Fields: []types.FieldSchema{
			field("id", types.FieldInteger, false, false),
			field("label", types.FieldString, true, false),
		}}
		err := CheckSchemaCompatible(base, next)
		assert.Equal(t, dataerr.InputInvalid, dataerr.KindOf(err))
	})
}

func TestCheckFileImmutable(t *testing.T) {
	prior := types.FileDefinition{Extension: "csv", MimeType: "text/csv"}

	t.Run("unchanged extension and mime type", func(t *testing.T) {
		next := types.FileDefinition{Extension: "csv", MimeType: "text/csv"}
		assert.NoError(t, CheckFileImmutable(prior, next))
	})

	t.Run("extension changed", func(t *testing.T) {
		next := types.FileDefinition{Extension: "json", MimeType: "text/csv"}
		err := CheckFileImmutable(prior, next)
		assert.Equal(t, dataerr.VersionInvalid, dataerr.KindOf(err))
	})

	t.Run("mime type changed", func(t *testing.T) {
		next := types.FileDefinition{Extension: "csv", MimeType: "application/json"}
		err := CheckFileImmutable(prior, next)
		assert.Equal(t, dataerr.VersionInvalid, dataerr.KindOf(err))
	})
}

func TestCheckTagVersion(t *testing.T) {
	t.Run("missing prior rejected", func(t *testing.T) {
		err := CheckTagVersion(false, 0, 1)
		assert.Equal(t, dataerr.Missing, dataerr.KindOf(err))
	})
	t.Run("non-increment rejected", func(t *testing.T) {
		err := CheckTagVersion(true, 2, 4)
		assert.Equal(t, dataerr.Duplicate, dataerr.KindOf(err))
	})
	t.Run("valid increment", func(t *testing.T) {
		assert.NoError(t, CheckTagVersion(true, 2, 3))
	})
}

func TestCheckSupersession(t *testing.T) {
	t.Run("nil prior storage never supersedes", func(t *testing.T) {
		assert.NoError(t, CheckSupersession(nil, "data-item-1"))
	})
	t.Run("unseen data item is fine", func(t *testing.T) {
		prior := &types.StorageDefinition{DataItems: map[string]*types.StorageItem{"other": {}}}
		assert.NoError(t, CheckSupersession(prior, "data-item-1"))
	})
	t.Run("already present data item is rejected", func(t *testing.T) {
		prior := &types.StorageDefinition{DataItems: map[string]*types.StorageItem{"data-item-1": {}}}
		err := CheckSupersession(prior, "data-item-1")
		assert.Equal(t, dataerr.Duplicate, dataerr.KindOf(err))
	})
}

func TestExpectedRowCount(t *testing.T) {
	parts := map[string]*types.Part{
		"p1": {Current: types.Snap{Deltas: []types.Delta{{DeltaRowCount: 10}, {DeltaRowCount: 5}}}},
		"p2": {Current: types.Snap{Deltas: []types.Delta{{DeltaRowCount: 7}}}},
	}
	assert.Equal(t, int64(22), ExpectedRowCount(parts))
}

func TestCheckDeclaredSize(t *testing.T) {
	assert.NoError(t, CheckDeclaredSize(100, 100))
	err := CheckDeclaredSize(100, 99)
	assert.Equal(t, dataerr.DataSize, dataerr.KindOf(err))
}

func TestDescribeVersionString(t *testing.T) {
	assert.Equal(t, "DATA@v3", DescribeVersionString(types.ObjectTypeData, 3))
}
