// Package types holds the data-model value types shared across the data
// plane: object headers, the three object kinds (file, data, storage), tags,
// and the authenticated Principal attached to a request.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ObjectType names the kind of object a header refers to.
type ObjectType string

const (
	ObjectTypeData    ObjectType = "DATA"
	ObjectTypeFile    ObjectType = "FILE"
	ObjectTypeStorage ObjectType = "STORAGE"
	ObjectTypeSchema  ObjectType = "SCHEMA"
)

// ObjectHeader identifies one committed object version plus the tag mutation
// currently in effect for it.
type ObjectHeader struct {
	Tenant        string
	ObjectType    ObjectType
	ObjectID      uuid.UUID
	ObjectVersion int
	TagVersion    int
	Timestamp     time.Time
}

// SelectorKind distinguishes an explicit coordinate from a "latest" lookup.
type SelectorKind string

const (
	SelectorExplicit  SelectorKind = "explicit"
	SelectorLatestVer SelectorKind = "latest-version"
	SelectorLatestTag SelectorKind = "latest-tag"
)

// Selector names either an explicit (id, version, tag) coordinate or asks
// the catalogue to resolve the head version or head tag of an object.
type Selector struct {
	Kind          SelectorKind
	ObjectID      uuid.UUID
	ObjectVersion int
	TagVersion    int
}

func ExplicitSelector(id uuid.UUID, version, tag int) Selector {
	return Selector{Kind: SelectorExplicit, ObjectID: id, ObjectVersion: version, TagVersion: tag}
}

func LatestVersionSelector(id uuid.UUID) Selector {
	return Selector{Kind: SelectorLatestVer, ObjectID: id}
}

func LatestTagSelector(id uuid.UUID, version int) Selector {
	return Selector{Kind: SelectorLatestTag, ObjectID: id, ObjectVersion: version}
}

// FileDefinition describes one version of an opaque file object.
type FileDefinition struct {
	Name      string
	Extension string // derived from Name
	MimeType  string
	Size      int64
	DataItem  string
	StorageID Selector
}

// FieldType is the primitive wire type of one schema field.
type FieldType string

const (
	FieldBoolean  FieldType = "BOOLEAN"
	FieldInteger  FieldType = "INTEGER"
	FieldFloat    FieldType = "FLOAT"
	FieldDecimal  FieldType = "DECIMAL"
	FieldString   FieldType = "STRING"
	FieldDate     FieldType = "DATE"
	FieldDatetime FieldType = "DATETIME"
)

// FieldSchema describes one column of a tabular schema.
type FieldSchema struct {
	FieldName   string
	FieldType   FieldType
	FieldOrder  int
	Categorical bool
	BusinessKey bool
	NotNull     bool
	Label       string
}

// SchemaDefinition is the full set of fields for a tabular object, plus an
// optional external reference if the schema is itself a catalogued object.
type SchemaDefinition struct {
	SchemaID *Selector
	Fields   []FieldSchema
}

// Delta is one physical write within a snap; only delta_index 0 is produced.
type Delta struct {
	DeltaIndex       int
	DataItem         string
	PhysicalRowCount int64
	DeltaRowCount    int64
}

// Snap is the current physical state of one partition: an ordered sequence
// of deltas, with the snap index incrementing on every update.
type Snap struct {
	SnapIndex int
	Deltas    []Delta
}

// Part is one partition key's worth of snap history.
type Part struct {
	PartKey string
	Current Snap
}

// DataDefinition describes one version of a tabular dataset object.
type DataDefinition struct {
	Schema    SchemaDefinition
	Parts     map[string]*Part
	RowCount  int64
	StorageID Selector
}

// CopyStatus is the lifecycle state of one physical storage copy.
type CopyStatus string

const (
	CopyStatusAvailable CopyStatus = "AVAILABLE"
	CopyStatusExpunged  CopyStatus = "EXPUNGED"
)

// Copy is one physical realisation of a data item.
type Copy struct {
	StorageKey    string
	StoragePath   string
	StorageFormat string
	Status        CopyStatus
	Timestamp     time.Time
}

// IncarnationStatus mirrors CopyStatus at the incarnation level.
type IncarnationStatus string

const (
	IncarnationStatusAvailable IncarnationStatus = "AVAILABLE"
	IncarnationStatusExpunged  IncarnationStatus = "EXPUNGED"
)

// Incarnation groups the copies produced by one write of a data item; only
// the first incarnation is produced by this core, though more may be read.
type Incarnation struct {
	IncarnationIndex int
	Timestamp        time.Time
	Status           IncarnationStatus
	Copies           []Copy
}

// StorageItem is the physical history of one data item.
type StorageItem struct {
	Incarnations []Incarnation
}

// StorageDefinition maps every data item produced for an object to its
// physical history.
type StorageDefinition struct {
	DataItems map[string]*StorageItem
}

// TagOp is the kind of mutation a tag update applies to one attribute.
type TagOp string

const (
	TagOpCreate  TagOp = "CREATE"
	TagOpReplace TagOp = "REPLACE"
	TagOpAppend  TagOp = "APPEND"
	TagOpClear   TagOp = "CLEAR"
	TagOpDelete  TagOp = "DELETE"
)

// TagUpdate is one requested mutation of a tag attribute.
type TagUpdate struct {
	AttrName string
	Op       TagOp
	Value    interface{}
}

// Tag is the attribute bag attached to one (object_id, object_version), plus
// the header it annotates and whichever definition that object kind carries.
type Tag struct {
	Header  ObjectHeader
	Attrs   map[string]interface{}
	File    *FileDefinition
	Data    *DataDefinition
	Storage *StorageDefinition
}

// Clone copies the header and the Attrs map; File, Data and Storage are
// copied as structs, so maps inside them (Parts, DataItems) are shared with t.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	clone := &Tag{Header: t.Header}
	if t.Attrs != nil {
		clone.Attrs = make(map[string]interface{}, len(t.Attrs))
		for k, v := range t.Attrs {
			clone.Attrs[k] = v
		}
	}
	if t.File != nil {
		f := *t.File
		clone.File = &f
	}
	if t.Data != nil {
		d := *t.Data
		clone.Data = &d
	}
	if t.Storage != nil {
		s := *t.Storage
		clone.Storage = &s
	}
	return clone
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID     string
	Tenant string
	Scopes []string
}
