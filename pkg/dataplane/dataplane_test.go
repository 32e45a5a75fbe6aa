package dataplane

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataplane/pkg/catalogue/boltcat"
	"github.com/cuemby/dataplane/pkg/codec"
	"github.com/cuemby/dataplane/pkg/codec/arrowcodec"
	"github.com/cuemby/dataplane/pkg/codec/csvcodec"
	"github.com/cuemby/dataplane/pkg/codec/jsoncodec"
	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/pipeline"
	"github.com/cuemby/dataplane/pkg/registry"
	"github.com/cuemby/dataplane/pkg/storagebackend"
	"github.com/cuemby/dataplane/pkg/storagebackend/localfs"
	"github.com/cuemby/dataplane/pkg/types"
)

const testTenant = "acme"

// sequentialSuffixes hands out predictable, distinct suffixes so tests don't
// depend on crypto/rand while still exercising invariant 4's "distinct path
// per write" behaviour.
type sequentialSuffixes struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialSuffixes) Suffix() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return hex6(s.n), nil
}

func hex6(n int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		b[i] = digits[n%16]
		n /= 16
	}
	return string(b)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	cat, err := boltcat.Open(filepath.Join(dir, "catalogue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	backend := localfs.New(filepath.Join(dir, "objects"))

	reg := registry.New(func(tenant, key string, cfg registry.ResourceConfig) (storagebackend.Backend, error) {
		return backend, nil
	}, zerolog.Nop())
	require.NoError(t, reg.Bootstrap(context.Background(), &registry.FileConfig{
		Tenants: map[string]registry.StaticTenantConfig{
			testTenant: {
				DefaultBucket: "main",
				DefaultFormat: codec.FormatCSV,
				Resources:     map[string]registry.ResourceConfig{"main": {Kind: "localfs"}},
			},
		},
	}))

	codecs := codec.NewRegistry(csvcodec.New(), jsoncodec.New(), arrowcodec.New())

	svc := New(cat, reg, codecs, nil, zerolog.Nop())
	svc.WithSuffixSource(&sequentialSuffixes{})
	return svc
}

func payload(data string) pipeline.ChunkSource {
	return pipeline.NewSliceSource([]pipeline.Chunk{pipeline.NewChunk([]byte(data), nil)})
}

type collectingWriter struct{ data []byte }

func (w *collectingWriter) Emit(ctx context.Context, data []byte) error {
	w.data = append(w.data, data...)
	return nil
}

// S5 + property 1: create+read file round-trip.
func TestCreateReadFileRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	content := "Some text in a file\r\n"

	h, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "a.txt", MimeType: "text/plain",
		DeclaredSize: int64(len(content)), Payload: payload(content),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ObjectVersion)
	assert.Equal(t, 1, h.TagVersion)

	res, err := svc.ReadFile(ctx, ReadFileRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(h.ObjectID, h.ObjectVersion, h.TagVersion), Limit: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "txt", res.File.Extension)
	assert.Equal(t, int64(len(content)), res.File.Size)

	w := &collectingWriter{}
	require.NoError(t, res.Stream(ctx, w))
	assert.Equal(t, content, string(w.data))
}

// S1 + property 1: create+read CSV dataset round-trip.
func TestCreateReadDatasetRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	csvBody := "X1,10,a\nX2,20,b\nX3,30,a\nX4,40,c\n"

	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "amount", FieldType: types.FieldDecimal},
		{FieldName: "region", FieldType: types.FieldString, Categorical: true},
	}}

	h, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: schema, Payload: payload(csvBody),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ObjectVersion)

	res, err := svc.ReadDataset(ctx, ReadDatasetRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(h.ObjectID, h.ObjectVersion, h.TagVersion),
		Format: codec.FormatCSV, Limit: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowCount)

	w := &collectingWriter{}
	require.NoError(t, res.Stream(ctx, w))
	assert.Equal(t, csvBody, string(w.data))
}

// S1 + property 1: create+read JSON dataset round-trip, mirroring the CSV
// case but over codec.FormatJSON.
func TestCreateReadDatasetRoundTrip_JSON(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	jsonBody := `[{"id":"X1","amount":10.5},{"id":"X2","amount":20}]`

	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "amount", FieldType: types.FieldFloat},
	}}

	h, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatJSON, SchemaLiteral: schema, Payload: payload(jsonBody),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ObjectVersion)

	res, err := svc.ReadDataset(ctx, ReadDatasetRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(h.ObjectID, h.ObjectVersion, h.TagVersion),
		Format: codec.FormatJSON, Limit: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowCount)

	w := &collectingWriter{}
	require.NoError(t, res.Stream(ctx, w))
	assert.JSONEq(t, jsonBody, string(w.data))
}

// S1 + property 1: create+read Arrow dataset round-trip. The payload must
// already be a valid Arrow IPC file (RunWriter counts rows by decoding the
// inbound bytes directly, per codec.Codec.CountRows), so it is built with
// the codec's own encoder rather than hand-written.
func TestCreateReadDatasetRoundTrip_Arrow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "count", FieldType: types.FieldInteger},
	}}

	ac := arrowcodec.New()
	var buf bytes.Buffer
	enc, err := ac.NewEncoder(&buf, *schema)
	require.NoError(t, err)
	require.NoError(t, enc.WriteRow([]interface{}{"X1", int64(1)}))
	require.NoError(t, enc.WriteRow([]interface{}{"X2", int64(2)}))
	require.NoError(t, enc.WriteRow([]interface{}{"X3", int64(3)}))
	require.NoError(t, enc.Close())
	arrowBody := buf.String()

	h, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatArrow, SchemaLiteral: schema, Payload: payload(arrowBody),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ObjectVersion)

	res, err := svc.ReadDataset(ctx, ReadDatasetRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(h.ObjectID, h.ObjectVersion, h.TagVersion),
		Format: codec.FormatArrow, Limit: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RowCount)

	w := &collectingWriter{}
	require.NoError(t, res.Stream(ctx, w))

	// The download pipeline always decodes and re-encodes (to honour
	// row-skip/row-limit), so the emitted Arrow file need not be byte-for-byte
	// identical to the stored one; compare decoded rows instead.
	dec, err := ac.NewDecoder(bytes.NewReader(w.data), *schema)
	require.NoError(t, err)
	var rows [][]interface{}
	for {
		row, err := dec.ReadRow()
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	assert.Equal(t, [][]interface{}{
		{"X1", int64(1)},
		{"X2", int64(2)},
		{"X3", int64(3)},
	}, rows)
}

// S2 + property 2: schema-compatible update appends a field, version and
// snap index advance together.
func TestUpdateDatasetSchemaCompatible(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "amount", FieldType: types.FieldDecimal},
		{FieldName: "region", FieldType: types.FieldString, Categorical: true},
	}}
	h1, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: schema,
		Payload: payload("X1,10,a\nX2,20,b\nX3,30,a\nX4,40,c\n"),
	})
	require.NoError(t, err)

	updated := &types.SchemaDefinition{Fields: append(append([]types.FieldSchema{}, schema.Fields...),
		types.FieldSchema{FieldName: "region_code", FieldType: types.FieldInteger})}

	h2, err := svc.UpdateDataset(ctx, UpdateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: updated,
		Prior:   types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion),
		Payload: payload("X1,10,a,1\nX2,20,b,2\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h2.ObjectVersion)
	assert.Equal(t, 1, h2.TagVersion)

	tag, err := svc.catalogue.ReadObject(ctx, testTenant, types.ExplicitSelector(h2.ObjectID, h2.ObjectVersion, h2.TagVersion))
	require.NoError(t, err)
	assert.Equal(t, int64(2), tag.Data.RowCount)
	assert.Equal(t, 1, tag.Data.Parts[defaultPartKey].Current.SnapIndex)
}

// S3: schema-incompatible update (field type change) is rejected and no new
// version is committed, with INPUT_INVALID: the version transition itself
// is valid, only the proposed schema's content is not. See DESIGN.md §5
// resolution 3 for why this takes INPUT_INVALID rather than VERSION_INVALID.
func TestUpdateDatasetSchemaIncompatible(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "amount", FieldType: types.FieldDecimal},
		{FieldName: "region", FieldType: types.FieldString, Categorical: true},
	}}
	h1, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: schema,
		Payload: payload("X1,10,a\n"),
	})
	require.NoError(t, err)

	bad := &types.SchemaDefinition{Fields: []types.FieldSchema{
		{FieldName: "id", FieldType: types.FieldString, BusinessKey: true},
		{FieldName: "amount", FieldType: types.FieldString},
		{FieldName: "region", FieldType: types.FieldString, Categorical: true},
	}}
	_, err = svc.UpdateDataset(ctx, UpdateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: bad,
		Prior:   types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion),
		Payload: payload("X1,10,a\n"),
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.InputInvalid, dataerr.KindOf(err))

	tag, err := svc.catalogue.ReadObject(ctx, testTenant, types.LatestVersionSelector(h1.ObjectID))
	require.NoError(t, err)
	assert.Equal(t, 1, tag.Header.ObjectVersion)
}

// S4 + properties 4/5: two concurrent updates racing on the same prior
// version; exactly one wins, the other observes DUPLICATE, and a read at v2
// returns the winner's payload.
func TestConcurrentUpdateRace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	schema := &types.SchemaDefinition{Fields: []types.FieldSchema{{FieldName: "id", FieldType: types.FieldString}}}
	h1, err := svc.CreateDataset(ctx, CreateDatasetRequest{
		Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: schema, Payload: payload("a\n"),
	})
	require.NoError(t, err)

	sel := types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateDataset(ctx, UpdateDatasetRequest{
				Tenant: testTenant, Format: codec.FormatCSV, SchemaLiteral: schema,
				Prior: sel, Payload: payload("winner\n"),
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, dataerr.Duplicate, dataerr.KindOf(err))
		}
	}
	assert.Equal(t, 1, successes)

	tag, err := svc.catalogue.ReadObject(ctx, testTenant, types.ExplicitSelector(h1.ObjectID, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, tag.Header.ObjectVersion)
}

// S6 + property 6: declared size mismatch fails DATA_SIZE. CreateFile
// returns before its catalogue commit in that case; this test checks the
// error kind only.
func TestCreateFileWrongSize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "b.txt", MimeType: "text/plain",
		DeclaredSize: 10, Payload: payload("Hello, world!\n"),
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.DataSize, dataerr.KindOf(err))
}

func TestReadMissingObjectFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.ReadFile(ctx, ReadFileRequest{
		Tenant: testTenant, Selector: types.LatestVersionSelector(uuid.New()), Limit: -1,
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.Missing, dataerr.KindOf(err))
}

// File update immutability: extension changes are rejected with
// VERSION_INVALID (§4.3).
func TestUpdateFileImmutableFieldsRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	content := "hello"
	h, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "c.bin", MimeType: "application/octet-stream",
		DeclaredSize: int64(len(content)), Payload: payload(content),
	})
	require.NoError(t, err)

	_, err = svc.UpdateFile(ctx, UpdateFileRequest{
		Tenant: testTenant, Name: "c.txt", DeclaredSize: int64(len(content)),
		Prior: types.ExplicitSelector(h.ObjectID, h.ObjectVersion, h.TagVersion), Payload: payload(content),
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.VersionInvalid, dataerr.KindOf(err))
}

// Property 2: version monotonicity on file update.
func TestUpdateFileVersionMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	content := "v1"
	h1, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "d.bin", MimeType: "application/octet-stream",
		DeclaredSize: int64(len(content)), Payload: payload(content),
	})
	require.NoError(t, err)

	content2 := "version two"
	h2, err := svc.UpdateFile(ctx, UpdateFileRequest{
		Tenant: testTenant, Name: "d.bin", DeclaredSize: int64(len(content2)),
		Prior: types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion), Payload: payload(content2),
	})
	require.NoError(t, err)
	assert.Equal(t, h1.ObjectVersion+1, h2.ObjectVersion)
	assert.Equal(t, 1, h2.TagVersion)

	res, err := svc.ReadFile(ctx, ReadFileRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(h2.ObjectID, h2.ObjectVersion, h2.TagVersion), Limit: -1,
	})
	require.NoError(t, err)
	w := &collectingWriter{}
	require.NoError(t, res.Stream(ctx, w))
	assert.Equal(t, content2, string(w.data))
}

// Property 3: tag monotonicity. saveNewTag on a committed version advances
// tag_version by exactly 1; saving twice concurrently on the same prior tag
// leaves exactly one winner, the loser observing DUPLICATE; saving a tag on
// a version that was never committed fails MISSING.
func TestUpdateTagsMonotonicity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	content := "hello"
	h1, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "f.bin", MimeType: "application/octet-stream",
		DeclaredSize: int64(len(content)), Payload: payload(content),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h1.TagVersion)

	sel := types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion)
	h2, err := svc.UpdateTags(ctx, UpdateTagsRequest{
		Tenant: testTenant, Selector: sel,
		TagUpdates: []types.TagUpdate{{AttrName: "owner", Op: types.TagOpCreate, Value: "alice"}},
	})
	require.NoError(t, err)
	assert.Equal(t, h1.ObjectVersion, h2.ObjectVersion)
	assert.Equal(t, 2, h2.TagVersion)

	tag, err := svc.catalogue.ReadObject(ctx, testTenant, types.ExplicitSelector(h2.ObjectID, h2.ObjectVersion, h2.TagVersion))
	require.NoError(t, err)
	assert.Equal(t, "alice", tag.Attrs["owner"])

	latest := types.LatestTagSelector(h1.ObjectID, h1.ObjectVersion)
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateTags(ctx, UpdateTagsRequest{
				Tenant: testTenant, Selector: latest,
				TagUpdates: []types.TagUpdate{{AttrName: "owner", Op: types.TagOpReplace, Value: "racer"}},
			})
			results[i] = err
		}(i)
	}
	wg.Wait()
	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, dataerr.Duplicate, dataerr.KindOf(err))
		}
	}
	assert.Equal(t, 1, successes)

	_, err = svc.UpdateTags(ctx, UpdateTagsRequest{
		Tenant: testTenant, Selector: types.ExplicitSelector(uuid.New(), 1, 1),
		TagUpdates: []types.TagUpdate{{AttrName: "owner", Op: types.TagOpCreate, Value: "nobody"}},
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.Missing, dataerr.KindOf(err))
}

// Property 5: a writer with a stale prior selector is rejected with
// DUPLICATE once a newer version has landed. The rejection comes from the
// catalogue's prior-version check at commit, after the payload has been
// written to a fresh path: UpdateFile runs the supersession check against
// the storage version that the stale prior tag names, which never holds the
// new data item, so that check does not fire here.
func TestSupersessionFastPath(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	content := "v1"
	h1, err := svc.CreateFile(ctx, CreateFileRequest{
		Tenant: testTenant, Name: "e.bin", MimeType: "application/octet-stream",
		DeclaredSize: int64(len(content)), Payload: payload(content),
	})
	require.NoError(t, err)

	_, err = svc.UpdateFile(ctx, UpdateFileRequest{
		Tenant: testTenant, Name: "e.bin", DeclaredSize: 2,
		Prior: types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion), Payload: payload("v2"),
	})
	require.NoError(t, err)

	// A second update still quoting the stale v1 selector loses the race at
	// the catalogue's writeBatch, whose head for the object is already v2.
	_, err = svc.UpdateFile(ctx, UpdateFileRequest{
		Tenant: testTenant, Name: "e.bin", DeclaredSize: 2,
		Prior: types.ExplicitSelector(h1.ObjectID, h1.ObjectVersion, h1.TagVersion), Payload: payload("v3"),
	})
	require.Error(t, err)
	assert.Equal(t, dataerr.Duplicate, dataerr.KindOf(err))
}
