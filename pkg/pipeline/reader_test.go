package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataplane/pkg/codec/csvcodec"
	"github.com/cuemby/dataplane/pkg/storagebackend/localfs"
	"github.com/cuemby/dataplane/pkg/types"
)

type collectingWriter struct {
	data []byte
}

func (c *collectingWriter) Emit(ctx context.Context, data []byte) error {
	c.data = append(c.data, data...)
	return nil
}

func writeFixture(t *testing.T, dir, path, contents string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
}

func TestRunFileReaderEmitsWholeFile(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "FILE/obj/version-1-xabc/report.csv", "hello world")
	backend := localfs.New(dir)

	out := &collectingWriter{}
	err := RunFileReader(context.Background(), backend, "FILE/obj/version-1-xabc/report.csv", 0, -1, out)
	require.NoError(t, err)

	assert.Equal(t, "hello world", string(out.data))
}

func TestRunFileReaderAppliesOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "FILE/obj/version-1-xabc/report.csv", "0123456789")
	backend := localfs.New(dir)

	out := &collectingWriter{}
	err := RunFileReader(context.Background(), backend, "FILE/obj/version-1-xabc/report.csv", 3, 4, out)
	require.NoError(t, err)

	assert.Equal(t, "3456", string(out.data))
}

func TestRunDataReaderAppliesRowSkipAndLimit(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "data/DATA/obj/part/snap-0/delta-0.csv", "1,a\n2,b\n3,c\n4,d\n")
	backend := localfs.New(dir)

	out := &collectingWriter{}
	c := csvcodec.New()
	err := RunDataReader(context.Background(), backend, "data/DATA/obj/part/snap-0/delta-0.csv", c, types.SchemaDefinition{}, 1, 2, out)
	require.NoError(t, err)

	assert.Equal(t, "2,b\n3,c\n", string(out.data))
}

func TestRunDataReaderUnboundedLimitEmitsAllRows(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "data/DATA/obj/part/snap-0/delta-0.csv", "1,a\n2,b\n")
	backend := localfs.New(dir)

	out := &collectingWriter{}
	c := csvcodec.New()
	err := RunDataReader(context.Background(), backend, "data/DATA/obj/part/snap-0/delta-0.csv", c, types.SchemaDefinition{}, 0, -1, out)
	require.NoError(t, err)

	assert.Equal(t, "1,a\n2,b\n", string(out.data))
}
