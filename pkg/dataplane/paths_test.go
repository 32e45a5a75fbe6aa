package dataplane

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFilePath(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	got := FilePath(id, 2, "a1b2c3", "report.csv")
	assert.Equal(t, "FILE/11111111-1111-1111-1111-111111111111/version-2-xa1b2c3/report.csv", got)
}

func TestDataDeltaPath(t *testing.T) {
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	t.Run("with extension", func(t *testing.T) {
		got := DataDeltaPath(id, "region=us", 3, "deadbe", "csv")
		assert.Equal(t, "data/DATA/22222222-2222-2222-2222-222222222222/region=us/snap-3/delta-0-xdeadbe.csv", got)
	})

	t.Run("without extension", func(t *testing.T) {
		got := DataDeltaPath(id, "region=us", 0, "deadbe", "")
		assert.Equal(t, "data/DATA/22222222-2222-2222-2222-222222222222/region=us/snap-0/delta-0-xdeadbe", got)
	})
}

func TestDefaultSuffixSourceProducesDistinctHexSuffixes(t *testing.T) {
	src := DefaultSuffixSource()
	a, err := src.Suffix()
	assert.NoError(t, err)
	b, err := src.Suffix()
	assert.NoError(t, err)

	assert.Len(t, a, 6)
	assert.Len(t, b, 6)
	assert.NotEqual(t, a, b)
}
