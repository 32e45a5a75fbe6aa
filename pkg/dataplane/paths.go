package dataplane

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// RandomSuffixSource produces the 6-hex-digit, 24-bit random suffix that
// makes concurrent writers on the same prior version land distinct physical
// paths (invariant 4). Service.WithSuffixSource replaces it so tests can
// supply a deterministic source.
type RandomSuffixSource interface {
	Suffix() (string, error)
}

type cryptoSuffixSource struct{}

// DefaultSuffixSource draws from crypto/rand, the standard source for any
// unpredictable identifier this module needs.
func DefaultSuffixSource() RandomSuffixSource { return cryptoSuffixSource{} }

func (cryptoSuffixSource) Suffix() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("draw random path suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// FilePath builds the storage_path for one FILE object version, per
// invariant 4: type/object_id/version-v-xSUFFIX/name.
func FilePath(objectID uuid.UUID, version int, suffix, name string) string {
	return fmt.Sprintf("FILE/%s/version-%d-x%s/%s", objectID, version, suffix, name)
}

// DataDeltaPath builds the storage_path for one data delta, per invariant 4:
// data/type/object_id/part_key/snap-s/delta-d-xSUFFIX[.ext]. delta_index is
// always 0 for a produced write (§3).
func DataDeltaPath(objectID uuid.UUID, partKey string, snapIndex int, suffix, ext string) string {
	base := fmt.Sprintf("data/DATA/%s/%s/snap-%d/delta-0-x%s", objectID, partKey, snapIndex, suffix)
	if ext != "" {
		return base + "." + ext
	}
	return base
}
