// Package fingerprint implements the build's sole content-hashing
// primitive (spec §4.1). Every cache key in the system — prebuild
// entries, compile fingerprints, string-set fingerprints for flag
// lists — is built from these two functions so that "equal fingerprint"
// means the same thing everywhere.
package fingerprint

import (
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/scidev/fab/internal/types"
)

// BytesFingerprint hashes data with a stable, fast, non-cryptographic
// checksum. It is deterministic across runs and machines for identical
// bytes; collisions are tolerated only to the width of the checksum —
// the system treats equal fingerprint as equal content.
func BytesFingerprint(data []byte) types.Fingerprint {
	return types.Fingerprint(xxhash.Sum64(data))
}

// StringFingerprint fingerprints a string (flag sets, tool identities)
// through the same primitive as file content.
func StringFingerprint(s string) types.Fingerprint {
	return types.Fingerprint(xxhash.Sum64String(s))
}

// FileFingerprint hashes the bytes of the file at path. It returns an
// IO error wrapped by the caller if the path is unreadable.
func FileFingerprint(path types.Path) (types.Fingerprint, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return 0, err
	}
	return BytesFingerprint(data), nil
}

// Combine folds a sequence of fingerprints into one, in the order
// given. Used to build composite keys such as
// hash(content_hash || tool_identity || tool_flags) where each part is
// already a Fingerprint or a string turned into one by the caller.
func Combine(parts ...types.Fingerprint) types.Fingerprint {
	h := xxhash.New()
	buf := make([]byte, 8)
	for _, p := range parts {
		for i := 0; i < 8; i++ {
			buf[i] = byte(p >> (8 * i))
		}
		h.Write(buf)
	}
	return types.Fingerprint(h.Sum64())
}

// CombineStrings is a convenience for composite keys built directly
// from strings (e.g. content || tool_identity || flags) without an
// intermediate Fingerprint for each part.
func CombineStrings(parts ...string) types.Fingerprint {
	h := xxhash.New()
	for _, p := range parts {
		h.WriteString(p)
		h.Write([]byte{0}) // separator so "ab","c" != "a","bc"
	}
	return types.Fingerprint(h.Sum64())
}
