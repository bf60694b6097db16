// Package digest implements the content-addressing primitive used to
// identify WebAssembly components and service definitions.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Algo identifies the hash function a Digest was produced with.
type Algo string

const (
	// AlgoSHA256 is the only algorithm this implementation produces, but
	// the prefix keeps the text form extensible.
	AlgoSHA256 Algo = "sha256"
)

// Digest is a content hash with a printable algorithm prefix, round-
// trippable to and from its text form ("sha256:<hex>").
type Digest struct {
	algo Algo
	sum  [sha256.Size]byte
}

// Of hashes b and returns its digest.
func Of(b []byte) Digest {
	return Digest{algo: AlgoSHA256, sum: sha256.Sum256(b)}
}

// Parse decodes a digest from its text form, e.g. "sha256:e3b0c4...".
func Parse(s string) (Digest, error) {
	algo, hexSum, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("digest: malformed %q: missing algorithm prefix", s)
	}
	if Algo(algo) != AlgoSHA256 {
		return Digest{}, fmt.Errorf("digest: unsupported algorithm %q", algo)
	}
	raw, err := hex.DecodeString(hexSum)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: invalid hex in %q: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return Digest{}, fmt.Errorf("digest: expected %d bytes, got %d", sha256.Size, len(raw))
	}
	d := Digest{algo: AlgoSHA256}
	copy(d.sum[:], raw)
	return d, nil
}

// FromHex reconstructs a Digest from a bare hex string (no algorithm
// prefix), the form used as the map/table key wherever a Digest is
// carried as a plain service.ID string (registry keys, trigger configs,
// chain messages).
func FromHex(hexSum string) (Digest, error) {
	return Parse(string(AlgoSHA256) + ":" + hexSum)
}

// String renders the digest in its text form.
func (d Digest) String() string {
	return string(d.algo) + ":" + hex.EncodeToString(d.sum[:])
}

// Hex returns the bare lowercase hex encoding, with no algorithm prefix.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.sum[:])
}

// IsZero reports whether d is the zero value (not a valid digest of
// anything, used as a sentinel for "absent").
func (d Digest) IsZero() bool {
	return d.algo == "" && d.sum == [sha256.Size]byte{}
}

// Equal reports whether d and other identify the same content.
func (d Digest) Equal(other Digest) bool {
	return d.algo == other.algo && d.sum == other.sum
}

// MarshalText implements encoding.TextMarshaler so Digest can be used
// directly as a JSON string field.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ShardPath returns the two-level directory fan-out prefix used by the
// on-disk blob store: the first two hex characters, then the next two.
func (d Digest) ShardPath() (level1, level2 string) {
	h := d.Hex()
	return h[0:2], h[2:4]
}
