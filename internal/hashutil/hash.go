// Package hashutil computes the SHA-256 digests that underlie every job and
// dependency identity in R3: a lowercase hex digest per hashed file, and the
// same over the canonically-encoded entry list that becomes a job's id.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is a lowercase hex-encoded SHA-256 digest.
type Digest string

// HashBytes returns the digest of data directly, with no file I/O.
func HashBytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// HashFile streams path's contents through SHA-256 without holding the
// whole file in memory, mirroring how gitcore streams loose objects through
// zlib rather than slurping them.
func HashFile(path string) (Digest, error) {
	//nolint:gosec // G304: path is produced by the job walk, constrained to the staged job root.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// HashReader streams r through SHA-256. Used when the source is already
// open (e.g. a pipe or an in-progress download) rather than a bare path.
func HashReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing stream: %w", err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
