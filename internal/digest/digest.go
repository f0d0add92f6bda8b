// Package digest computes block fingerprints: SHA-256 over the canonical
// payload, encoded with standard base64.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/jmerrifield20/chainledger/internal/canonical"
)

// Size is the length of an encoded fingerprint.
var Size = base64.StdEncoding.EncodedLen(sha256.Size)

// Sum returns the base64-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(h[:])
}

// Fingerprint canonicalises c with the watermark and record id and digests
// the result.
func Fingerprint(c canonical.Content, watermark, recordID string) (string, error) {
	payload, err := canonical.Canonicalize(c, watermark, recordID)
	if err != nil {
		return "", err
	}
	return Sum(payload), nil
}

// Sealed digests content that has already been serialised.
func Sealed(serialized, watermark, recordID string) string {
	return Sum(canonical.Seal(serialized, watermark, recordID))
}

// Global digests the in-order concatenation of fingerprints. It summarises
// the state of a whole chain in one value.
func Global(fingerprints []string) string {
	return Sum([]byte(strings.Join(fingerprints, "")))
}

// Decode returns the raw 32-byte digest behind an encoded fingerprint.
func Decode(fingerprint string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(fingerprint)
}
