package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Hasher turns caller-supplied identity material into the one-way digests the
// ledger is keyed by. The pepper never leaves the server: it is derived from a
// master secret and a rotation epoch via HKDF-SHA256, so bumping either one
// invalidates every previously stored fingerprint in a single config change.
type Hasher struct {
	pepper []byte
}

func NewHasher(masterSecret, epoch string) (*Hasher, error) {
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("report-pepper/"+epoch))

	pepper := make([]byte, 32)
	if _, err := io.ReadFull(kdf, pepper); err != nil {
		return nil, err
	}

	return &Hasher{pepper: pepper}, nil
}

// Fingerprint returns a 64-character lowercase hex digest of ref and installID,
// keyed by the pepper. Deterministic: identical inputs always produce the
// identical digest. The raw inputs are never stored anywhere.
func (h *Hasher) Fingerprint(ref, installID string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(ref))
	mac.Write([]byte{0x1f})
	mac.Write([]byte(installID))

	return hex.EncodeToString(mac.Sum(nil))
}
