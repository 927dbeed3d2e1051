package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	assert := assert.New(t)

	h, err := NewHasher("master-secret", "1")
	require.NoError(t, err)

	first := h.Fingerprint("device", "abc-123")
	second := h.Fingerprint("device", "abc-123")
	assert.Equal(first, second)
	assert.Len(first, 64)
	assert.Regexp("^[0-9a-f]{64}$", first)
}

func TestFingerprintInputSensitivity(t *testing.T) {
	assert := assert.New(t)

	h, err := NewHasher("master-secret", "1")
	require.NoError(t, err)

	base := h.Fingerprint("device", "abc-123")
	assert.NotEqual(base, h.Fingerprint("device", "abc-124"))
	assert.NotEqual(base, h.Fingerprint("account", "abc-123"))

	// the ref/install boundary is unambiguous
	assert.NotEqual(h.Fingerprint("devicea", "bc"), h.Fingerprint("device", "abc"))
}

func TestFingerprintRotation(t *testing.T) {
	assert := assert.New(t)

	h1, err := NewHasher("master-secret", "1")
	require.NoError(t, err)
	h2, err := NewHasher("master-secret", "2")
	require.NoError(t, err)
	h3, err := NewHasher("other-secret", "1")
	require.NoError(t, err)

	base := h1.Fingerprint("device", "abc-123")
	assert.NotEqual(base, h2.Fingerprint("device", "abc-123"))
	assert.NotEqual(base, h3.Fingerprint("device", "abc-123"))
}
