package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAESBoxRoundTrip(t *testing.T) {
	box, err := NewAESBox("test-key")
	require.NoError(t, err)

	for _, plain := range []string{"", "hunter2", "pässwörd with spaces"} {
		enc, err := box.Encrypt(plain)
		require.NoError(t, err)
		if plain != "" {
			assert.NotContains(t, enc, plain)
		}
		dec, err := box.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestAESBoxNonceIsFresh(t *testing.T) {
	box, err := NewAESBox("test-key")
	require.NoError(t, err)
	a, _ := box.Encrypt("same")
	b, _ := box.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestAESBoxRejects(t *testing.T) {
	_, err := NewAESBox("")
	assert.ErrorIs(t, err, ErrEmptyKey)

	box, err := NewAESBox("k1")
	require.NoError(t, err)
	other, err := NewAESBox("k2")
	require.NoError(t, err)

	enc, err := box.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrCiphertext)
	_, err = box.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrCiphertext)
	_, err = box.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestAESBoxRoundTripProperty(t *testing.T) {
	box, err := NewAESBox("prop-key")
	require.NoError(t, err)
	rapid.Check(t, func(rt *rapid.T) {
		plain := rapid.String().Draw(rt, "plain")
		enc, err := box.Encrypt(plain)
		require.NoError(rt, err)
		dec, err := box.Decrypt(enc)
		require.NoError(rt, err)
		require.Equal(rt, plain, dec)
	})
}
