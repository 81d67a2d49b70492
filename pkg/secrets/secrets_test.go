package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/pkg/secrets"
)

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	cipher, err := secrets.NewFromString("app-secret")
	require.NoError(t, err)

	sealed, err := cipher.EncryptString("sk-live-abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-live-abc123", sealed)

	opened, err := cipher.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", opened)
}

func TestCipherNonceUnique(t *testing.T) {
	t.Parallel()

	cipher, err := secrets.NewFromString("app-secret")
	require.NoError(t, err)

	first, err := cipher.EncryptString("same value")
	require.NoError(t, err)
	second, err := cipher.EncryptString("same value")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCipherWrongKey(t *testing.T) {
	t.Parallel()

	sealer, err := secrets.NewFromString("key one")
	require.NoError(t, err)
	opener, err := secrets.NewFromString("key two")
	require.NoError(t, err)

	sealed, err := sealer.EncryptString("secret")
	require.NoError(t, err)

	_, err = opener.DecryptString(sealed)
	assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
}

func TestCipherInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := secrets.New(nil)
	assert.ErrorIs(t, err, secrets.ErrEmptyKey)

	cipher, err := secrets.NewFromString("app-secret")
	require.NoError(t, err)

	_, err = cipher.DecryptString("not base64!!!")
	assert.ErrorIs(t, err, secrets.ErrInvalidCiphertext)

	_, err = cipher.DecryptString("c2hvcnQ=")
	assert.ErrorIs(t, err, secrets.ErrInvalidCiphertext)
}
