package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("token")
	require.NoError(t, err)
	again, err := DeriveKey("token")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	ct, err := Seal([]byte("payload"), key)
	require.NoError(t, err)
	pt, err := Open(ct, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	other, err := DeriveKey("other")
	require.NoError(t, err)
	_, err = Open(ct, other)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Open([]byte{1, 2}, key)
	assert.Error(t, err)
}

func TestKeyFromToken(t *testing.T) {
	key, err := KeyFromToken("")
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = KeyFromToken("t")
	require.NoError(t, err)
	assert.NotNil(t, key)
}
