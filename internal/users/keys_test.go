package users

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		k, err := GenerateKey()
		require.NoError(t, err)
		require.Len(t, k, 22)
		_, err = base64.RawURLEncoding.DecodeString(k)
		require.NoError(t, err)
		require.False(t, seen[k])
		seen[k] = true
	}
}

func TestHashAndVerifyKey(t *testing.T) {
	h := HashKey("secret")
	require.Len(t, h, 64)
	require.Equal(t, h, HashKey("secret"))
	require.True(t, VerifyKey("secret", h))
	require.False(t, VerifyKey("Secret", h))
	require.False(t, VerifyKey("secret", ""))
}
