package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAgentToken_ReturnsHexOfExpectedLength(t *testing.T) {
	token, err := GenerateAgentToken()
	require.NoError(t, err)
	require.Len(t, token, TokenLength*2)
	require.NoError(t, ValidateTokenFormat(token))
}

func TestHashAndCompareAgentToken_RoundTrips(t *testing.T) {
	hash, err := HashAgentToken("my-secret-token")
	require.NoError(t, err)
	require.NotEqual(t, "my-secret-token", hash)

	require.True(t, CompareAgentToken("my-secret-token", hash))
	require.False(t, CompareAgentToken("wrong-token", hash))
}

func TestCompareAgentToken_FalseForMalformedHash(t *testing.T) {
	require.False(t, CompareAgentToken("anything", "not-a-bcrypt-hash"))
}

func TestGenerateAgentTokenWithMetadata_HashMatchesPlaintext(t *testing.T) {
	meta, err := GenerateAgentTokenWithMetadata()
	require.NoError(t, err)
	require.True(t, CompareAgentToken(meta.PlaintextToken, meta.Hash))
}

func TestValidateTokenFormat_RejectsWrongLengthAndNonHex(t *testing.T) {
	require.Error(t, ValidateTokenFormat("too-short"))

	nonHex := make([]byte, TokenLength*2)
	for i := range nonHex {
		nonHex[i] = 'z'
	}
	require.Error(t, ValidateTokenFormat(string(nonHex)))
}
