package token

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexToken = regexp.MustCompile(`^[a-f0-9]{32}$`)

func TestRandomIssuerProducesDistinctHexTokens(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := RandomIssuer{}.Issue()
		require.NoError(t, err)
		require.Regexp(t, hexToken, tok)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %s", tok)
		seen[tok] = struct{}{}
	}
}

func TestHashIsStableAndDistinct(t *testing.T) {
	a := Hash("aaaa")
	assert.Equal(t, a, Hash("aaaa"))
	assert.NotEqual(t, a, Hash("aaab"))
	assert.Len(t, a, 64)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.False(t, Equal("abc", ""))
}
