package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndInspect(t *testing.T) {
	tok, exp, err := Generate(DefaultOptions([]byte("k")), "u1", "Alice")
	require.NoError(t, err)

	info := Inspect(tok)
	assert.True(t, info.IsJWT)
	assert.Equal(t, "u1", info.Subject)
	assert.Equal(t, exp.Unix(), info.ExpireAt.Unix())
}

func TestCheckExpiry(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	opts.TTL = time.Minute
	tok, exp, err := Generate(opts, "u1", "")
	require.NoError(t, err)

	assert.NoError(t, CheckExpiry(tok, exp.Add(-30*time.Second)))
	assert.Error(t, CheckExpiry(tok, exp.Add(time.Second)))
	// opaque tokens are left to the server
	assert.NoError(t, CheckExpiry("opaque-token", time.Now()))
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("k"), Alg: "RS256"}, "u1", "")
	assert.Error(t, err)
}
