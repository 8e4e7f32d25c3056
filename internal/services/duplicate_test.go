package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(nil))
	a := Fingerprint([]byte("photo"))
	assert.Len(t, a, 64, "256-bit digest, hex encoded")
	assert.Equal(t, a, Fingerprint([]byte("photo")))
	assert.NotEqual(t, a, Fingerprint([]byte("photo2")))
}

func TestCheckAndRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fp, dup, conflicting, err := h.guard.CheckAndRegister(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, fp)
	assert.False(t, dup)
	assert.Nil(t, conflicting)

	fp, dup, conflicting, err = h.guard.CheckAndRegister(ctx, []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, Fingerprint([]byte("img")), fp)
	assert.False(t, dup)
	assert.Nil(t, conflicting)

	sub := basicSubmission("c1")
	sub.Photo = []byte("img")
	r := h.submit(t, sub)

	_, dup, conflicting, err = h.guard.CheckAndRegister(ctx, []byte("img"))
	require.NoError(t, err)
	assert.True(t, dup)
	require.NotNil(t, conflicting)
	assert.Equal(t, r.Seq, *conflicting)
}
