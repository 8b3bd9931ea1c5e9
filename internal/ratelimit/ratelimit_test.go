package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurst(t *testing.T) {
	kl := New(1, 2)
	defer kl.Stop()

	assert.True(t, kl.Allow("client-a"))
	assert.True(t, kl.Allow("client-a"))
	assert.False(t, kl.Allow("client-a"))
}

func TestKeysAreIndependent(t *testing.T) {
	kl := New(1, 1)
	defer kl.Stop()

	assert.True(t, kl.Allow("client-a"))
	assert.False(t, kl.Allow("client-a"))
	assert.True(t, kl.Allow("client-b"))
}

func TestWaitHonorsContext(t *testing.T) {
	kl := New(0.1, 1)
	defer kl.Stop()

	require.True(t, kl.Allow("client-a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := kl.Wait(ctx, "client-a")
	assert.Error(t, err)
}
