package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/chartbridge/chartbridge/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testToken struct {
	Value  string
	Expiry time.Time
}

func TestMemory_GetMiss(t *testing.T) {
	c, err := cache.NewMemory[testToken](time.Hour, 100)
	require.NoError(t, err)

	_, found, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_SetThenGet(t *testing.T) {
	c, err := cache.NewMemory[testToken](time.Hour, 100)
	require.NoError(t, err)

	tok := testToken{Value: "token-1", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, c.Set(context.Background(), "key", tok))

	got, found, err := c.Get(context.Background(), "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tok, got)
}

func TestMemory_SetReplaces(t *testing.T) {
	c, err := cache.NewMemory[testToken](time.Hour, 100)
	require.NoError(t, err)

	require.NoError(t, c.Set(context.Background(), "key", testToken{Value: "first"}))
	require.NoError(t, c.Set(context.Background(), "key", testToken{Value: "second"}))

	got, found, err := c.Get(context.Background(), "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", got.Value)
}

func TestMemory_Invalidate(t *testing.T) {
	c, err := cache.NewMemory[testToken](time.Hour, 100)
	require.NoError(t, err)

	require.NoError(t, c.Set(context.Background(), "key", testToken{Value: "token"}))
	require.NoError(t, c.Invalidate(context.Background(), "key"))

	_, found, err := c.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInstrumented_DelegatesToWrapped(t *testing.T) {
	mem, err := cache.NewMemory[testToken](time.Hour, 100)
	require.NoError(t, err)

	c := cache.NewInstrumented[testToken](mem, "memory")

	tok := testToken{Value: "token-1"}
	require.NoError(t, c.Set(context.Background(), "key", tok))

	got, found, err := c.Get(context.Background(), "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tok, got)

	require.NoError(t, c.Invalidate(context.Background(), "key"))
	_, found, err = c.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.False(t, found)
}
