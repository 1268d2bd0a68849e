package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LoanCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewLoanCache(mr.Addr(), time.Minute)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLoanCache_SetGetInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()
	payload := []byte(`{"id":"` + id.String() + `"}`)

	_, ok := c.Get(ctx, id)
	assert.False(t, ok, "empty cache must miss")

	require.NoError(t, c.Set(ctx, id, payload))

	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	require.NoError(t, c.Invalidate(ctx, id))
	_, ok = c.Get(ctx, id)
	assert.False(t, ok, "invalidated entry must miss")
}

func TestLoanCache_KeysAreIsolatedByLoan(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()

	require.NoError(t, c.Set(ctx, first, []byte("first")))
	require.NoError(t, c.Set(ctx, second, []byte("second")))
	require.NoError(t, c.Invalidate(ctx, first))

	_, ok := c.Get(ctx, first)
	assert.False(t, ok)
	got, ok := c.Get(ctx, second)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}
