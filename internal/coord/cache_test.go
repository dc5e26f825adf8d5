package coord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSetDelete(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok := c.CacheGet(ctx, "query:r1:x")
	assert.False(t, ok, "expected miss before set")

	require.True(t, c.CacheSet(ctx, "query:r1:x", []byte(`{"n":1}`), time.Minute))
	assert.True(t, mr.Exists("cache:query:r1:x"), "expected key under cache namespace")

	v, ok := c.CacheGet(ctx, "query:r1:x")
	require.True(t, ok, "expected hit after set")
	assert.Equal(t, `{"n":1}`, string(v))

	assert.True(t, c.CacheDelete(ctx, "query:r1:x"))
	_, ok = c.CacheGet(ctx, "query:r1:x")
	assert.False(t, ok, "expected miss after delete")
}

func TestCacheDeletePattern(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.True(t, c.CacheSet(ctx, fmt.Sprintf("query:r1:q%d", i), []byte("1"), time.Minute))
	}
	require.True(t, c.CacheSet(ctx, "query:r2:q0", []byte("1"), time.Minute))
	require.NoError(t, mr.Set("lock:query:r1:q0", "1"))

	n := c.CacheDeletePattern(ctx, "query:r1:*")
	assert.Equal(t, 250, n, "expected every matching key to be deleted")
	assert.True(t, mr.Exists("cache:query:r2:q0"), "expected other rooms to be untouched")
	assert.True(t, mr.Exists("lock:query:r1:q0"), "expected other namespaces to be untouched")
}
