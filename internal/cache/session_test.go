package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionCache(t *testing.T) {
	sc := NewSessionCache(newMemStore(), Options{TTL: time.Hour}, testutil.TestLogger(t), stats.Discard)
	ctx := context.Background()

	want := Session{
		ConnectionID: "conn-1",
		UserID:       "u1",
		Username:     "alex",
		RoomID:       "room-1",
		ConnectedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	sc.Set(ctx, want)

	got, ok := sc.Get(ctx, "conn-1")
	assert.True(t, ok, "expected session to be cached")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	sc.Delete(ctx, "conn-1")
	_, ok = sc.Get(ctx, "conn-1")
	assert.False(t, ok, "expected session to be gone after delete")
}

func TestMessageCache(t *testing.T) {
	mc := NewMessageCache(newMemStore(), Options{}, testutil.TestLogger(t), stats.Discard)
	ctx := context.Background()

	mc.SetThread(ctx, "thread-1", 50, 0, []string{"m1", "m2"}, 0)
	mc.SetRecent(ctx, "room-1", 20, 0, []string{"m0"}, 0)

	var got []string
	assert.True(t, mc.GetThread(ctx, "thread-1", 50, 0, &got))
	assert.Equal(t, []string{"m1", "m2"}, got)
	assert.False(t, mc.GetThread(ctx, "thread-1", 50, 50, &got), "expected a different page to miss")

	assert.Equal(t, 1, mc.InvalidateThread(ctx, "thread-1"))
	assert.False(t, mc.GetThread(ctx, "thread-1", 50, 0, &got))
	assert.True(t, mc.GetRecent(ctx, "room-1", 20, 0, &got), "expected room listing untouched by thread invalidation")

	assert.Equal(t, 1, mc.InvalidateRoom(ctx, "room-1"))
	assert.False(t, mc.GetRecent(ctx, "room-1", 20, 0, &got))
}
