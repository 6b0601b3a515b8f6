package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmuse/automaton/internal/conversation"
)

func TestMemoryStoreUpsertRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := conversation.Key{DeviceID: "dev-1", Phone: "60123456789"}
	now := time.Now().UTC()

	w, created, err := store.Upsert(ctx, key, Fragment{Text: "a", ReceivedAt: now}, now.Add(4*time.Second))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = store.Upsert(ctx, key, Fragment{Text: "b", ReceivedAt: now.Add(time.Second)}, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Remove(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a\nb", got.MergedText())
	assert.Equal(t, w.Token, got.Token)

	missing, err := store.Remove(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreSnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := conversation.Key{DeviceID: "dev-1", Phone: "60123456789"}
	now := time.Now().UTC()

	first, _, err := store.Upsert(ctx, key, Fragment{Text: "a", ReceivedAt: now}, now.Add(4*time.Second))
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the store.
	first.Fragments[0].Text = "mutated"

	got, err := store.Remove(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a", got.MergedText())
}

func TestMemoryStoreListAbandoned(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := conversation.Key{DeviceID: "dev-1", Phone: "60111111111"}
	_, _, err := store.Upsert(ctx, stale, Fragment{Text: "old", ReceivedAt: now.Add(-15 * time.Minute)}, now.Add(-15*time.Minute))
	require.NoError(t, err)

	fresh := conversation.Key{DeviceID: "dev-1", Phone: "60122222222"}
	_, _, err = store.Upsert(ctx, fresh, Fragment{Text: "new", ReceivedAt: now}, now.Add(4*time.Second))
	require.NoError(t, err)

	abandoned, err := store.ListAbandoned(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, stale, abandoned[0].Key)
}

func TestMemoryStoreRestorePutsWindowBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := conversation.NewKey("dev-1", "60123456789")
	now := time.Now()

	_, _, err := store.Upsert(ctx, key, Fragment{Text: "a", ReceivedAt: now}, now.Add(4*time.Second))
	require.NoError(t, err)

	w, err := store.Remove(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, w)

	require.NoError(t, store.Restore(ctx, w))

	back, err := store.Remove(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, w.Token, back.Token)
}
