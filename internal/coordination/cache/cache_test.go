package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletkv/corestore/internal/coordination"
	"github.com/tabletkv/corestore/internal/coordination/watch"
)

func TestGetDataPopulatesFromStore(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/a", []byte("v1"))
	c := New(client)
	defer c.Close()

	data, present, err := c.GetData(context.Background(), "/a")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []byte("v1"), data)
}

// Scenario 4: Cache negative.
func TestGetDataNegativeCachingMakesExactlyOneExistsCall(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	c := New(client)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 11; i++ {
		data, present, err := c.GetData(ctx, "/missing")
		require.NoError(t, err)
		assert.False(t, present)
		assert.Nil(t, data)
	}
	assert.Equal(t, 1, client.ExistsCallCount("/missing"))

	client.CreateNode("/missing", []byte("now here"))
	// Allow the coherence watcher's eviction to land before the next read.
	require.Eventually(t, func() bool {
		data, present, err := c.GetData(ctx, "/missing")
		return err == nil && present && string(data) == "now here"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, client.ExistsCallCount("/missing"))
	assert.Equal(t, 1, client.GetDataCallCount("/missing"))
}

// Scenario 5: Cache session loss.
func TestSessionExpiryEvictsAllSlots(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/a", []byte("a"))
	client.CreateNode("/b", []byte("b"))
	client.CreateNode("/c", []byte("c"))
	c := New(client)
	defer c.Close()

	ctx := context.Background()
	for _, p := range []string{"/a", "/b", "/c"} {
		_, present, err := c.GetData(ctx, p)
		require.NoError(t, err)
		assert.True(t, present)
	}

	client.FireSession(coordination.Expired)

	for _, p := range []string{"/a", "/b", "/c"} {
		require.Eventually(t, func() bool {
			c.mu.Lock()
			_, ok := c.slots[p]
			c.mu.Unlock()
			return !ok
		}, time.Second, 5*time.Millisecond)
	}

	before := client.ExistsCallCount("/a")
	_, present, err := c.GetData(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Greater(t, client.ExistsCallCount("/a"), before)
}

// Scenario 6: Cache concurrent modification.
func TestConcurrentModificationRetriesAndCachesOnlyStableResult(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/x", []byte("stable"))
	client.InjectGetDataError("/x", coordination.ErrVersionMismatch)

	c := New(client)
	defer c.Close()

	data, present, err := c.GetData(context.Background(), "/x")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []byte("stable"), data)

	// The faulted attempt must not have poisoned the cache: the slot now
	// holds exactly the second, stable result.
	assert.Equal(t, 2, client.GetDataCallCount("/x"))
}

// Cache idempotence.
func TestClearIsIdempotent(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/a", []byte("a"))
	c := New(client)
	defer c.Close()

	_, _, err := c.GetData(context.Background(), "/a")
	require.NoError(t, err)

	c.Clear()
	c.Clear()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.slots)
}

// Cache prefix eviction.
func TestClearPrefixOnlyDropsMatchingSlots(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/a/1", []byte("1"))
	client.CreateNode("/a/2", []byte("2"))
	client.CreateNode("/b/1", []byte("3"))
	c := New(client)
	defer c.Close()

	ctx := context.Background()
	for _, p := range []string{"/a/1", "/a/2", "/b/1"} {
		_, _, err := c.GetData(ctx, p)
		require.NoError(t, err)
	}

	c.ClearPrefix("/a")

	c.mu.Lock()
	_, hasA1 := c.slots["/a/1"]
	_, hasA2 := c.slots["/a/2"]
	_, hasB1 := c.slots["/b/1"]
	c.mu.Unlock()

	assert.False(t, hasA1)
	assert.False(t, hasA2)
	assert.True(t, hasB1)
}

// Cache coherence.
func TestDataChangeEvictsAndRefetches(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/a", []byte("v1"))
	c := New(client)
	defer c.Close()

	ctx := context.Background()
	data, _, err := c.GetData(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	client.SetData("/a", []byte("v2"))

	require.Eventually(t, func() bool {
		data, _, err := c.GetData(ctx, "/a")
		return err == nil && string(data) == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestGetChildrenReturnsEmptyListForChildlessNode(t *testing.T) {
	client := watch.NewFakeCoordinationClient()
	client.CreateNode("/parent", nil)
	c := New(client)
	defer c.Close()

	ctx := context.Background()
	children, present, err := c.GetChildren(ctx, "/parent")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Empty(t, children)
}
