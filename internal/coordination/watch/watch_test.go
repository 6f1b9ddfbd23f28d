package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletkv/corestore/internal/coordination"
)

func TestFakeClientExistsReportsAbsence(t *testing.T) {
	c := NewFakeCoordinationClient()
	exists, _, _, err := c.Exists("/missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFakeClientGetDataReturnsNoNode(t *testing.T) {
	c := NewFakeCoordinationClient()
	_, _, _, err := c.GetData("/missing")
	assert.ErrorIs(t, err, coordination.ErrNoNode)
}

func TestFakeClientCreateThenGetData(t *testing.T) {
	c := NewFakeCoordinationClient()
	c.CreateNode("/a", []byte("hello"))

	data, stat, _, err := c.GetData("/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, int64(1), stat.Version)
}

func TestFakeClientWatchFiresOnceOnChange(t *testing.T) {
	c := NewFakeCoordinationClient()
	c.CreateNode("/a", []byte("v1"))

	_, _, watch, err := c.GetData("/a")
	require.NoError(t, err)

	c.SetData("/a", []byte("v2"))

	select {
	case ev := <-watch:
		assert.Equal(t, coordination.DataChanged, ev.Kind)
		assert.Equal(t, "/a", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}
}

func TestChannelEventsForRearmsAcrossMultipleChanges(t *testing.T) {
	c := NewFakeCoordinationClient()
	c.CreateNode("/a", []byte("v1"))
	ch := NewChannel(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ch.EventsFor(ctx, "/a")
	require.NoError(t, err)

	c.SetData("/a", []byte("v2"))
	select {
	case ev := <-events:
		assert.Equal(t, coordination.DataChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected first event")
	}

	c.SetData("/a", []byte("v3"))
	select {
	case ev := <-events:
		assert.Equal(t, coordination.DataChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected second event after rearm")
	}
}

func TestChannelDeliversSessionEvents(t *testing.T) {
	c := NewFakeCoordinationClient()
	c.CreateNode("/a", []byte("v1"))
	ch := NewChannel(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ch.EventsFor(ctx, "/a")
	require.NoError(t, err)

	c.FireSession(coordination.Expired)

	select {
	case ev := <-events:
		assert.Equal(t, coordination.Expired, ev.Kind)
		assert.True(t, ev.Kind.IsSessionLevel())
	case <-time.After(time.Second):
		t.Fatal("expected session event")
	}
}

func TestChannelClosesWhenContextCanceled(t *testing.T) {
	c := NewFakeCoordinationClient()
	c.CreateNode("/a", nil)
	ch := NewChannel(c)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := ch.EventsFor(ctx, "/a")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after cancellation")
	}
}
