// ============================================================================
// Watch Channel
// ============================================================================
//
// Package: internal/coordination/watch
// File: channel.go
// Purpose: A thin adaptor over a session-based coordination.Client that
// re-arms watches implicitly so callers never manage watch lifetimes
// themselves — EventsFor(ctx, path) hands back a channel that keeps
// delivering events for path until ctx is canceled.
//
// ============================================================================

package watch

import (
	"context"
	"fmt"

	"github.com/tabletkv/corestore/internal/coordination"
)

// Channel delivers change events for coordination-store paths, re-arming
// its underlying watch on every successful read.
type Channel interface {
	// EventsFor returns a channel of events for path. The channel is
	// closed when ctx is done; until then it keeps re-arming and
	// delivering events as they occur, including session-level events.
	// Session-level events are read from the client's single shared
	// SessionEvents channel, so when several consumers read it at once
	// (other EventsFor channels, a cache) each event reaches only one.
	EventsFor(ctx context.Context, path string) (<-chan coordination.Event, error)
}

// clientChannel is the default Channel, built directly over a
// coordination.Client: every armed watch is a one-shot channel from the
// client, so re-arming means re-issuing the same call once the previous
// watch fires.
type clientChannel struct {
	client coordination.Client
}

// NewChannel builds a Channel backed by client.
func NewChannel(client coordination.Client) Channel {
	return &clientChannel{client: client}
}

func (c *clientChannel) EventsFor(ctx context.Context, path string) (<-chan coordination.Event, error) {
	out := make(chan coordination.Event)

	// Confirm the path is currently watchable before returning a channel;
	// Exists also arms the first watch, whether or not path exists.
	_, _, first, err := c.client.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("watch: arm %s: %w", path, err)
	}

	go c.pump(ctx, path, first, out)

	return out, nil
}

// pump forwards watch firings and session events for path to out,
// re-arming the path watch after each one, until ctx is done.
func (c *clientChannel) pump(ctx context.Context, path string, armed <-chan coordination.Event, out chan<- coordination.Event) {
	defer close(out)

	session := c.client.SessionEvents()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-session:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}

		case ev, ok := <-armed:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}

			// Re-arm: a deleted node can never be watched again via
			// Exists for data/children, but Exists itself still arms on
			// the eventual re-creation.
			_, _, next, err := c.client.Exists(path)
			if err != nil {
				return
			}
			armed = next
		}
	}
}
