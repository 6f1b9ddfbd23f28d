// ============================================================================
// Coordination Cache
// ============================================================================
//
// Package: internal/coordination/cache
// File: cache.go
// Purpose: A process-local, watch-driven cache of coordination-store path
// snapshots: data, stat, and children, each independently cacheable
// including as a negative (absent) result. Every populating call attaches
// a watch directly via coordination.Client (the same call that populates
// the slot also arms its own eviction) and session-level events flow
// through one long-lived listener on Client.SessionEvents. Populating
// reads run inside a bounded-backoff retry loop that also absorbs the
// concurrent-modification race between an Exists probe and the
// GetData/GetChildren call that follows it.
//
// The per-path slot map is a single mutex guarding a primary map plus a
// parallel watcher-cancellation index, generalized from the teacher's
// jobmanager.JobManager (one mutex over a primary map and secondary
// indexes) from job-state indexes to cache slots.
//
// ============================================================================

package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tabletkv/corestore/internal/coordination"
	"github.com/tabletkv/corestore/internal/metrics"
)

// errConcurrentModification is the local sentinel the retry loop
// recognizes as transient: a node was deleted or mutated between an
// Exists probe and the populating call that followed it. It is never
// cached and never surfaced to callers.
var errConcurrentModification = errors.New("cache: concurrent modification")

const (
	retryInitialSleep = 100 * time.Millisecond
	retryMaxSleep     = 10 * time.Second
)

type slot struct {
	haveData    bool
	dataPresent bool
	data        []byte
	stat        coordination.Stat

	haveChildren    bool
	childrenPresent bool
	children        []string
}

// Cache is a triple-keyed (data, stat, children) cache over coordination
// paths.
type Cache struct {
	client  coordination.Client
	collect *metrics.Collector // nil disables metric recording

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu           sync.Mutex
	slots        map[string]*slot
	watchCancel  map[string]context.CancelFunc // one active watcher per path, covering all three slots
	externalHook func(coordination.Event)
}

// New builds a Cache over client and starts its session-event listener.
func New(client coordination.Client) *Cache {
	return NewWithMetrics(client, nil)
}

// NewWithMetrics builds a Cache that also records hit/miss/negative-hit
// counts on collect. A nil collect disables metric recording, equivalent to
// New.
func NewWithMetrics(client coordination.Client, collect *metrics.Collector) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		client:      client,
		collect:     collect,
		baseCtx:     ctx,
		baseCancel:  cancel,
		slots:       make(map[string]*slot),
		watchCancel: make(map[string]context.CancelFunc),
	}
	go c.sessionLoop(ctx)
	return c
}

// Chain registers an external watcher invoked for every event after the
// cache's own internal coherence handling has run.
func (c *Cache) Chain(hook func(coordination.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.externalHook = hook
}

// Close tears down every outstanding watcher goroutine. The Cache must not
// be used afterward.
func (c *Cache) Close() {
	c.baseCancel()
}

func (c *Cache) slotLocked(path string) *slot {
	s, ok := c.slots[path]
	if !ok {
		s = &slot{}
		c.slots[path] = s
	}
	return s
}

// GetData returns path's cached bytes, populating the cache on miss.
func (c *Cache) GetData(ctx context.Context, path string) ([]byte, bool, error) {
	data, present, _, err := c.GetDataWithStat(ctx, path)
	return data, present, err
}

// GetDataWithStat is GetData plus a defensive copy of the stat block.
func (c *Cache) GetDataWithStat(ctx context.Context, path string) ([]byte, bool, coordination.Stat, error) {
	if data, present, stat, ok := c.cachedData(path); ok {
		c.recordHit(present)
		return data, present, stat, nil
	}

	if err := c.retryLoop(ctx, func() error { return c.populateData(path) }); err != nil {
		return nil, false, coordination.Stat{}, err
	}

	data, present, stat, _ := c.cachedData(path)
	return data, present, stat, nil
}

// recordHit records a cache read that was served without a round trip to
// the coordination store: present distinguishes a positive hit from a
// negative (known-absent) one.
func (c *Cache) recordHit(present bool) {
	if c.collect == nil {
		return
	}
	if present {
		c.collect.RecordCacheHit()
	} else {
		c.collect.RecordCacheNegativeHit()
	}
}

func (c *Cache) cachedData(path string) ([]byte, bool, coordination.Stat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[path]
	if !ok || !s.haveData {
		return nil, false, coordination.Stat{}, false
	}
	return append([]byte(nil), s.data...), s.dataPresent, s.stat, true
}

// populateData runs one Exists probe followed, if the node exists, by one
// GetData call. A version mismatch or no-such-node on the second call is
// translated to errConcurrentModification and never cached. Only the
// Exists probe's own watch is armed for the negative-cache case; the
// GetData call's watch is armed for the positive case, since either one
// alone fires on the path's next relevant change.
func (c *Cache) populateData(path string) error {
	if c.collect != nil {
		c.collect.RecordCacheMiss()
	}

	exists, stat, existsWatch, err := c.client.Exists(path)
	if err != nil {
		return classify(err)
	}

	if !exists {
		c.mu.Lock()
		s := c.slotLocked(path)
		s.haveData, s.dataPresent, s.data, s.stat = true, false, nil, coordination.Stat{}
		c.mu.Unlock()
		c.armWatcher(path, existsWatch)
		return nil
	}

	data, stat2, dataWatch, err := c.client.GetData(path)
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) || errors.Is(err, coordination.ErrVersionMismatch) {
			return errConcurrentModification
		}
		return classify(err)
	}
	_ = stat

	c.mu.Lock()
	s := c.slotLocked(path)
	s.haveData = true
	s.dataPresent = true
	s.data = append([]byte(nil), data...)
	s.stat = stat2
	c.mu.Unlock()
	c.armWatcher(path, dataWatch)
	return nil
}

// GetChildren returns path's cached child names, populating on miss.
func (c *Cache) GetChildren(ctx context.Context, path string) ([]string, bool, error) {
	c.mu.Lock()
	s, ok := c.slots[path]
	if ok && s.haveChildren {
		children := append([]string(nil), s.children...)
		present := s.childrenPresent
		c.mu.Unlock()
		c.recordHit(present)
		return children, present, nil
	}
	c.mu.Unlock()

	if err := c.retryLoop(ctx, func() error { return c.populateChildren(path) }); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s = c.slotLocked(path)
	return append([]string(nil), s.children...), s.childrenPresent, nil
}

func (c *Cache) populateChildren(path string) error {
	if c.collect != nil {
		c.collect.RecordCacheMiss()
	}

	exists, _, existsWatch, err := c.client.Exists(path)
	if err != nil {
		return classify(err)
	}

	if !exists {
		c.mu.Lock()
		s := c.slotLocked(path)
		s.haveChildren, s.childrenPresent, s.children = true, false, nil
		c.mu.Unlock()
		c.armWatcher(path, existsWatch)
		return nil
	}

	children, _, childrenWatch, err := c.client.GetChildren(path)
	if err != nil {
		if errors.Is(err, coordination.ErrNoNode) || errors.Is(err, coordination.ErrVersionMismatch) {
			return errConcurrentModification
		}
		return classify(err)
	}

	c.mu.Lock()
	s := c.slotLocked(path)
	s.haveChildren = true
	s.childrenPresent = true
	s.children = append([]string(nil), children...)
	c.mu.Unlock()
	c.armWatcher(path, childrenWatch)
	return nil
}

// Clear drops every cached slot and stops every outstanding watcher.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.watchCancel {
		cancel()
	}
	c.slots = make(map[string]*slot)
	c.watchCancel = make(map[string]context.CancelFunc)
}

// ClearPrefix drops every slot whose path begins with prefix.
func (c *Cache) ClearPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, cancel := range c.watchCancel {
		if strings.HasPrefix(path, prefix) {
			cancel()
			delete(c.watchCancel, path)
			delete(c.slots, path)
		}
	}
}

func (c *Cache) evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.watchCancel[path]; ok {
		cancel()
		delete(c.watchCancel, path)
	}
	delete(c.slots, path)
}

// armWatcher starts a goroutine that evicts all three of path's slots the
// moment watchCh fires, unless a watcher for path is already running (the
// coherence table evicts all three slots together on any one event, so one
// active watcher per path is sufficient regardless of which populating
// call armed it).
func (c *Cache) armWatcher(path string, watchCh <-chan coordination.Event) {
	c.mu.Lock()
	if _, ok := c.watchCancel[path]; ok {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.watchCancel[path] = cancel
	c.mu.Unlock()

	go c.watchOne(ctx, path, watchCh)
}

func (c *Cache) watchOne(ctx context.Context, path string, watchCh <-chan coordination.Event) {
	select {
	case ev, ok := <-watchCh:
		if !ok {
			return
		}
		c.evict(path)
		c.runHook(ev)
	case <-ctx.Done():
	}
}

func (c *Cache) sessionLoop(ctx context.Context) {
	events := c.client.SessionEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case coordination.Disconnected, coordination.Expired:
				c.Clear()
			case coordination.Connected:
				// no-op; re-arming happens on the next populating read.
			}
			c.runHook(ev)
		}
	}
}

func (c *Cache) runHook(ev coordination.Event) {
	c.mu.Lock()
	hook := c.externalHook
	c.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

// classify wraps a non-sentinel client error for surfacing to the caller,
// or passes through the two sentinels the retry loop recognizes.
func classify(err error) error {
	if errors.Is(err, coordination.ErrConnectionLost) || errors.Is(err, coordination.ErrOperationInterrupted) {
		return err
	}
	return fmt.Errorf("cache: %w", err)
}

func isRetryable(err error) bool {
	return errors.Is(err, coordination.ErrConnectionLost) ||
		errors.Is(err, coordination.ErrOperationInterrupted) ||
		errors.Is(err, errConcurrentModification)
}

// retryLoop wraps fn in the bounded-backoff retry loop: 100ms start,
// uniform [1,2) multiplicative factor, capped at 10s, terminating only on
// success or ctx cancellation.
func (c *Cache) retryLoop(ctx context.Context, fn func() error) error {
	sleep := retryInitialSleep
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		factor := 1 + rand.Float64() // uniform in [1, 2)
		sleep = time.Duration(float64(sleep) * factor)
		if sleep > retryMaxSleep {
			sleep = retryMaxSleep
		}
	}
}
