// ============================================================================
// Fake Coordination Client
// ============================================================================
//
// Package: internal/coordination/watch
// File: fake.go
// Purpose: An in-memory coordination.Client for tests. A single Mutex
// guards the primary node map plus the per-path pending-watcher index,
// generalized from the teacher's jobmanager single-mutex-over-map-plus-
// indexes design.
//
// ============================================================================

package watch

import (
	"sync"

	"github.com/tabletkv/corestore/internal/coordination"
)

type fakeNode struct {
	data     []byte
	version  int64
	mtime    int64
	children map[string]struct{}
}

// FakeCoordinationClient is an in-memory coordination.Client. It is safe
// for concurrent use and is intended for tests, including scripted
// failures (see InjectGetDataError) that exercise the coordination cache's
// concurrent-modification and retry-loop paths.
type FakeCoordinationClient struct {
	mu sync.Mutex

	nodes map[string]*fakeNode

	// watchers holds, per path, the channels armed by the most recent
	// Exists/GetData/GetChildren call still waiting to fire.
	watchers map[string][]chan coordination.Event

	session chan coordination.Event

	clock int64

	// getDataFault, when set, is returned exactly once by the next
	// GetData call for the named path, then cleared. Used to simulate
	// the version-mismatch/no-such-node race between Exists and GetData.
	getDataFault map[string]error

	existsCalls  map[string]int
	getDataCalls map[string]int
}

// NewFakeCoordinationClient returns an empty client with no nodes.
func NewFakeCoordinationClient() *FakeCoordinationClient {
	return &FakeCoordinationClient{
		nodes:        make(map[string]*fakeNode),
		watchers:     make(map[string][]chan coordination.Event),
		session:      make(chan coordination.Event, 16),
		getDataFault: make(map[string]error),
		existsCalls:  make(map[string]int),
		getDataCalls: make(map[string]int),
	}
}

// ExistsCallCount returns how many times Exists(path) has been called.
func (f *FakeCoordinationClient) ExistsCallCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existsCalls[path]
}

// GetDataCallCount returns how many times GetData(path) has been called.
func (f *FakeCoordinationClient) GetDataCallCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getDataCalls[path]
}

func (f *FakeCoordinationClient) tick() int64 {
	f.clock++
	return f.clock
}

// CreateNode creates path with the given data, firing any armed watch on
// path as Created (or DataChanged if it already existed).
func (f *FakeCoordinationClient) CreateNode(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, existed := f.nodes[path]
	f.nodes[path] = &fakeNode{data: data, version: 1, mtime: f.tick(), children: make(map[string]struct{})}

	kind := coordination.Created
	if existed {
		kind = coordination.DataChanged
	}
	f.fireLocked(path, kind)
}

// SetData updates path's data and version, firing DataChanged.
func (f *FakeCoordinationClient) SetData(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[path]
	if !ok {
		n = &fakeNode{children: make(map[string]struct{})}
		f.nodes[path] = n
	}
	n.data = data
	n.version++
	n.mtime = f.tick()
	f.fireLocked(path, coordination.DataChanged)
}

// DeleteNode removes path, firing Deleted.
func (f *FakeCoordinationClient) DeleteNode(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.nodes, path)
	f.fireLocked(path, coordination.Deleted)
}

// InjectGetDataError arms a one-shot error to be returned by the next
// GetData(path) call, simulating the concurrent-modification race between
// an Exists probe and the GetData call that follows it.
func (f *FakeCoordinationClient) InjectGetDataError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getDataFault[path] = err
}

// FireSession sends one session-level event on the client's shared
// SessionEvents channel. When several consumers read that channel, only
// one of them receives the event.
func (f *FakeCoordinationClient) FireSession(kind coordination.EventKind) {
	f.session <- coordination.Event{Kind: kind}
}

func (f *FakeCoordinationClient) fireLocked(path string, kind coordination.EventKind) {
	for _, ch := range f.watchers[path] {
		ch <- coordination.Event{Path: path, Kind: kind}
		close(ch)
	}
	delete(f.watchers, path)
}

func (f *FakeCoordinationClient) arm(path string) <-chan coordination.Event {
	ch := make(chan coordination.Event, 1)
	f.watchers[path] = append(f.watchers[path], ch)
	return ch
}

func (f *FakeCoordinationClient) Exists(path string) (bool, coordination.Stat, <-chan coordination.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.existsCalls[path]++
	watch := f.arm(path)
	n, ok := f.nodes[path]
	if !ok {
		return false, coordination.Stat{}, watch, nil
	}
	return true, statOf(n), watch, nil
}

func (f *FakeCoordinationClient) GetData(path string) ([]byte, coordination.Stat, <-chan coordination.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getDataCalls[path]++

	if err, ok := f.getDataFault[path]; ok {
		delete(f.getDataFault, path)
		return nil, coordination.Stat{}, nil, err
	}

	watch := f.arm(path)
	n, ok := f.nodes[path]
	if !ok {
		return nil, coordination.Stat{}, watch, coordination.ErrNoNode
	}
	data := make([]byte, len(n.data))
	copy(data, n.data)
	return data, statOf(n), watch, nil
}

func (f *FakeCoordinationClient) GetChildren(path string) ([]string, coordination.Stat, <-chan coordination.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	watch := f.arm(path)
	n, ok := f.nodes[path]
	if !ok {
		return nil, coordination.Stat{}, watch, coordination.ErrNoNode
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names, statOf(n), watch, nil
}

func (f *FakeCoordinationClient) SessionEvents() <-chan coordination.Event {
	return f.session
}

func statOf(n *fakeNode) coordination.Stat {
	return coordination.Stat{
		Version:     n.version,
		Mtime:       n.mtime,
		Ctime:       n.mtime,
		NumChildren: int32(len(n.children)),
		DataLength:  int32(len(n.data)),
	}
}

var _ coordination.Client = (*FakeCoordinationClient)(nil)
