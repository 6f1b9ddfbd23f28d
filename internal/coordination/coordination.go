// ============================================================================
// Coordination Client — external interface
// ============================================================================
//
// Package: internal/coordination
// Purpose: The minimal session-based coordination-store contract the watch
// channel and coordination cache are built against. Two concrete adapters
// satisfy it: watch.FakeCoordinationClient (in-memory, for tests) and
// watch.ZKChannel (backed by github.com/go-zookeeper/zk).
//
// ============================================================================

package coordination

import "fmt"

// EventKind distinguishes node-level change notifications from
// session-level ones.
type EventKind int

const (
	// Node-level: scoped to the path the watch was armed on.
	DataChanged EventKind = iota
	ChildrenChanged
	Created
	Deleted

	// Session-level: scoped to the whole client connection, delivered on
	// the Client's SessionEvents channel rather than on path watches.
	Disconnected
	Connected
	Expired
)

func (k EventKind) String() string {
	switch k {
	case DataChanged:
		return "data-changed"
	case ChildrenChanged:
		return "children-changed"
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// IsSessionLevel reports whether the event applies to every watched path at
// once rather than to a single one.
func (k EventKind) IsSessionLevel() bool {
	switch k {
	case Disconnected, Connected, Expired:
		return true
	default:
		return false
	}
}

// Event is a single change notification, node- or session-level. Path is
// empty for session-level events.
type Event struct {
	Path string
	Kind EventKind
}

// Stat is the subset of a ZooKeeper Stat the coordination cache's contract
// needs: version for CAS/negative-cache invalidation, mtime for staleness
// display, the rest for a complete defensive copy.
type Stat struct {
	Version        int64
	Mtime          int64
	Ctime          int64
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
}

// ErrNoNode is returned by GetData/GetChildren when path does not exist.
// Exists reports absence as exists == false with a nil error instead.
var ErrNoNode = fmt.Errorf("coordination: no such node")

// ErrVersionMismatch signals a concurrent modification between an Exists
// probe and the GetData/GetChildren call that followed it.
var ErrVersionMismatch = fmt.Errorf("coordination: version mismatch")

// ErrConnectionLost and ErrOperationInterrupted are the transient failures
// the coordination cache's retry loop recognizes and recovers from locally.
var (
	ErrConnectionLost       = fmt.Errorf("coordination: connection lost")
	ErrOperationInterrupted = fmt.Errorf("coordination: operation interrupted")
)

// Client is the minimal coordination-store contract. Every populating call
// returns a one-shot watch channel that fires exactly once, the next time
// the path (or, for session events, the connection) changes. Watches are
// not re-armed automatically; callers who want to keep observing a path
// re-issue the same call after the channel fires.
type Client interface {
	// Exists reports whether path exists. watch fires on the path's next
	// creation, deletion, or data change.
	Exists(path string) (exists bool, stat Stat, watch <-chan Event, err error)

	// GetData returns path's data. watch fires on the path's next data
	// change or deletion. Returns ErrNoNode if path does not exist.
	GetData(path string) (data []byte, stat Stat, watch <-chan Event, err error)

	// GetChildren returns path's child names in no particular order. watch
	// fires on the next child added/removed under path. Returns ErrNoNode
	// if path does not exist.
	GetChildren(path string) (children []string, stat Stat, watch <-chan Event, err error)

	// SessionEvents returns the connection-wide channel session-level
	// events (Disconnected, Connected, Expired) are delivered on.
	SessionEvents() <-chan Event
}
