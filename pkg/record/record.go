// ============================================================================
// Corestore Record Types
// ============================================================================
//
// Package: pkg/record
// Purpose: Core wire types for the write-ahead log's (Key, Value) records
//
// Design Principles:
//   1. Stable binary layout - no reflection, no gob, forward-compatible
//   2. Domain-Driven Design - event tags and mutations as typed values
//   3. Deterministic encoding - same record always produces the same bytes
//
// Record Shape:
//   Key   := event_tag, sequence, tablet_id, [tablet_extent], [filename], [session_id]
//   Value := mutation_count, mutation_count x mutation_blob
//
// Usage:
//   - wal: appends and replays records
//   - tabletserver: builds records from row mutations and tablet events
//
// ============================================================================

// Package record defines the WAL's on-disk (Key, Value) record types.
package record

import "fmt"

// EventTag identifies the kind of event a log record carries.
type EventTag uint8

// Event tag constants. Unknown tags on decode are a fatal error (see codec.go).
const (
	EventOpen EventTag = iota + 1
	EventDefineTablet
	EventCompactionStart
	EventCompactionFinish
	EventManyMutations
)

// String renders the tag for logs and error messages.
func (t EventTag) String() string {
	switch t {
	case EventOpen:
		return "OPEN"
	case EventDefineTablet:
		return "DEFINE_TABLET"
	case EventCompactionStart:
		return "COMPACTION_START"
	case EventCompactionFinish:
		return "COMPACTION_FINISH"
	case EventManyMutations:
		return "MANY_MUTATIONS"
	default:
		return fmt.Sprintf("EventTag(%d)", uint8(t))
	}
}

// TabletExtent describes the row-range a tablet owns at the time a
// DEFINE_TABLET record was written. PrevEndRow is empty for the first
// tablet in a table.
type TabletExtent struct {
	TabletID   int32
	EndRow     string // exclusive upper bound; empty means +infinity
	PrevEndRow string // exclusive lower bound of the previous tablet; empty means -infinity
}

// Key is the fixed-shape header of a log record.
type Key struct {
	EventTag  EventTag
	Sequence  int64
	TabletID  int32
	Extent    *TabletExtent // present only for DEFINE_TABLET
	Filename  string        // present only for COMPACTION_START
	SessionID string        // present only for OPEN: the WAL session (filename UUID)
}

// MutationOp is the kind of change a single Mutation entry represents.
type MutationOp uint8

const (
	// OpPut sets a (family, qualifier) cell to a new value at a timestamp.
	OpPut MutationOp = iota
	// OpDeleteCell removes a single (family, qualifier) cell version.
	OpDeleteCell
	// OpDeleteColumn removes all versions of a (family, qualifier) column.
	OpDeleteColumn
)

// Mutation is one row-level change carried by a MANY_MUTATIONS record.
type Mutation struct {
	Row       string
	Family    string
	Qualifier string
	Timestamp int64
	Op        MutationOp
	Value     []byte
}

// Value is the payload of a log record. Only MANY_MUTATIONS records carry
// mutations; all other event types have an empty Value.
type Value struct {
	Mutations []Mutation
}

// Record pairs a Key and Value the way the WAL appends and replays them.
type Record struct {
	Key   Key
	Value Value
}

// NewOpenRecord builds the record a WAL writes as the first entry of a new
// session. SessionID is the filename's UUID, per spec: the header's session
// identifier equals the filename.
func NewOpenRecord(sequence int64, sessionID string) Record {
	return Record{Key: Key{EventTag: EventOpen, Sequence: sequence, SessionID: sessionID}}
}

// NewDefineTabletRecord builds a DEFINE_TABLET record.
func NewDefineTabletRecord(sequence int64, tabletID int32, extent TabletExtent) Record {
	e := extent
	return Record{Key: Key{EventTag: EventDefineTablet, Sequence: sequence, TabletID: tabletID, Extent: &e}}
}

// NewCompactionStartRecord builds a COMPACTION_START record.
func NewCompactionStartRecord(sequence int64, tabletID int32, filename string) Record {
	return Record{Key: Key{EventTag: EventCompactionStart, Sequence: sequence, TabletID: tabletID, Filename: filename}}
}

// NewCompactionFinishRecord builds a COMPACTION_FINISH record.
func NewCompactionFinishRecord(sequence int64, tabletID int32) Record {
	return Record{Key: Key{EventTag: EventCompactionFinish, Sequence: sequence, TabletID: tabletID}}
}

// NewManyMutationsRecord builds a MANY_MUTATIONS record for one tablet.
func NewManyMutationsRecord(sequence int64, tabletID int32, mutations []Mutation) Record {
	return Record{
		Key:   Key{EventTag: EventManyMutations, Sequence: sequence, TabletID: tabletID},
		Value: Value{Mutations: mutations},
	}
}
