// ============================================================================
// WAL Utility Functions
// Purpose: Validation, statistics, and human-readable dump over a replayed
// segment. Grounded on the teacher's wal/utils.go stubs, fully implemented
// against this package's record model and Replay machinery.
// ============================================================================

package wal

import (
	"fmt"
	"io"

	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/pkg/record"
)

// Stats summarizes a segment's record stream.
type Stats struct {
	TotalRecords  int
	ByTag         map[record.EventTag]int
	FirstSequence int64
	LastSequence  int64
	HasRecords    bool
}

// GetStats replays path and tallies per-tag counts plus the first and last
// sequence numbers observed.
func GetStats(path string, opener ReaderOpener, registry *crypto.Registry) (Stats, error) {
	stats := Stats{ByTag: make(map[record.EventTag]int)}
	first := true

	err := Replay(path, opener, registry, func(rec record.Record, sequence int64) error {
		stats.TotalRecords++
		stats.ByTag[rec.Key.EventTag]++
		if first {
			stats.FirstSequence = sequence
			first = false
		}
		stats.LastSequence = sequence
		return nil
	})
	if err != nil {
		return stats, err
	}

	stats.HasRecords = stats.TotalRecords > 0
	return stats, nil
}

// Validate replays path and checks that every record's sequence number is
// no lower than the one before it. Records must appear in append order;
// producer-supplied sequences need not be contiguous, since many
// producers and tablets interleave in one segment, but they must never
// regress. Returns ErrEmptyWAL for a segment with no records.
func Validate(path string, opener ReaderOpener, registry *crypto.Registry) error {
	var lastSeq int64
	first := true
	count := 0

	err := Replay(path, opener, registry, func(rec record.Record, sequence int64) error {
		count++
		if !first && sequence < lastSeq {
			return fmt.Errorf("wal: validate: sequence regressed at record %d: %d after %d", count, sequence, lastSeq)
		}
		lastSeq = sequence
		first = false
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrEmptyWAL
	}
	return nil
}

// Dump replays path and writes one human-readable line per record to w.
func Dump(path string, opener ReaderOpener, registry *crypto.Registry, w io.Writer) error {
	return Replay(path, opener, registry, func(rec record.Record, sequence int64) error {
		_, err := fmt.Fprintf(w, "[seq:%d] %s tablet=%d%s\n", sequence, rec.Key.EventTag, rec.Key.TabletID, dumpExtra(rec))
		return err
	})
}

func dumpExtra(rec record.Record) string {
	switch rec.Key.EventTag {
	case record.EventDefineTablet:
		if rec.Key.Extent != nil {
			return fmt.Sprintf(" extent=[%q,%q)", rec.Key.Extent.PrevEndRow, rec.Key.Extent.EndRow)
		}
		return ""
	case record.EventCompactionStart:
		return fmt.Sprintf(" filename=%q", rec.Key.Filename)
	case record.EventManyMutations:
		return fmt.Sprintf(" mutations=%d", len(rec.Value.Mutations))
	case record.EventOpen:
		return fmt.Sprintf(" session=%q", rec.Key.SessionID)
	default:
		return ""
	}
}
