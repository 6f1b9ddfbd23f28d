package record

// ============================================================================
// Record Codec
// Responsibility: Deterministic binary encode/decode of (Key, Value) records
//
// Layout (spec):
//   KEY   := u8  event_tag
//            i64 sequence
//            i32 tablet_id
//            opt tablet_extent
//            opt utf8 filename
//            opt utf8 session_id
//   VALUE := u32 mutation_count
//            mutation_count x mutation_blob
//
// "opt" fields are preceded by a single presence byte (0 = absent, 1 = present).
// Strings are length-prefixed with a u32 byte count, UTF-8 bytes follow.
// ============================================================================

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownEventTag is returned by DecodeKey when a record carries a tag
// this codec version does not recognize. Per spec this is a fatal decode
// error, not a skippable one.
var ErrUnknownEventTag = errors.New("record: unknown event tag")

const (
	absent  byte = 0
	present byte = 1
)

func writeString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// EncodeKey writes the deterministic binary form of a Key to w.
func EncodeKey(w io.Writer, k Key) error {
	if _, err := w.Write([]byte{byte(k.EventTag)}); err != nil {
		return err
	}

	var fixed [12]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(k.Sequence))
	binary.BigEndian.PutUint32(fixed[8:12], uint32(k.TabletID))
	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}

	if k.Extent == nil {
		if _, err := w.Write([]byte{absent}); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{present}); err != nil {
			return err
		}
		var extTabletID [4]byte
		binary.BigEndian.PutUint32(extTabletID[:], uint32(k.Extent.TabletID))
		if _, err := w.Write(extTabletID[:]); err != nil {
			return err
		}
		if err := writeString(w, k.Extent.EndRow); err != nil {
			return err
		}
		if err := writeString(w, k.Extent.PrevEndRow); err != nil {
			return err
		}
	}

	if k.Filename == "" {
		if _, err := w.Write([]byte{absent}); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{present}); err != nil {
			return err
		}
		if err := writeString(w, k.Filename); err != nil {
			return err
		}
	}

	if k.SessionID == "" {
		if _, err := w.Write([]byte{absent}); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{present}); err != nil {
			return err
		}
		if err := writeString(w, k.SessionID); err != nil {
			return err
		}
	}

	return nil
}

// DecodeKey reads a Key from r, as written by EncodeKey.
func DecodeKey(r io.Reader) (Key, error) {
	var k Key

	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return k, err
	}
	tag := EventTag(tagByte[0])
	if !validEventTag(tag) {
		return k, fmt.Errorf("%w: %d", ErrUnknownEventTag, tagByte[0])
	}
	k.EventTag = tag

	var fixed [12]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return k, err
	}
	k.Sequence = int64(binary.BigEndian.Uint64(fixed[0:8]))
	k.TabletID = int32(binary.BigEndian.Uint32(fixed[8:12]))

	hasExtent, err := readFlag(r)
	if err != nil {
		return k, err
	}
	if hasExtent {
		var extTabletID [4]byte
		if _, err := io.ReadFull(r, extTabletID[:]); err != nil {
			return k, err
		}
		endRow, err := readString(r)
		if err != nil {
			return k, err
		}
		prevEndRow, err := readString(r)
		if err != nil {
			return k, err
		}
		k.Extent = &TabletExtent{
			TabletID:   int32(binary.BigEndian.Uint32(extTabletID[:])),
			EndRow:     endRow,
			PrevEndRow: prevEndRow,
		}
	}

	hasFilename, err := readFlag(r)
	if err != nil {
		return k, err
	}
	if hasFilename {
		k.Filename, err = readString(r)
		if err != nil {
			return k, err
		}
	}

	hasSession, err := readFlag(r)
	if err != nil {
		return k, err
	}
	if hasSession {
		k.SessionID, err = readString(r)
		if err != nil {
			return k, err
		}
	}

	return k, nil
}

func readFlag(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] == present, nil
}

func validEventTag(t EventTag) bool {
	switch t {
	case EventOpen, EventDefineTablet, EventCompactionStart, EventCompactionFinish, EventManyMutations:
		return true
	default:
		return false
	}
}

// EncodeValue writes the deterministic binary form of a Value to w.
func EncodeValue(w io.Writer, v Value) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(v.Mutations)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, m := range v.Mutations {
		if err := encodeMutation(w, m); err != nil {
			return err
		}
	}
	return nil
}

// DecodeValue reads a Value from r, as written by EncodeValue.
func DecodeValue(r io.Reader) (Value, error) {
	var v Value
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return v, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	if count == 0 {
		return v, nil
	}
	v.Mutations = make([]Mutation, count)
	for i := range v.Mutations {
		m, err := decodeMutation(r)
		if err != nil {
			return v, err
		}
		v.Mutations[i] = m
	}
	return v, nil
}

func encodeMutation(w io.Writer, m Mutation) error {
	if err := writeString(w, m.Row); err != nil {
		return err
	}
	if err := writeString(w, m.Family); err != nil {
		return err
	}
	if err := writeString(w, m.Qualifier); err != nil {
		return err
	}
	var tsOp [9]byte
	binary.BigEndian.PutUint64(tsOp[0:8], uint64(m.Timestamp))
	tsOp[8] = byte(m.Op)
	if _, err := w.Write(tsOp[:]); err != nil {
		return err
	}
	var valLen [4]byte
	binary.BigEndian.PutUint32(valLen[:], uint32(len(m.Value)))
	if _, err := w.Write(valLen[:]); err != nil {
		return err
	}
	if len(m.Value) == 0 {
		return nil
	}
	_, err := w.Write(m.Value)
	return err
}

func decodeMutation(r io.Reader) (Mutation, error) {
	var m Mutation
	var err error
	if m.Row, err = readString(r); err != nil {
		return m, err
	}
	if m.Family, err = readString(r); err != nil {
		return m, err
	}
	if m.Qualifier, err = readString(r); err != nil {
		return m, err
	}
	var tsOp [9]byte
	if _, err := io.ReadFull(r, tsOp[:]); err != nil {
		return m, err
	}
	m.Timestamp = int64(binary.BigEndian.Uint64(tsOp[0:8]))
	m.Op = MutationOp(tsOp[8])

	var valLen [4]byte
	if _, err := io.ReadFull(r, valLen[:]); err != nil {
		return m, err
	}
	n := binary.BigEndian.Uint32(valLen[:])
	if n > 0 {
		m.Value = make([]byte, n)
		if _, err := io.ReadFull(r, m.Value); err != nil {
			return m, err
		}
	}
	return m, nil
}

// EncodeRecord writes a full (Key, Value) record.
func EncodeRecord(w io.Writer, rec Record) error {
	if err := EncodeKey(w, rec.Key); err != nil {
		return err
	}
	return EncodeValue(w, rec.Value)
}

// DecodeRecord reads a full (Key, Value) record, as written by EncodeRecord.
func DecodeRecord(r io.Reader) (Record, error) {
	var rec Record
	var err error
	if rec.Key, err = DecodeKey(r); err != nil {
		return rec, err
	}
	if rec.Value, err = DecodeValue(r); err != nil {
		return rec, err
	}
	return rec, nil
}
