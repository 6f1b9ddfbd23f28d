package wal

// ============================================================================
// Segment Header
// Responsibility: Read and write the self-describing header that precedes
// every WAL segment's record stream.
//
// Format (current, v3):
//   magic "--- Log File Header (v3) ---"
//   u32   len(cipher module name) | cipher module name bytes
//   u32   len(cipher header)      | cipher header bytes
//
// Legacy v2 (read-only): magic "--- Log File Header (v2) ---", then cipher
// module name, then
// either an empty option map (null cipher) or a flat string map (the
// legacy default cipher), encoded as u32 count followed by count x
// (key string, value string) pairs.
//
// Pre-v2 (read-only): no magic at all. The first bytes are already a
// record frame. The reader must detect this by magic mismatch and rewind
// to the start of the file, treating the whole stream as plaintext
// (null-cipher) records.
// ============================================================================

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magicV3 = "--- Log File Header (v3) ---"
	magicV2 = "--- Log File Header (v2) ---"
)

// HeaderVersion identifies which on-disk header shape a segment carries.
type HeaderVersion int

const (
	// HeaderV3 is the current header: module name + module-owned header blob.
	HeaderV3 HeaderVersion = 3
	// HeaderV2 is the legacy header: module name + flat string-map options.
	HeaderV2 HeaderVersion = 2
	// HeaderPreV2 marks a file with no header at all; records start at
	// offset 0 and are assumed to be plaintext (null cipher).
	HeaderPreV2 HeaderVersion = 1
)

// Header is the parsed result of reading a segment's self-describing
// prefix, in whichever version it was written.
type Header struct {
	Version       HeaderVersion
	CipherModule  string
	CipherHeader  []byte            // v3 only: module-owned opaque header bytes
	LegacyOptions map[string]string // v2 only: flat string-map cipher options
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteHeaderV3 writes the current segment header: the v3 magic, the
// cipher module's fully-qualified name, and its opaque header bytes.
func WriteHeaderV3(w io.Writer, cipherModule string, cipherHeader []byte) error {
	if _, err := io.WriteString(w, magicV3); err != nil {
		return fmt.Errorf("wal: write magic: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(cipherModule)); err != nil {
		return fmt.Errorf("wal: write cipher module name: %w", err)
	}
	if err := writeLenPrefixed(w, cipherHeader); err != nil {
		return fmt.Errorf("wal: write cipher header: %w", err)
	}
	return nil
}

// ReadHeader parses a segment's header from the start of rs, trying v3,
// then legacy v2, then falling back to pre-v2 (no header at all). rs is
// rewound to the start of the record stream proper before returning.
func ReadHeader(rs io.ReadSeeker) (Header, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return Header{}, fmt.Errorf("wal: seek: %w", err)
	}

	if h, ok, err := tryReadV3(rs, start); err != nil {
		return Header{}, err
	} else if ok {
		return h, nil
	}

	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("wal: seek: %w", err)
	}
	if h, ok, err := tryReadV2(rs, start); err != nil {
		return Header{}, err
	} else if ok {
		return h, nil
	}

	// Pre-v2: no magic recognized. Rewind fully and treat the stream as
	// plaintext records with no header.
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("wal: seek: %w", err)
	}
	return Header{Version: HeaderPreV2, CipherModule: "null"}, nil
}

func tryReadV3(rs io.ReadSeeker, start int64) (Header, bool, error) {
	magic := make([]byte, len(magicV3))
	n, err := io.ReadFull(rs, magic)
	if err != nil || n != len(magic) || string(magic) != magicV3 {
		return Header{}, false, nil
	}

	moduleBytes, err := readLenPrefixed(rs)
	if err != nil {
		return Header{}, false, fmt.Errorf("%w: read cipher module: %v", ErrCorruptedWAL, err)
	}
	cipherHeader, err := readLenPrefixed(rs)
	if err != nil {
		return Header{}, false, fmt.Errorf("%w: read cipher header: %v", ErrCorruptedWAL, err)
	}
	return Header{Version: HeaderV3, CipherModule: string(moduleBytes), CipherHeader: cipherHeader}, true, nil
}

func tryReadV2(rs io.ReadSeeker, start int64) (Header, bool, error) {
	magic := make([]byte, len(magicV2))
	n, err := io.ReadFull(rs, magic)
	if err != nil || n != len(magic) || string(magic) != magicV2 {
		return Header{}, false, nil
	}

	moduleBytes, err := readLenPrefixed(rs)
	if err != nil {
		return Header{}, false, fmt.Errorf("%w: read cipher module: %v", ErrCorruptedWAL, err)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(rs, countBuf[:]); err != nil {
		return Header{}, false, fmt.Errorf("%w: read legacy option count: %v", ErrCorruptedWAL, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	opts := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		key, err := readLenPrefixed(rs)
		if err != nil {
			return Header{}, false, fmt.Errorf("%w: read legacy option key: %v", ErrCorruptedWAL, err)
		}
		val, err := readLenPrefixed(rs)
		if err != nil {
			return Header{}, false, fmt.Errorf("%w: read legacy option value: %v", ErrCorruptedWAL, err)
		}
		opts[string(key)] = string(val)
	}

	return Header{Version: HeaderV2, CipherModule: string(moduleBytes), LegacyOptions: opts}, true, nil
}
