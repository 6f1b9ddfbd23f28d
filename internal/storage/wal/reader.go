// ============================================================================
// WAL Reader / Replay
// ============================================================================
//
// Package: internal/storage/wal
// File: reader.go
// Purpose: Open a previously written segment for read and replay its
// records in append order, verifying per-frame checksums along the way.
//
// ============================================================================

package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tabletkv/corestore/internal/storage/blocksink"
	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/pkg/record"
)

// ReaderOpener opens a blocksink.Readable for an existing segment path.
type ReaderOpener func(path string) (blocksink.Readable, error)

// readAtSeeker adapts a blocksink.Readable (random-access ReadAt only)
// into an io.ReadSeeker, the shape ReadHeader and Replay need to rewind
// across header-version detection attempts.
type readAtSeeker struct {
	r   blocksink.Readable
	off int64
}

func (s *readAtSeeker) Read(p []byte) (int, error) {
	n, err := s.r.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

func (s *readAtSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.off = offset
	case io.SeekCurrent:
		s.off += offset
	default:
		return 0, fmt.Errorf("wal: unsupported seek whence %d", whence)
	}
	return s.off, nil
}

// RecordHandler processes one decoded record during Replay. sequence is
// the frame's own sequence number (redundant with rec.Key.Sequence for
// every event type except it is always present, even if decode of the
// record body itself later changes shape).
type RecordHandler func(rec record.Record, sequence int64) error

// Replay opens path for read, parses its header, and decodes every frame
// in append order, verifying each frame's checksum and calling handler.
// Replay stops at the first handler error or decode error; a clean EOF at
// a frame boundary ends replay successfully.
func Replay(path string, opener ReaderOpener, registry *crypto.Registry, handler RecordHandler) error {
	readable, err := opener(path)
	if err != nil {
		return fmt.Errorf("wal: open %s for replay: %w", path, err)
	}
	defer readable.Close()

	rs := &readAtSeeker{r: readable}

	header, err := ReadHeader(rs)
	if err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}

	cipher, err := resolveReplayCipher(registry, header)
	if err != nil {
		return err
	}

	for {
		rec, sequence, err := readFrame(rs, cipher)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handler(rec, sequence); err != nil {
			return err
		}
	}
}

func resolveReplayCipher(registry *crypto.Registry, header Header) (crypto.Cipher, error) {
	switch header.Version {
	case HeaderPreV2:
		return crypto.NullModule{}, nil

	case HeaderV3:
		module, err := registry.Resolve(header.CipherModule)
		if err != nil {
			return nil, err
		}
		return module.OpenHeader(header.CipherHeader)

	case HeaderV2:
		if header.CipherModule == "null" || header.CipherModule == "" {
			return crypto.NullModule{}, nil
		}
		// Legacy v2 files written with a real cipher store a flat
		// string-map of options rather than a module-owned header blob.
		// No production segment in this store was ever written with a
		// legacy non-null cipher, so there is nothing to reconstruct a
		// Cipher from; surface it clearly instead of guessing a key.
		return nil, fmt.Errorf("%w: legacy v2 segment names non-null cipher %q with flat options %v, no migration path implemented", ErrUnknownCipherModule, header.CipherModule, header.LegacyOptions)

	default:
		return nil, fmt.Errorf("%w: unrecognized header version %d", ErrCorruptedWAL, header.Version)
	}
}

// readFrame reads and verifies one record frame, returning its decoded
// record and sequence number.
func readFrame(r io.Reader, cipher crypto.Cipher) (record.Record, int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return record.Record{}, 0, fmt.Errorf("%w: truncated frame length", ErrCorruptedWAL)
		}
		return record.Record{}, 0, err // clean io.EOF at a frame boundary
	}
	ciphertextLen := binary.BigEndian.Uint32(lenBuf[:])

	var seqBuf [8]byte
	if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
		return record.Record{}, 0, fmt.Errorf("%w: truncated frame sequence", ErrCorruptedWAL)
	}
	sequence := int64(binary.BigEndian.Uint64(seqBuf[:]))

	ciphertext := make([]byte, ciphertextLen)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return record.Record{}, sequence, fmt.Errorf("%w: truncated frame payload", ErrCorruptedWAL)
	}

	var checksumBuf [4]byte
	if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
		return record.Record{}, sequence, fmt.Errorf("%w: truncated frame checksum", ErrCorruptedWAL)
	}
	wantChecksum := binary.BigEndian.Uint32(checksumBuf[:])

	checksumInput := make([]byte, 0, len(seqBuf)+len(ciphertext))
	checksumInput = append(checksumInput, seqBuf[:]...)
	checksumInput = append(checksumInput, ciphertext...)
	if !verifyFrameChecksum(checksumInput, wantChecksum) {
		return record.Record{}, sequence, &ChecksumError{
			Sequence: sequence,
			Expected: wantChecksum,
			Actual:   frameChecksum(checksumInput),
		}
	}

	plaintext, err := cipher.Open(sequence, ciphertext)
	if err != nil {
		return record.Record{}, sequence, fmt.Errorf("wal: decipher frame at sequence %d: %w", sequence, err)
	}

	rec, err := record.DecodeRecord(bytes.NewReader(plaintext))
	if err != nil {
		return record.Record{}, sequence, fmt.Errorf("wal: decode record at sequence %d: %w", sequence, err)
	}

	return rec, sequence, nil
}
