// ============================================================================
// Corestore WAL (Write-Ahead Log) — Writer
// ============================================================================
//
// Package: internal/storage/wal
// File: wal.go
// Purpose: Per-tablet-server append-only, optionally-encrypted log with
// group-commit semantics, layered over a replicating block sink.
//
// How It Works:
//   Operation Flow:
//   ┌─────────────┐
//   │ 1. Append   │ → encode + encipher + stream bytes under the append
//   │    bytes    │   mutex (serializes producers byte-for-byte)
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 2. Enqueue  │ → hand a completion token to the sync worker
//   │    handle   │
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 3. Group    │ → one dedicated goroutine batches every queued token
//   │    sync     │   and calls sync exactly once per batch
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 4. Resolve  │ → every token in the batch learns the batch's outcome
//   │    handles  │
//   └─────────────┘
//
// This amortizes one fsync-equivalent across arbitrarily many concurrent
// producers while still letting each producer learn the specific outcome
// that applied to its own bytes — the defining trick of group commit.
//
// Record Frame (on top of pkg/record's (Key, Value) layout):
//   u32 ciphertext_length
//   i64 sequence            (unencrypted; needed to reconstruct the nonce)
//   ... ciphertext ...
//   u32 crc32(sequence || ciphertext)
//
// ============================================================================

package wal

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabletkv/corestore/internal/metrics"
	"github.com/tabletkv/corestore/internal/storage/blocksink"
	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/internal/volume"
	"github.com/tabletkv/corestore/pkg/record"
)

// writerState models the new -> open -> closing -> closed state machine.
type writerState int

const (
	stateNew writerState = iota
	stateOpen
	stateClosing
	stateClosed
)

// SinkOpener opens a blocksink.Sink for a freshly chosen path. Injected so
// the writer never picks a concrete backend itself.
type SinkOpener func(path string) (blocksink.Sink, error)

// Config parameterizes Open. ServerTag identifies the tablet server whose
// session this is; it becomes the middle path segment.
type Config struct {
	ServerTag     string
	Volumes       []string
	VolumePolicy  volume.Policy
	OpenSink      SinkOpener
	CipherModule  crypto.Module
	QueueCapacity int                // approximates the spec's unbounded FIFO; 0 uses a sane default
	Metrics       *metrics.Collector // nil disables metric recording
}

// workItem is a single-shot completion signal queued for the sync worker.
// It carries no event data — the bytes it covers were already written to
// the sink under the append mutex before the item was enqueued.
type workItem struct {
	done     chan error
	sentinel bool // true for the item Close() enqueues to drain the pipeline
}

// OpHandle is returned by the batched append operations (LogMany,
// CompactionStart, CompactionFinish). Await blocks until the batch that
// contains this handle's bytes has been durably synced, or ctx is done.
type OpHandle struct {
	item *workItem
}

// Await blocks until the handle's batch resolves, or ctx is canceled.
// Canceling ctx detaches the caller from this handle only — it has no
// effect on whether the underlying bytes are eventually made durable.
func (h *OpHandle) Await(ctx context.Context) error {
	select {
	case err := <-h.item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Writer is a single WAL session: one file, one cipher, one producer-side
// append mutex, and one dedicated background sync worker.
type Writer struct {
	appendMu sync.Mutex // serializes the byte-level append path
	closeMu  sync.Mutex // guards state transitions and the sync call itself

	sink         blocksink.Sink
	cipher       crypto.Cipher
	cipherModule string
	path         string
	sessionID    string
	collect      *metrics.Collector // nil disables metric recording

	state writerState // guarded by closeMu

	queue       chan *workItem
	workerDone  chan struct{} // closed once the sync worker has exited
	closeResult chan error    // delivers the close sentinel's own outcome
}

// Open allocates a fresh segment file, writes its header and OPEN record,
// and performs a durable sync before returning. The session identifier
// embedded in the header equals the filename (a fresh UUID).
func Open(cfg Config) (*Writer, error) {
	if cfg.OpenSink == nil {
		return nil, fmt.Errorf("wal: OpenSink is required")
	}
	if cfg.CipherModule == nil {
		cfg.CipherModule = crypto.NullModule{}
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	policy := cfg.VolumePolicy
	if policy == nil {
		policy = volume.NewRoundRobin()
	}

	vol, err := policy.SelectVolume(cfg.Volumes)
	if err != nil {
		return nil, fmt.Errorf("wal: select volume: %w", err)
	}

	sessionID := uuid.NewString()
	path := fmt.Sprintf("%s/%s/%s", vol, cfg.ServerTag, sessionID)

	sink, err := cfg.OpenSink(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open sink %s: %w", path, err)
	}

	headerBytes, cipher, err := cfg.CipherModule.NewHeader()
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("wal: cipher header: %w", err)
	}

	w := &Writer{
		sink:         sink,
		cipher:       cipher,
		cipherModule: cfg.CipherModule.Name(),
		path:         path,
		sessionID:    sessionID,
		collect:      cfg.Metrics,
		state:        stateNew,
		queue:        make(chan *workItem, cfg.QueueCapacity),
		workerDone:   make(chan struct{}),
		closeResult:  make(chan error, 1),
	}

	var buf bytes.Buffer
	if err := WriteHeaderV3(&buf, w.cipherModule, headerBytes); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("wal: write header: %w", err)
	}
	openRecord := record.NewOpenRecord(0, sessionID)
	if err := writeFrame(&buf, cipher, 0, openRecord); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("wal: encode open record: %w", err)
	}

	if _, err := sink.Append(buf.Bytes()); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("wal: write header+open: %w", err)
	}
	if err := flushAndSync(sink); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("wal: durable sync on open: %w", err)
	}

	w.state = stateOpen
	go w.syncWorker()

	return w, nil
}

// Path returns the segment's full path.
func (w *Writer) Path() string { return w.path }

// SessionID returns the session identifier embedded in the header (equal
// to the filename).
func (w *Writer) SessionID() string { return w.sessionID }

func flushAndSync(s blocksink.Sink) error {
	if err := s.FlushToPeers(); err != nil {
		return fmt.Errorf("%w: flush to peers: %v", ErrSyncFailed, err)
	}
	if err := s.SyncToDisk(); err != nil {
		return fmt.Errorf("%w: sync to disk: %v", ErrSyncFailed, err)
	}
	return nil
}

func (w *Writer) loadState() writerState {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	return w.state
}

// writeFrame encodes rec, enciphers it under sequence, and writes the
// length-prefixed, checksummed frame to buf.
func writeFrame(buf *bytes.Buffer, cipher crypto.Cipher, sequence int64, rec record.Record) error {
	var plain bytes.Buffer
	if err := record.EncodeRecord(&plain, rec); err != nil {
		return err
	}
	ciphertext, err := cipher.Seal(sequence, plain.Bytes())
	if err != nil {
		return fmt.Errorf("wal: seal record: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	buf.Write(lenBuf[:])

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(sequence))
	buf.Write(seqBuf[:])

	buf.Write(ciphertext)

	checksumInput := make([]byte, 0, len(seqBuf)+len(ciphertext))
	checksumInput = append(checksumInput, seqBuf[:]...)
	checksumInput = append(checksumInput, ciphertext...)
	checksum := frameChecksum(checksumInput)

	var checksumBuf [4]byte
	binary.BigEndian.PutUint32(checksumBuf[:], checksum)
	buf.Write(checksumBuf[:])

	return nil
}

// DefineTablet synchronously writes a DEFINE_TABLET record and a durable
// sync, bypassing the batch queue entirely: correctness requires that
// subsequent records for this tablet reference a definition already
// durable, so this call cannot be amortized with other producers' syncs.
func (w *Writer) DefineTablet(sequence int64, tabletID int32, extent record.TabletExtent) error {
	if w.loadState() != stateOpen {
		return ErrWALClosed
	}

	rec := record.NewDefineTabletRecord(sequence, tabletID, extent)

	w.appendMu.Lock()
	var buf bytes.Buffer
	err := writeFrame(&buf, w.cipher, sequence, rec)
	if err == nil {
		_, err = w.sink.Append(buf.Bytes())
	}
	w.appendMu.Unlock()
	if err != nil {
		return fmt.Errorf("wal: define_tablet: %w", err)
	}

	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.state != stateOpen {
		return ErrWALClosed
	}
	return flushAndSync(w.sink)
}

// MutationBatch is one (tablet_id, sequence, mutations) group passed to
// LogMany.
type MutationBatch struct {
	TabletID  int32
	Sequence  int64
	Mutations []record.Mutation
}

// LogMany streams the given mutation batches to the sink under the append
// mutex (one MANY_MUTATIONS record per batch group), then enqueues a
// single completion handle covering all of them. The handle resolves once
// the group sync that includes this call's bytes completes.
func (w *Writer) LogMany(batches []MutationBatch) (*OpHandle, error) {
	return w.appendBatched(func(buf *bytes.Buffer) error {
		for _, b := range batches {
			rec := record.NewManyMutationsRecord(b.Sequence, b.TabletID, b.Mutations)
			if err := writeFrame(buf, w.cipher, b.Sequence, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompactionStart writes a COMPACTION_START record with the same
// group-commit semantics as LogMany.
func (w *Writer) CompactionStart(sequence int64, tabletID int32, filename string) (*OpHandle, error) {
	return w.appendBatched(func(buf *bytes.Buffer) error {
		rec := record.NewCompactionStartRecord(sequence, tabletID, filename)
		return writeFrame(buf, w.cipher, sequence, rec)
	})
}

// CompactionFinish writes a COMPACTION_FINISH record with the same
// group-commit semantics as LogMany.
func (w *Writer) CompactionFinish(sequence int64, tabletID int32) (*OpHandle, error) {
	return w.appendBatched(func(buf *bytes.Buffer) error {
		rec := record.NewCompactionFinishRecord(sequence, tabletID)
		return writeFrame(buf, w.cipher, sequence, rec)
	})
}

// appendBatched is the common body of LogMany/CompactionStart/
// CompactionFinish: stream bytes under the append mutex, then enqueue a
// work item for the sync worker.
func (w *Writer) appendBatched(encode func(buf *bytes.Buffer) error) (*OpHandle, error) {
	if w.loadState() != stateOpen {
		return nil, ErrWALClosed
	}

	w.appendMu.Lock()
	var buf bytes.Buffer
	err := encode(&buf)
	if err == nil {
		_, err = w.sink.Append(buf.Bytes())
	}
	w.appendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wal: append: %w", err)
	}

	if w.loadState() != stateOpen {
		return nil, ErrWALClosed
	}

	item := &workItem{done: make(chan error, 1)}
	w.queue <- item

	return &OpHandle{item: item}, nil
}

// syncWorker is the single dedicated goroutine amortizing fsync-equivalent
// calls across every producer's queued work item.
func (w *Writer) syncWorker() {
	defer close(w.workerDone)

	for {
		item := <-w.queue
		batch := []*workItem{item}

	drain:
		for {
			select {
			case next := <-w.queue:
				batch = append(batch, next)
			default:
				break drain
			}
		}

		w.closeMu.Lock()
		var syncErr error
		start := time.Now()
		if w.state == stateClosed {
			syncErr = ErrWALClosed
		} else {
			syncErr = flushAndSync(w.sink)
		}
		elapsed := time.Since(start)
		w.closeMu.Unlock()

		if w.collect != nil {
			w.collect.RecordSync(len(batch), elapsed.Seconds(), syncErr)
		}

		sawSentinel := false
		for _, it := range batch {
			if it.sentinel {
				sawSentinel = true
				continue
			}
			it.done <- syncErr
			close(it.done)
		}

		if sawSentinel {
			w.closeResult <- syncErr
			return
		}
	}
}

// Close quiesces the pipeline: it enqueues a close sentinel, waits for the
// sync worker to drain every item ahead of it (each resolving normally),
// performs one final sync, marks the writer closed, and closes the
// underlying sink exactly once. Calling Close more than once after the
// first call has returned is a no-op.
func (w *Writer) Close() error {
	w.closeMu.Lock()
	if w.state == stateClosing || w.state == stateClosed {
		w.closeMu.Unlock()
		<-w.workerDone
		return nil
	}
	w.state = stateClosing
	w.closeMu.Unlock()

	sentinel := &workItem{sentinel: true}
	w.queue <- sentinel

	finalErr := <-w.closeResult
	<-w.workerDone

	w.closeMu.Lock()
	w.state = stateClosed
	w.closeMu.Unlock()

	if closeErr := w.sink.Close(); closeErr != nil {
		return fmt.Errorf("wal: close sink: %w", closeErr)
	}
	return finalErr
}
