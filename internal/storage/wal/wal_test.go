package wal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/internal/volume"
	"github.com/tabletkv/corestore/pkg/record"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := Open(Config{
		ServerTag:    "tserver-1",
		Volumes:      []string{"vol0"},
		VolumePolicy: volume.NewRoundRobin(),
		OpenSink:     LocalSinkOpener(dir),
		CipherModule: crypto.NullModule{},
	})
	require.NoError(t, err)
	return w, dir
}

// ============================================================================
// Open / Close lifecycle
// ============================================================================

func TestOpenWritesHeaderAndOpenRecord(t *testing.T) {
	w, dir := newTestWriter(t)
	defer w.Close()

	var got []record.Record
	err := Replay(w.Path(), LocalReaderOpener(dir), crypto.Default(), func(rec record.Record, seq int64) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, record.EventOpen, got[0].Key.EventTag)
	assert.Equal(t, w.SessionID(), got[0].Key.SessionID)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestAppendAfterCloseFails(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.Close())

	_, err := w.LogMany([]MutationBatch{{TabletID: 1, Sequence: 1, Mutations: nil}})
	assert.ErrorIs(t, err, ErrWALClosed)

	err = w.DefineTablet(1, 1, record.TabletExtent{})
	assert.ErrorIs(t, err, ErrWALClosed)
}

// ============================================================================
// Group commit
// ============================================================================

func TestLogManyDurableAfterAwait(t *testing.T) {
	w, dir := newTestWriter(t)
	defer w.Close()

	handle, err := w.LogMany([]MutationBatch{
		{TabletID: 1, Sequence: 1, Mutations: []record.Mutation{
			{Row: "r1", Family: "cf", Qualifier: "q", Timestamp: 1, Op: record.OpPut, Value: []byte("v1")},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, handle.Await(context.Background()))

	var tags []record.EventTag
	err = Replay(w.Path(), LocalReaderOpener(dir), crypto.Default(), func(rec record.Record, seq int64) error {
		tags = append(tags, rec.Key.EventTag)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []record.EventTag{record.EventOpen, record.EventManyMutations}, tags)
}

func TestConcurrentProducersAllObserveDurability(t *testing.T) {
	w, dir := newTestWriter(t)
	defer w.Close()

	const producers = 32
	var wg sync.WaitGroup
	errs := make([]error, producers)

	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := w.LogMany([]MutationBatch{
				{TabletID: int32(i), Sequence: int64(i + 1), Mutations: []record.Mutation{
					{Row: fmt.Sprintf("r%d", i), Family: "cf", Qualifier: "q", Timestamp: int64(i), Op: record.OpPut, Value: []byte("v")},
				}},
			})
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = handle.Await(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "producer %d", i)
	}

	stats, err := GetStats(w.Path(), LocalReaderOpener(dir), crypto.Default())
	require.NoError(t, err)
	assert.Equal(t, producers+1, stats.TotalRecords) // +1 for the OPEN record
	assert.Equal(t, producers, stats.ByTag[record.EventManyMutations])
}

func TestDefineTabletIsSynchronousAndVisibleImmediately(t *testing.T) {
	w, dir := newTestWriter(t)
	defer w.Close()

	err := w.DefineTablet(1, 7, record.TabletExtent{TabletID: 7, EndRow: "m", PrevEndRow: ""})
	require.NoError(t, err)

	stats, err := GetStats(w.Path(), LocalReaderOpener(dir), crypto.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByTag[record.EventDefineTablet])
}

func TestCloseDrainsOutstandingHandles(t *testing.T) {
	w, dir := newTestWriter(t)

	const n = 16
	handles := make([]*OpHandle, n)
	for i := 0; i < n; i++ {
		h, err := w.CompactionStart(int64(i+1), 1, fmt.Sprintf("file-%d.dat", i))
		require.NoError(t, err)
		handles[i] = h
	}

	require.NoError(t, w.Close())

	for i, h := range handles {
		err := h.Await(context.Background())
		assert.NoError(t, err, "handle %d", i)
	}

	stats, err := GetStats(w.Path(), LocalReaderOpener(dir), crypto.Default())
	require.NoError(t, err)
	assert.Equal(t, n, stats.ByTag[record.EventCompactionStart])
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	w, _ := newTestWriter(t)
	defer w.Close()

	handle := &OpHandle{item: &workItem{done: make(chan error)}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := handle.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// Replay / crash recovery
// ============================================================================

func TestReplayOrdersRecordsByAppendOrder(t *testing.T) {
	w, dir := newTestWriter(t)

	require.NoError(t, w.DefineTablet(1, 1, record.TabletExtent{TabletID: 1}))
	_, err := w.LogMany([]MutationBatch{{TabletID: 1, Sequence: 2, Mutations: []record.Mutation{
		{Row: "r1", Family: "cf", Qualifier: "q", Op: record.OpPut, Value: []byte("a")},
	}}})
	require.NoError(t, err)
	h2, err := w.CompactionStart(3, 1, "seg-1.dat")
	require.NoError(t, err)
	require.NoError(t, h2.Await(context.Background()))
	require.NoError(t, w.Close())

	var tags []record.EventTag
	err = Replay(w.Path(), LocalReaderOpener(dir), crypto.Default(), func(rec record.Record, seq int64) error {
		tags = append(tags, rec.Key.EventTag)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []record.EventTag{
		record.EventOpen,
		record.EventDefineTablet,
		record.EventManyMutations,
		record.EventCompactionStart,
	}, tags)
}

func TestReplayDetectsChecksumCorruption(t *testing.T) {
	w, dir := newTestWriter(t)
	_, err := w.LogMany([]MutationBatch{{TabletID: 1, Sequence: 1, Mutations: []record.Mutation{
		{Row: "r1", Family: "cf", Qualifier: "q", Op: record.OpPut, Value: []byte("a")},
	}}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	corruptLastByte(t, dir, w.Path())

	err = Replay(w.Path(), LocalReaderOpener(dir), crypto.Default(), func(rec record.Record, seq int64) error {
		return nil
	})
	assert.Error(t, err)
}

func corruptLastByte(t *testing.T, dir, path string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(full, data, 0644))
}

// ============================================================================
// Validate / Dump
// ============================================================================

func TestValidatePassesOnHealthySegment(t *testing.T) {
	w, dir := newTestWriter(t)
	_, err := w.LogMany([]MutationBatch{{TabletID: 1, Sequence: 1}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.NoError(t, Validate(w.Path(), LocalReaderOpener(dir), crypto.Default()))
}

func TestDumpProducesOneLinePerRecord(t *testing.T) {
	w, dir := newTestWriter(t)
	_, err := w.LogMany([]MutationBatch{{TabletID: 1, Sequence: 1}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	require.NoError(t, Dump(w.Path(), LocalReaderOpener(dir), crypto.Default(), &buf))
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines) // OPEN + MANY_MUTATIONS
}
