package loadgen_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletkv/corestore/internal/loadgen"
	"github.com/tabletkv/corestore/internal/storage/blocksink"
	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/internal/storage/wal"
	"github.com/tabletkv/corestore/internal/tabletserver"
	"github.com/tabletkv/corestore/internal/volume"
	"github.com/tabletkv/corestore/pkg/record"
)

// countingSink wraps a blocksink.Sink and counts SyncToDisk calls, to
// verify group-commit amortization (scenario 1: "Group commit").
type countingSink struct {
	blocksink.Sink
	syncs *atomic.Int64
}

func (c *countingSink) SyncToDisk() error {
	c.syncs.Add(1)
	return c.Sink.SyncToDisk()
}

func newCountingConfig(t *testing.T) (wal.Config, *atomic.Int64) {
	t.Helper()
	dir := t.TempDir()
	syncs := &atomic.Int64{}
	base := wal.LocalSinkOpener(dir)
	return wal.Config{
		ServerTag:    "loadgen",
		Volumes:      []string{"v0"},
		VolumePolicy: volume.NewRoundRobin(),
		OpenSink: func(path string) (blocksink.Sink, error) {
			sink, err := base(path)
			if err != nil {
				return nil, err
			}
			return &countingSink{Sink: sink, syncs: syncs}, nil
		},
		CipherModule: crypto.NullModule{},
	}, syncs
}

// Scenario 1: Group commit. 32 concurrent producers each issue one
// log_many; every producer observes success, and the number of
// SyncToDisk invocations is smaller than the producer count because
// the sync worker amortizes them into shared batches.
func TestGroupCommitAmortizesManyProducersIntoFewSyncs(t *testing.T) {
	walCfg, syncs := newCountingConfig(t)
	srv, err := tabletserver.Open(tabletserver.Config{
		WAL:          walCfg,
		CryptoReg:    crypto.Default(),
		ReaderOpener: wal.LocalReaderOpener(t.TempDir()),
	})
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.DefineTablet(record.TabletExtent{TabletID: 1}))

	const producers = 32
	pool := loadgen.NewPool(producerApplier{srv})
	results := loadgen.RunUniform(context.Background(), pool, 1, producers, "cf", "q", []byte("v"))

	assert.Equal(t, 0, loadgen.CountErrors(results))
	assert.Less(t, syncs.Load(), int64(producers))
	assert.Equal(t, producers, len(srv.Rows(1)))
}

// Scenario 2: Close races. 200 concurrent producers each issue one
// log_many while the main goroutine closes the writer shortly after; every
// call must
// either succeed before the close or fail cleanly with ErrWALClosed, never
// hang or corrupt state.
func TestCloseDuringConcurrentLoadNeverHangsOrCorrupts(t *testing.T) {
	walCfg, _ := newCountingConfig(t)
	srv, err := tabletserver.Open(tabletserver.Config{
		WAL:          walCfg,
		CryptoReg:    crypto.Default(),
		ReaderOpener: wal.LocalReaderOpener(t.TempDir()),
	})
	require.NoError(t, err)

	require.NoError(t, srv.DefineTablet(record.TabletExtent{TabletID: 1}))

	done := make(chan []loadgen.Result, 1)
	go func() {
		pool := loadgen.NewPool(producerApplier{srv})
		done <- loadgen.RunUniform(context.Background(), pool, 1, 200, "cf", "q", []byte("v"))
	}()

	time.Sleep(50 * time.Millisecond)
	closeErr := srv.Close()
	assert.NoError(t, closeErr)

	select {
	case results := <-done:
		for _, r := range results {
			if r.Err != nil {
				assert.ErrorIs(t, r.Err, wal.ErrWALClosed)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producers did not finish within 5s of close")
	}
}

type producerApplier struct {
	srv *tabletserver.Server
}

func (p producerApplier) Apply(ctx context.Context, tabletID int32, muts []record.Mutation) error {
	return p.srv.Apply(ctx, tabletID, muts)
}
