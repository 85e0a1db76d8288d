package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/headwatch/internal/monitor"
	"github.com/devblac/headwatch/internal/sink"
	"github.com/devblac/headwatch/internal/source/sim"
	"github.com/devblac/headwatch/internal/storage"
)

type recordingSink struct {
	payloads []sink.Payload
}

func (r *recordingSink) Send(_ context.Context, payload sink.Payload) error {
	r.payloads = append(r.payloads, payload)
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(dir)
	})
	return store
}

func newSimMonitor(chain *sim.Chain, checkDepth uint64) *monitor.Monitor {
	return monitor.New(chain, nil, monitor.Options{
		CheckDepth: checkDepth,
		Sleep:      func(time.Duration) {},
	})
}

func TestRunOncePersistsNewHeaders(t *testing.T) {
	ctx := context.Background()
	chain := sim.New()
	chain.ProduceBlocks(10)

	store := newTestStore(t)
	mon := newSimMonitor(chain, 5)
	runner := NewRunner(mon, store, nil, nil, nil, "simnet")

	res, err := runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.LastLiveBlock != 10 {
		t.Fatalf("last live block = %d, want 10", res.LastLiveBlock)
	}

	_, highest, count, ok, err := store.Range(ctx)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !ok || highest != 10 || count != 10 {
		t.Fatalf("stored range highest=%d count=%d ok=%v", highest, count, ok)
	}

	// Incremental ticks only persist the delta.
	chain.ProduceBlocks(2)
	if _, err := runner.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	_, highest, count, _, _ = store.Range(ctx)
	if highest != 12 || count != 12 {
		t.Fatalf("stored range highest=%d count=%d", highest, count)
	}
}

func TestRunOncePurgesStoreAndNotifiesOnReorg(t *testing.T) {
	ctx := context.Background()
	chain := sim.New()
	chain.ProduceBlocks(20)

	store := newTestStore(t)
	mon := newSimMonitor(chain, 20)
	rec := &recordingSink{}
	runner := NewRunner(mon, store, map[string]sink.Sender{"rec": rec}, nil, nil, "simnet")

	if _, err := runner.RunOnce(ctx); err != nil {
		t.Fatalf("fill: %v", err)
	}

	chain.ProduceFork(15, "")
	chain.ProduceBlocks(1)

	res, err := runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run after fork: %v", err)
	}
	if !res.ReorgDetected {
		t.Fatalf("expected reorg detection")
	}
	if res.LatestGoodBlock != 14 {
		t.Fatalf("latest good block = %d, want 14", res.LatestGoodBlock)
	}

	if len(rec.payloads) != 1 {
		t.Fatalf("got %d notifications, want 1", len(rec.payloads))
	}
	p := rec.payloads[0]
	if p.Kind != sink.KindReorgDetected || p.Chain != "simnet" || p.LatestGoodBlock != 14 {
		t.Fatalf("unexpected payload: %+v", p)
	}

	// The store was purged above the watermark and refilled with the
	// fork's history.
	headers, err := store.LoadHeaders(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h := headers[15]; h.Hash != sim.ForkMarker {
		t.Fatalf("stored block 15 hash = %s, want fork marker", h.Hash)
	}
	_, highest, _, _, err := store.Range(ctx)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if highest != 21 {
		t.Fatalf("stored highest = %d, want 21", highest)
	}
}

// brokenSource always reports a mismatching hash for a buffered block, so
// every resolution attempt fails.
type brokenSource struct {
	chain *sim.Chain
	n     uint64
}

func (s *brokenSource) ChainTip(ctx context.Context) (uint64, error) {
	return s.chain.ChainTip(ctx)
}

func (s *brokenSource) FetchHeaders(ctx context.Context, start, end uint64) ([]monitor.Header, error) {
	s.n++
	s.chain.ProduceFork(10-s.n, "0xoscillating")
	return s.chain.FetchHeaders(ctx, start, end)
}

func TestRunOnceNotifiesOnResolutionFailure(t *testing.T) {
	ctx := context.Background()
	chain := sim.New()
	chain.ProduceBlocks(9)

	fill := newSimMonitor(chain, 9)
	if _, err := fill.UpdateChain(ctx); err != nil {
		t.Fatalf("fill: %v", err)
	}

	source := &brokenSource{chain: chain}
	mon := monitor.New(source, nil, monitor.Options{
		CheckDepth:    9,
		MaxCycleTries: 3,
		Sleep:         func(time.Duration) {},
	})
	restore := map[uint64]monitor.Header{}
	for _, h := range fill.Export() {
		restore[h.Number] = h
	}
	if err := mon.Restore(restore); err != nil {
		t.Fatalf("restore: %v", err)
	}

	rec := &recordingSink{}
	runner := NewRunner(mon, nil, map[string]sink.Sender{"rec": rec}, nil, nil, "simnet")

	_, err := runner.RunOnce(ctx)
	if err == nil {
		t.Fatalf("expected resolution failure")
	}
	if len(rec.payloads) != 1 || rec.payloads[0].Kind != sink.KindResolutionFailed {
		t.Fatalf("unexpected notifications: %+v", rec.payloads)
	}
}
