package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devblac/headwatch/internal/monitor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(dir)
	})
	return store
}

func testHeaders(from, to uint64) []monitor.Header {
	out := make([]monitor.Header, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, monitor.Header{Number: n, Hash: "0xh", Timestamp: n * 12})
	}
	return out
}

func TestSaveAndLoadHeaders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveHeaders(ctx, testHeaders(1, 20)); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadHeaders(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 20 {
		t.Fatalf("loaded %d headers, want 20", len(loaded))
	}
	h, ok := loaded[7]
	if !ok || h.Timestamp != 84 {
		t.Fatalf("block 7 = %+v", h)
	}
}

func TestUpsertHeaderReplacesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertHeader(ctx, monitor.Header{Number: 5, Hash: "0xaaa", Timestamp: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// A reorg rewrites the same height with a new hash.
	if err := store.UpsertHeader(ctx, monitor.Header{Number: 5, Hash: "0xbbb", Timestamp: 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := store.LoadHeaders(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[5].Hash != "0xbbb" {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestTruncateAbove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveHeaders(ctx, testHeaders(1, 10)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.TruncateAbove(ctx, 6); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	lowest, highest, count, ok, err := store.Range(ctx)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !ok || lowest != 1 || highest != 6 || count != 6 {
		t.Fatalf("range = %d-%d count %d ok %v", lowest, highest, count, ok)
	}
}

func TestRangeOnEmptyStore(t *testing.T) {
	store := newTestStore(t)
	_, _, _, ok, err := store.Range(context.Background())
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if ok {
		t.Fatalf("expected empty store to report no range")
	}
}
