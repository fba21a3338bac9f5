package redis

import (
	"context"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := Open(config.RedisConfig{Addr: mr.Addr(), Key: "test:processes"})
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func sorted(records []storage.Record) []storage.Record {
	sort.Slice(records, func(i, j int) bool { return records[i].Identity < records[j].Identity })
	return records
}

func TestStore_SaveLoad(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty hash failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected no records, got %d", len(records))
	}

	want := []storage.Record{
		{Identity: "code", AccumulatedMS: 90_000},
		{Identity: "vlc", AccumulatedMS: 12_345, DisplayName: "VLC", IsMedia: true},
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !mr.Exists("test:processes") {
		t.Fatal("Expected hash key to exist")
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got = sorted(got)
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Record %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, []storage.Record{{Identity: "a"}, {Identity: "b"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, []storage.Record{{Identity: "b", AccumulatedMS: 5}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "b" || got[0].AccumulatedMS != 5 {
		t.Errorf("Expected only b=5, got %+v", got)
	}

	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("Save empty failed: %v", err)
	}
	if mr.Exists("test:processes") {
		t.Error("Expected empty snapshot to remove the hash")
	}
}

func TestStore_CorruptEntry(t *testing.T) {
	store, mr := setupTestStore(t)
	mr.HSet("test:processes", "vlc", "{broken")

	if _, err := store.Load(context.Background()); err == nil {
		t.Error("Expected error for corrupt entry")
	}
}

func TestStore_SaveFailsWhenServerDown(t *testing.T) {
	store, mr := setupTestStore(t)
	mr.Close()

	if err := store.Save(context.Background(), []storage.Record{{Identity: "vlc"}}); err == nil {
		t.Error("Expected save to fail with the server down")
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Open(config.RedisConfig{Addr: addr}); err == nil {
		t.Error("Expected Open to fail")
	}
}

var _ storage.Store = (*Store)(nil)
