package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "ledger.db"), filepath.Join(dir, "ledger.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{SessionID: "s1", OwnerID: "tg:1", Status: StatusSettled, FromSymbol: "SOL", ToSymbol: "USDC", Signature: "sig1", FinishedAt: base},
		{SessionID: "s2", OwnerID: "tg:1", Status: StatusFailed, Error: "Unknown token symbol: XYZ", FinishedAt: base.Add(time.Minute)},
		{SessionID: "s3", OwnerID: "irc:bob", Status: StatusSettled, Signature: "sig3", FinishedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Signature != "sig1" || got.FromSymbol != "SOL" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "s3" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	owned, err := store.List(ctx, Filter{OwnerID: "tg:1", Status: "SETTLED"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(owned) != 1 || owned[0].SessionID != "s1" {
		t.Fatalf("unexpected filtered entries: %+v", owned)
	}

	limited, err := store.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected one entry, got %d", len(limited))
	}
}

func TestStoreSaveUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, Entry{SessionID: "s1", OwnerID: "tg:1", Status: StatusFailed, Error: "timeout"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, Entry{SessionID: "s1", OwnerID: "tg:1", Status: StatusSettled, Signature: "sig"}); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSettled || got.Error != "" {
		t.Fatalf("expected replaced entry, got %+v", got)
	}
}

func TestStoreRejectsBadEntries(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(context.Background(), Entry{Status: StatusSettled}); err == nil {
		t.Fatal("expected missing session id error")
	}
	if err := store.Save(context.Background(), Entry{SessionID: "s", Status: "pending"}); err == nil {
		t.Fatal("expected bad status error")
	}
}

func TestStoreGetMissingEntry(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
