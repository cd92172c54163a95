package ident

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "ident.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteReserveRelease(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "BPHvRDL0107")
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = store.Reserve(ctx, "BPHvRDL0107")
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if ok {
		t.Fatal("second reserve of the same id must report taken")
	}

	if err := store.Release(ctx, "BPHvRDL0107"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = store.Reserve(ctx, "BPHvRDL0107")
	if err != nil || !ok {
		t.Fatalf("reserve after release: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteListSorted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"BPHvRVR1508", "BPHvRDL0107", "BPHvRDL0107-2"} {
		if ok, err := store.Reserve(ctx, id); err != nil || !ok {
			t.Fatalf("reserve %s: ok=%v err=%v", id, ok, err)
		}
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"BPHvRDL0107", "BPHvRDL0107-2", "BPHvRVR1508"}
	if len(ids) != len(want) {
		t.Fatalf("list returned %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("list returned %v, want %v", ids, want)
		}
	}
}

func TestSQLiteAbbreviations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, found, err := store.Lookup(ctx, "Red Lion FC"); err != nil || found {
		t.Fatalf("lookup before commit: found=%v err=%v", found, err)
	}

	code, err := store.Commit(ctx, "Red Lion FC", "RDL")
	if err != nil || code != "RDL" {
		t.Fatalf("commit: code=%q err=%v", code, err)
	}

	// Same name again returns the already committed code regardless of the
	// candidate offered.
	code, err = store.Commit(ctx, "Red Lion FC", "XYZ")
	if err != nil {
		t.Fatalf("repeat commit: %v", err)
	}
	if code != "RDL" {
		t.Fatalf("repeat commit returned %q, want RDL", code)
	}

	// A different name offering a taken code gets the uniqueness conflict.
	if _, err := store.Commit(ctx, "Rovers Dale", "RDL"); err != errCodeTaken {
		t.Fatalf("expected errCodeTaken for code conflict, got %v", err)
	}

	code, found, err := store.Lookup(ctx, "Red Lion FC")
	if err != nil || !found || code != "RDL" {
		t.Fatalf("lookup after commit: code=%q found=%v err=%v", code, found, err)
	}
}

func TestGeneratorWithSQLiteStore(t *testing.T) {
	store := openTestStore(t)
	g, err := New(Config{
		TeamName: "Botanic Park Harriers",
		TeamCode: "BPH",
	}, store, store, nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	ctx := context.Background()
	components := Components{
		Opponent: "Red Lion FC",
		Date:     time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
	}

	first, err := g.Generate(ctx, KindMatch, components)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if first.Final != "BPHvRDL0107" {
		t.Fatalf("first = %q, want BPHvRDL0107", first.Final)
	}
	second, err := g.Generate(ctx, KindMatch, components)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if second.Final != "BPHvRDL0107-2" {
		t.Fatalf("second = %q, want BPHvRDL0107-2", second.Final)
	}
}
