package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleLog(t *testing.T, createdAt time.Time) *eventlog.Log {
	t.Helper()
	log, err := eventlog.FromEvents(createdAt, []input.CapturedEvent{
		{Event: input.Event{Kind: input.KindPointerMove, X: 10, Y: 20}, Offset: 0, Seq: 1},
		{Event: input.Event{Kind: input.KindPointerDown, Button: input.ButtonLeft, X: 10, Y: 20}, Offset: 5 * time.Millisecond, Seq: 2},
		{Event: input.Event{Kind: input.KindPointerUp, Button: input.ButtonLeft, X: 10, Y: 20}, Offset: 5 * time.Millisecond, Seq: 3},
		{Event: input.Event{Kind: input.KindPointerMove, X: -3, Y: 4, Relative: true}, Offset: 7 * time.Millisecond, Seq: 4},
		{Event: input.Event{Kind: input.KindKeyDown, Key: 30}, Offset: 9 * time.Millisecond, Seq: 5},
		{Event: input.Event{Kind: input.KindScroll, DX: 1, DY: -2}, Offset: 1234567 * time.Nanosecond * 10, Seq: 6},
	})
	if err != nil {
		t.Fatalf("build log: %v", err)
	}
	return log
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen applies migrations twice: %v", err)
	}
	_ = second.Close()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	createdAt := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	log := sampleLog(t, createdAt)

	rec, err := store.Save(ctx, "login flow", log)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Fatalf("expected uuid id, got %q", rec.ID)
	}
	if rec.EventCount != 6 || rec.Duration != log.Duration() {
		t.Fatalf("unexpected metadata %+v", rec)
	}

	got, loaded, err := store.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "login flow" || !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected recording %+v", got)
	}
	if !loaded.Frozen() {
		t.Fatalf("loaded log must be frozen")
	}
	if !loaded.Equal(log) {
		t.Fatalf("round trip changed events:\n got %+v\nwant %+v", loaded.Events(), log.Events())
	}
}

func TestSaveRejectsUnfrozenLog(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.Save(context.Background(), "draft", eventlog.New(time.Now())); err == nil {
		t.Fatalf("expected error for unfrozen log")
	}
}

func TestSaveWithIDDuplicate(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	log := sampleLog(t, time.Now())
	if _, err := store.SaveWithID(ctx, id, "one", log); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.SaveWithID(ctx, id, "two", log); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestListResolveDelete(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	older, err := store.Save(ctx, "shared", sampleLog(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	newer, err := store.Save(ctx, "shared", sampleLog(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	resolved, err := store.Resolve(ctx, "shared")
	if err != nil || resolved.ID != newer.ID {
		t.Fatalf("resolve by name: %+v %v", resolved, err)
	}
	resolved, err = store.Resolve(ctx, older.ID)
	if err != nil || resolved.ID != older.ID {
		t.Fatalf("resolve by id: %+v %v", resolved, err)
	}

	if err := store.Delete(ctx, older.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, _, err := store.Load(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := store.Resolve(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
