package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"github.com/petrijr/taskgraph/pkg/api"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// A single connection keeps the in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStoreSuite(t *testing.T) {
	db := openTestSQLite(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	suite.Run(t, &StoreSuite{newStore: func() Store { return store }})
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	if _, err := NewSQLiteStore(db); err != nil {
		t.Fatalf("first NewSQLiteStore failed: %v", err)
	}
	if _, err := NewSQLiteStore(db); err != nil {
		t.Fatalf("second NewSQLiteStore failed: %v", err)
	}
}

func TestSQLiteEventStore(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)
	store, err := NewSQLiteEventStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore failed: %v", err)
	}

	at := time.Now()
	if err := store.AppendEvent(ctx, api.RunEvent{RunID: "r1", Type: api.EventTaskFailed, TaskID: "b", Attempt: 2, Detail: "boom", At: at}); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := store.AppendEvent(ctx, api.RunEvent{RunID: "r1", Type: api.EventRunFailed}); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	evs, err := store.ListEvents(ctx, "r1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].TaskID != "b" || evs[0].Attempt != 2 || evs[0].Detail != "boom" || !evs[0].At.Equal(at) {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].At.IsZero() {
		t.Fatalf("expected AppendEvent to default the timestamp")
	}
}
