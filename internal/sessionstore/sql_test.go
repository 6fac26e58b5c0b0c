package sessionstore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fenwick-ai/corerun/pkg/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &SQLStore{db: db}, mock
}

func TestSQLStore_CreateAssignsIDAndTimestamps(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(sqlmock.AnyArg(), "agent-1", "demo", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{AgentID: "agent-1", Title: "demo"}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected Create to assign an ID")
	}
	if session.CreatedAt.IsZero() {
		t.Fatal("expected Create to assign CreatedAt")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStore_LoadNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, agent_id, title, created_at, updated_at FROM sessions`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "title", "created_at", "updated_at"}))

	_, err := store.Load(context.Background(), "missing")
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLStore_LoadReturnsSession(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	mock.ExpectQuery(`SELECT id, agent_id, title, created_at, updated_at FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "title", "created_at", "updated_at"}).
			AddRow("sess-1", "agent-1", "demo", now, now))

	session, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.ID != "sess-1" || session.AgentID != "agent-1" || session.Title != "demo" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestSQLStore_SaveNotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE sessions SET title`).
		WithArgs("renamed", sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), &models.Session{ID: "sess-1", Title: "renamed"})
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLStore_AppendAssignsSequentialOrder(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), -1\) \+ 1 FROM messages`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), "sess-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Append(context.Background(), "sess-1", &models.Message{Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStore_DeleteGuardsReferencedSession(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().Format(time.RFC3339Nano)
	mock.ExpectQuery(`SELECT id, agent_id, title, created_at, updated_at FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "title", "created_at", "updated_at"}).
			AddRow("sess-1", "agent-1", "", now, now))

	result, err := store.Delete(context.Background(), "sess-1", []string{"agent-2"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.Deleted || result.Warning == "" {
		t.Fatalf("expected guarded delete with a warning, got %+v", result)
	}
}
