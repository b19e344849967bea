package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

var sessionColumns = []string{"id", "query", "model", "effort", "status", "result", "graph", "error", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return &PostgresStore{db: db}, mock, cleanup
}

func TestNew_VerifiesSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	original := openDB
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		require.Equal(t, "pgx", driverName)
		return db, nil
	}
	defer func() { openDB = original }()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT to_regclass").WithArgs("public.research_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow("research_sessions"))

	pgStore, err := New("postgres://example")
	require.NoError(t, err)
	require.NotNil(t, pgStore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_SchemaMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	original := openDB
	openDB = func(string, string) (*sql.DB, error) { return db, nil }
	defer func() { openDB = original }()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT to_regclass").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))
	mock.ExpectClose()

	_, err = New("postgres://example")
	require.ErrorContains(t, err, "research_sessions table not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_PingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	original := openDB
	openDB = func(string, string) (*sql.DB, error) { return db, nil }
	defer func() { openDB = original }()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = New("postgres://example")
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySchema_QueryError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WillReturnError(errors.New("query error"))
	if err := verifySchema(ctx, pgStore.db); err == nil {
		t.Fatalf("expected schema verification error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO research_sessions").
		WithArgs("s-1", "capital of France", nil, "medium", store.StatusPending, nil, sqlmock.AnyArg(), nil,
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := pgStore.CreateSession(ctx, store.Session{
		ID:        "s-1",
		Query:     "capital of France",
		Effort:    "medium",
		CreatedAt: "2026-01-01T00:00:00Z",
		UpdatedAt: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSession_EncodesResult(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	result := research.Result{Synthesis: "Paris", QueryType: research.QueryFactual, ConfidenceScore: 0.8}
	encoded, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE research_sessions").
		WithArgs("s-1", "q", "gemini-2.5-flash", "low", store.StatusCompleted, encoded, []byte("graph"), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = pgStore.UpdateSession(ctx, store.Session{
		ID:     "s-1",
		Query:  "q",
		Model:  "gemini-2.5-flash",
		Effort: "low",
		Status: store.StatusCompleted,
		Result: &result,
		Graph:  []byte("graph"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSession_NotFound(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE research_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	err := pgStore.UpdateSession(ctx, store.Session{ID: "missing", Status: store.StatusFailed})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(sessionColumns).
		AddRow("s-1", "q", nil, "high", store.StatusCompleted, []byte(`{"synthesis":"Paris","sources":[],"query_type":"factual"}`), []byte("graph"), nil, created, created.Add(time.Minute))
	mock.ExpectQuery("SELECT id, query, model, effort, status, result, graph, error, created_at, updated_at").
		WithArgs("s-1").
		WillReturnRows(rows)

	session, err := pgStore.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "Paris", session.Result.Synthesis)
	require.Equal(t, research.QueryFactual, session.Result.QueryType)
	require.Equal(t, "graph", string(session.Graph))
	require.Equal(t, "", session.Model)
	require.Equal(t, "2026-01-01T00:00:00Z", session.CreatedAt)
	require.Equal(t, "2026-01-01T00:01:00Z", session.UpdatedAt)
}

func TestGetSession_Missing(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, query").WillReturnError(sql.ErrNoRows)
	session, err := pgStore.GetSession(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestGetSession_CorruptResult(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(sessionColumns).
		AddRow("s-1", "q", nil, "medium", store.StatusCompleted, []byte("{"), nil, nil, now, now)
	mock.ExpectQuery("SELECT id, query").WillReturnRows(rows)

	_, err := pgStore.GetSession(ctx, "s-1")
	require.ErrorContains(t, err, "decode result for session s-1")
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "query", "model", "effort", "status", "error", "created_at", "updated_at"}).
		AddRow("s-2", "newer", "gpt-4o", "low", store.StatusFailed, "boom", now, now).
		AddRow("s-1", "older", nil, "medium", store.StatusCompleted, nil, now, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, query, model, effort, status, error, created_at, updated_at").
		WithArgs(10).
		WillReturnRows(rows)

	sessions, err := pgStore.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s-2", sessions[0].ID)
	require.Equal(t, "boom", sessions[0].Error)
	require.Equal(t, "gpt-4o", sessions[0].Model)
	require.Nil(t, sessions[1].Result)
}

func TestListSessions_RowsErr(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "query", "model", "effort", "status", "error", "created_at", "updated_at"}).
		AddRow("s-1", "q", nil, "medium", "completed", nil, time.Now(), time.Now()).
		AddRow("s-2", "q", nil, "medium", "completed", nil, time.Now(), time.Now())
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT id, query, model, effort, status, error, created_at, updated_at").WillReturnRows(rows)
	if _, err := pgStore.ListSessions(ctx, 0); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSessions_ScanError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "query", "model", "effort", "status", "error", "created_at", "updated_at"}).
		AddRow("s-1", "q", nil, "medium", "completed", nil, "not-a-time", time.Now())

	mock.ExpectQuery("SELECT id, query").WillReturnRows(rows)
	if _, err := pgStore.ListSessions(ctx, 0); err == nil {
		t.Fatalf("expected scan error")
	}
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM research_sessions").WithArgs("s-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, pgStore.DeleteSession(ctx, "s-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNullString(t *testing.T) {
	if nullString("  ") != nil {
		t.Fatal("expected nil for blank value")
	}
	if nullString(" x ") != "x" {
		t.Fatal("expected trimmed value")
	}
}
