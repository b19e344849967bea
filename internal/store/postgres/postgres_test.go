//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	storepkg "github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

var (
	testDB   *sql.DB
	testConn string
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("research"),
		tcpostgres.WithUsername("research"),
		tcpostgres.WithPassword("research"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres container:", err)
		os.Exit(1)
	}
	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "connection string:", err)
		os.Exit(1)
	}
	ldb, err := sql.Open("pgx", conn)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	if err := waitForDB(ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "ping db:", err)
		os.Exit(1)
	}
	if err := applyMigrations(ctx, ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "apply migrations:", err)
		os.Exit(1)
	}
	testDB = ldb
	testConn = conn
	code := m.Run()
	_ = ldb.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	migrationsDir := filepath.Join(root, "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func waitForDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := db.PingContext(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func repoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("resolve repo root")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..")), nil
}

func newStore(t *testing.T) *PostgresStore {
	t.Helper()
	if _, err := testDB.Exec("TRUNCATE TABLE research_sessions"); err != nil {
		t.Fatalf("clean db: %v", err)
	}
	return &PostgresStore{db: testDB}
}

func TestNew_Success(t *testing.T) {
	pgStore, err := New(testConn)
	require.NoError(t, err)
	require.NoError(t, pgStore.Ping(context.Background()))
	require.NoError(t, pgStore.Close())
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	pgStore := newStore(t)
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, pgStore.CreateSession(ctx, storepkg.Session{
		ID:        id,
		Query:     "What is the capital of France?",
		Effort:    "medium",
		Status:    storepkg.StatusRunning,
		CreatedAt: now.Format(time.RFC3339Nano),
		UpdatedAt: now.Format(time.RFC3339Nano),
	}))

	result := research.Result{
		Synthesis: "Paris is the capital of France.",
		Sources:   []research.Citation{{URL: "https://en.wikipedia.org/wiki/Paris", Title: "Paris"}},
		QueryType: research.QueryFactual,
	}
	require.NoError(t, pgStore.UpdateSession(ctx, storepkg.Session{
		ID:        id,
		Query:     "What is the capital of France?",
		Effort:    "medium",
		Status:    storepkg.StatusCompleted,
		Result:    &result,
		Graph:     []byte(`{"version":1}`),
		UpdatedAt: now.Add(time.Second).Format(time.RFC3339Nano),
	}))

	got, err := pgStore.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, storepkg.StatusCompleted, got.Status)
	require.Equal(t, result.Synthesis, got.Result.Synthesis)
	require.Equal(t, result.Sources, got.Result.Sources)
	require.Equal(t, `{"version":1}`, string(got.Graph))

	sessions, err := pgStore.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, pgStore.DeleteSession(ctx, id))
	got, err = pgStore.GetSession(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateSession_Missing(t *testing.T) {
	pgStore := newStore(t)
	err := pgStore.UpdateSession(context.Background(), storepkg.Session{ID: uuid.NewString(), Status: storepkg.StatusFailed})
	require.ErrorIs(t, err, storepkg.ErrNotFound)
}
