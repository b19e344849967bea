package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"research_sessions",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) CreateSession(ctx context.Context, session store.Session) error {
	status := strings.TrimSpace(session.Status)
	if status == "" {
		status = store.StatusPending
	}
	resultBytes, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO research_sessions (
			id,
			query,
			model,
			effort,
			status,
			result,
			graph,
			error,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.Query,
		nullString(session.Model),
		session.Effort,
		status,
		resultBytes,
		session.Graph,
		nullString(session.Error),
		parseTimestampValue(session.CreatedAt),
		parseTimestampValue(session.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) UpdateSession(ctx context.Context, session store.Session) error {
	resultBytes, err := encodeResult(session.Result)
	if err != nil {
		return err
	}
	const query = `
		UPDATE research_sessions
		SET query = $2,
			model = $3,
			effort = $4,
			status = $5,
			result = $6,
			graph = $7,
			error = $8,
			updated_at = $9
		WHERE id = $1
	`
	res, err := p.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.Query,
		nullString(session.Model),
		session.Effort,
		session.Status,
		resultBytes,
		session.Graph,
		nullString(session.Error),
		parseTimestampValue(session.UpdatedAt),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	const query = `
		SELECT id, query, model, effort, status, result, graph, error, created_at, updated_at
		FROM research_sessions
		WHERE id = $1
	`
	var session store.Session
	var model sql.NullString
	var errText sql.NullString
	var resultBytes []byte
	var graph []byte
	var createdAt time.Time
	var updatedAt time.Time
	err := p.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Query,
		&model,
		&session.Effort,
		&session.Status,
		&resultBytes,
		&graph,
		&errText,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result, err := decodeResult(resultBytes)
	if err != nil {
		return nil, fmt.Errorf("decode result for session %s: %w", sessionID, err)
	}
	session.Model = model.String
	session.Error = errText.String
	session.Result = result
	session.Graph = graph
	session.CreatedAt = formatTimestamp(createdAt)
	session.UpdatedAt = formatTimestamp(updatedAt)
	return &session, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	query := `
		SELECT id, query, model, effort, status, error, created_at, updated_at
		FROM research_sessions
		ORDER BY updated_at DESC, id ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Session{}
	for rows.Next() {
		var session store.Session
		var model sql.NullString
		var errText sql.NullString
		var createdAt time.Time
		var updatedAt time.Time
		if err := rows.Scan(
			&session.ID,
			&session.Query,
			&model,
			&session.Effort,
			&session.Status,
			&errText,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		session.Model = model.String
		session.Error = errText.String
		session.CreatedAt = formatTimestamp(createdAt)
		session.UpdatedAt = formatTimestamp(updatedAt)
		results = append(results, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM research_sessions WHERE id = $1", sessionID)
	return err
}

func encodeResult(result *research.Result) (any, error) {
	if result == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return encoded, nil
}

func decodeResult(raw []byte) (*research.Result, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var result research.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
