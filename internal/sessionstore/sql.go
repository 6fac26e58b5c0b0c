package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// SQLStore is a Store implementation backed by an embedded SQLite database (pure-Go driver,
// no cgo). It demonstrates the same versioned-record contract as FileStore against a real
// database rather than flat files — useful when a deployment wants concurrent readers without
// a directory full of JSON.
type SQLStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	title TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	body TEXT NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// OpenSQLStore opens (creating if necessary) a SQLite database at path and ensures its schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: applying schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.AgentID, session.Title,
		session.CreatedAt.Format(time.RFC3339Nano), session.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLStore) Load(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var session models.Session
	var createdAt, updatedAt string
	if err := row.Scan(&session.ID, &session.AgentID, &session.Title, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	session.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &session, nil
}

func (s *SQLStore) Save(ctx context.Context, session *models.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		session.Title, time.Now().Format(time.RFC3339Nano), session.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]models.SessionSummary, error) {
	query := `SELECT s.id, s.agent_id, s.title, s.created_at,
		(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id) AS message_count
		FROM sessions s`
	args := []any{}
	if opts.AgentID != "" {
		query += ` WHERE s.agent_id = ?`
		args = append(args, opts.AgentID)
	}
	query += ` ORDER BY s.created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		var createdAt string
		if err := rows.Scan(&sum.ID, &sum.AgentID, &sum.Title, &createdAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string, referents []string) (DeleteResult, error) {
	if _, err := s.Load(ctx, id); err != nil {
		return DeleteResult{}, err
	}
	if len(referents) > 0 {
		return DeleteResult{Deleted: false, Warning: "session still referenced by other agents"}, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return DeleteResult{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: true}, nil
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var seq int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, seq, body) VALUES (?, ?, ?, ?)`,
		msg.ID, sessionID, seq, string(body))
	return err
}

// Replace atomically overwrites sessionID's message log, the rollback/branch seam.
func (s *SQLStore) Replace(ctx context.Context, sessionID string, messages []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for seq, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, body) VALUES (?, ?, ?, ?)`,
			msg.ID, sessionID, seq, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT body FROM messages WHERE session_id = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
