// ABOUTME: SQLite implementation of the session Store using modernc.org/sqlite.
// ABOUTME: Sessions and their turns live in two tables; every mutation runs in one transaction.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cappelaere/wai/internal/model"
)

// timeFormat is fixed width so stored timestamps compare correctly as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLite stores sessions in a SQLite database file.
type SQLite struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// NewSQLite opens (or creates) the database at path and ensures the schema exists.
// Parent directories are created if needed.
func NewSQLite(path string, opts Options) (*SQLite, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "session", "store", "sqlite")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps transactions strictly serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLite{db: db, opts: opts, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite session store initialized", "path", path)
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			context_json  TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions(last_accessed);

		CREATE TABLE IF NOT EXISTS session_turns (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			turn_json  TEXT NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeFormat, v)
}

// withTx runs fn in a transaction. Expiry deletions made by fn are committed
// even though the operation reports ErrExpired.
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if errors.Is(err, ErrExpired) {
			if cerr := tx.Commit(); cerr != nil {
				return fmt.Errorf("committing expiry: %w", cerr)
			}
			return err
		}
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, userID string) (*Session, error) {
	now := s.opts.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Context:      newContext(),
		History:      []model.Turn{},
		CreatedAt:    now,
		LastAccessed: now,
	}
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, context_json, created_at, last_accessed) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, userID, string(ctxJSON), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// readRow scans the session row without touching it.
func (s *SQLite) readRow(ctx context.Context, tx *sql.Tx, id string) (*Session, error) {
	var (
		sess                   Session
		ctxJSON, created, last string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, context_json, created_at, last_accessed FROM sessions WHERE id = ?`, id,
	).Scan(&sess.UserID, &ctxJSON, &created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	sess.ID = id
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastAccessed, err = parseTime(last); err != nil {
		return nil, fmt.Errorf("parsing last_accessed: %w", err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decoding context: %w", err)
	}
	return &sess, nil
}

// live reads the session row, expiring or refreshing it. History is not loaded.
func (s *SQLite) live(ctx context.Context, tx *sql.Tx, id string) (*Session, error) {
	sess, err := s.readRow(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if sess.Expired(now, s.opts.Timeout) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("deleting expired session: %w", err)
		}
		s.logger.Info("session expired", "session_id", id)
		return nil, ErrExpired
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_accessed = ? WHERE id = ?`, formatTime(now), id); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	sess.LastAccessed = now
	return sess, nil
}

func (s *SQLite) history(ctx context.Context, tx *sql.Tx, id string) ([]model.Turn, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT turn_json FROM session_turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns := []model.Turn{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		var t model.Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decoding turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLite) Load(ctx context.Context, id string) (*Session, error) {
	var out *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.live(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.History, err = s.history(ctx, tx, id); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *SQLite) AppendTurns(ctx context.Context, id string, turns ...model.Turn) error {
	encoded := make([]string, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding turn: %w", err)
		}
		encoded[i] = string(data)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.live(ctx, tx, id); err != nil {
			return err
		}
		var last int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = ?`, id,
		).Scan(&last); err != nil {
			return fmt.Errorf("reading last turn: %w", err)
		}
		for i, raw := range encoded {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_turns (session_id, seq, turn_json) VALUES (?, ?, ?)`,
				id, last+int64(i)+1, raw); err != nil {
				return fmt.Errorf("inserting turn: %w", err)
			}
		}
		keepFrom := last + int64(len(encoded)) - int64(s.opts.MaxHistory)
		if keepFrom > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM session_turns WHERE session_id = ? AND seq <= ?`, id, keepFrom); err != nil {
				return fmt.Errorf("trimming history: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) GetContext(ctx context.Context, id, key string) (any, bool, error) {
	var (
		val any
		ok  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.live(ctx, tx, id)
		if err != nil {
			return err
		}
		val, ok = sess.Context[key]
		return nil
	})
	return val, ok, err
}

func (s *SQLite) saveContext(ctx context.Context, tx *sql.Tx, id string, c map[string]any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET context_json = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("updating context: %w", err)
	}
	return nil
}

func (s *SQLite) SetContext(ctx context.Context, id, key string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.live(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.Context == nil {
			sess.Context = make(map[string]any)
		}
		sess.Context[key] = v
		return s.saveContext(ctx, tx, id, sess.Context)
	})
}

func (s *SQLite) UpdateContext(ctx context.Context, id string, data map[string]any, merge bool) error {
	norm, err := normalizeMap(data)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.live(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.saveContext(ctx, tx, id, applyUpdate(sess.Context, norm, merge))
	})
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

func (s *SQLite) cutoff() string {
	return formatTime(s.opts.Now().Add(-s.opts.Timeout))
}

func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_accessed < ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE last_accessed >= ?`, s.cutoff()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

func (s *SQLite) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE user_id = ? AND last_accessed >= ? ORDER BY created_at, id`,
		userID, s.cutoff())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*Session
	for _, id := range ids {
		sess, err := s.peek(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// peek reads a session with its history without refreshing it.
func (s *SQLite) peek(ctx context.Context, id string) (*Session, error) {
	var out *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.readRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.History, err = s.history(ctx, tx, id); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
