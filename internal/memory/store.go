package memory

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

	"seccopilot/internal/domain"
)

// ErrNotFound is returned when a user, thread or step does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements domain.ThreadStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ThreadStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Fixed-width so the TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- users ---

// UpsertUser creates the user or replaces its metadata. A nil metadata map
// leaves an existing user untouched.
func (s *SQLiteStore) UpsertUser(ctx context.Context, identifier string, metadata map[string]any) (*domain.User, error) {
	conflict := `ON CONFLICT("identifier") DO UPDATE SET "metadata" = excluded."metadata"`
	if metadata == nil {
		metadata = map[string]any{}
		conflict = `ON CONFLICT("identifier") DO NOTHING`
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal user metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users ("id", "identifier", "metadata", "createdAt") VALUES (?, ?, ?, ?) `+conflict,
		uuid.NewString(), identifier, string(meta), formatTime(time.Time{}),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", identifier, err)
	}
	return s.GetUser(ctx, identifier)
}

func (s *SQLiteStore) GetUser(ctx context.Context, identifier string) (*domain.User, error) {
	var (
		u       domain.User
		meta    string
		created sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT "id", "identifier", "metadata", "createdAt" FROM users WHERE "identifier" = ?`, identifier,
	).Scan(&u.ID, &u.Identifier, &meta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", identifier, err)
	}
	if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
		s.logger.Warn("user metadata is not valid JSON", "user", identifier, "err", err)
		u.Metadata = map[string]any{}
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// --- threads ---

func (s *SQLiteStore) CreateThread(ctx context.Context, t domain.Thread) error {
	tags, _ := json.Marshal(t.Tags)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads ("id", "createdAt", "name", "userId", "userIdentifier", "tags", "metadata")
		 VALUES (?, ?, ?, ?, ?, ?, '{}')`,
		t.ID, formatTime(t.CreatedAt), t.Name, nullable(t.UserID), t.UserIdentifier, string(tags),
	)
	if err != nil {
		return fmt.Errorf("create thread %s: %w", t.ID, err)
	}
	return nil
}

const threadColumns = `"id", "createdAt", "name", "userId", "userIdentifier", "tags"`

func scanThread(row interface{ Scan(...any) error }) (domain.Thread, error) {
	var (
		t                       domain.Thread
		created, name, uid, uix sql.NullString
		tags                    sql.NullString
	)
	if err := row.Scan(&t.ID, &created, &name, &uid, &uix, &tags); err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(created)
	t.Name, t.UserID, t.UserIdentifier = name.String, uid.String, uix.String
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &t.Tags)
	}
	return t, nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*domain.Thread, error) {
	t, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE "id" = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return &t, nil
}

// ListThreads returns a user's threads, newest first.
func (s *SQLiteStore) ListThreads(ctx context.Context, userIdentifier string, limit int) ([]domain.Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE "userIdentifier" = ?
		 ORDER BY "createdAt" DESC LIMIT ?`, userIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateThreadName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET "name" = ? WHERE "id" = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename thread %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteThread removes a thread with its steps, elements and feedback.
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM feedbacks WHERE "threadId" = ?`,
		`DELETE FROM elements WHERE "threadId" = ?`,
		`DELETE FROM steps WHERE "threadId" = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete thread %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE "id" = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- steps ---

func (s *SQLiteStore) AppendStep(ctx context.Context, st domain.Step) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	created := formatTime(st.CreatedAt)
	start, end := created, created
	if !st.StartedAt.IsZero() {
		start = formatTime(st.StartedAt)
	}
	if !st.EndedAt.IsZero() {
		end = formatTime(st.EndedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps ("id", "name", "type", "threadId", "parentId", "streaming", "isError",
		                    "metadata", "input", "output", "createdAt", "start", "end")
		 VALUES (?, ?, ?, ?, ?, 0, ?, '{}', ?, ?, ?, ?, ?)`,
		st.ID, st.Name, string(st.Type), st.ThreadID, nullable(st.ParentID), boolInt(st.IsError),
		st.Input, st.Output, created, start, end,
	)
	if err != nil {
		return fmt.Errorf("append step to thread %s: %w", st.ThreadID, err)
	}
	return nil
}

// ListSteps returns a thread's steps in insertion order.
func (s *SQLiteStore) ListSteps(ctx context.Context, threadID string) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT "id", "threadId", "parentId", "name", "type", "input", "output", "isError",
		        "createdAt", "start", "end"
		 FROM steps WHERE "threadId" = ? ORDER BY "createdAt" ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.Step
	for rows.Next() {
		var (
			st                        domain.Step
			typ                       string
			parent, input, output     sql.NullString
			isErr                     sql.NullInt64
			created, started, stopped sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.ThreadID, &parent, &st.Name, &typ, &input, &output, &isErr,
			&created, &started, &stopped); err != nil {
			return nil, err
		}
		st.Type = domain.StepType(typ)
		st.ParentID, st.Input, st.Output = parent.String, input.String, output.String
		st.IsError = isErr.Int64 != 0
		st.CreatedAt, st.StartedAt, st.EndedAt = parseTime(created), parseTime(started), parseTime(stopped)
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- feedback ---

// UpsertFeedback records a rating for a step. The thread is derived from
// the rated step.
func (s *SQLiteStore) UpsertFeedback(ctx context.Context, f domain.Feedback) error {
	var threadID string
	err := s.db.QueryRowContext(ctx, `SELECT "threadId" FROM steps WHERE "id" = ?`, f.ForID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup step %s: %w", f.ForID, err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedbacks ("id", "forId", "threadId", "value", "comment") VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT("id") DO UPDATE SET "value" = excluded."value", "comment" = excluded."comment"`,
		f.ID, f.ForID, threadID, f.Value, f.Comment,
	)
	if err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
