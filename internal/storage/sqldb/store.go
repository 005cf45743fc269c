// Package sqldb implements the storage ports on top of database/sql through
// sqlx, for SQLite (modernc.org/sqlite) and PostgreSQL (pgx).
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/storage/dialect"
)

// Store is a SQL implementation of ports.StorageProvider that supports
// multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.StorageProvider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string

	MaxOpenConns int
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	case d.Name() == string(dialect.SQLite):
		// Pragmas are per connection and SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewPostgres creates a new PostgreSQL store using the pgx driver.
func NewPostgres(dsn string) (*Store, error) {
	return New(Config{Driver: "pgx", DSN: dsn})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent TEXT NOT NULL DEFAULT '',
	think TEXT,
	created_at %[1]s NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	created_at %[1]s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS run_events (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	created_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_conversation ON run_events(conversation_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Run migrations for existing databases - add columns that may not exist
	return s.runMigrations()
}

func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"messages", "file_id", "ALTER TABLE messages ADD COLUMN file_id TEXT NOT NULL DEFAULT ''"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(s.dialect.Rebind(m.ddl)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	if err := s.db.Get(&count, s.dialect.ColumnExistsQuery(), table, column); err != nil {
		return false, err
	}
	return count > 0, nil
}

type conversationRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	State     string    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r conversationRow) toDomain() (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.State != "" {
		if err := json.Unmarshal([]byte(r.State), &conv.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state for %s: %w", r.ID, err)
		}
	}
	return conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	state, err := json.Marshal(conv.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := s.dialect.Rebind(`INSERT INTO conversations (id, name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.Name, string(state), conv.CreatedAt, conv.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := s.dialect.Rebind(`SELECT id, name, state, created_at, updated_at
		FROM conversations WHERE id = ?`)

	var row conversationRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return row.toDomain()
}

var sortColumns = map[string]string{
	"":           "updated_at",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

// listFilter builds the WHERE clause shared by list and count.
func (s *Store) listFilter(opts ports.ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if opts.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, opts.Name)
	}
	if opts.Query != "" {
		clauses = append(clauses, "name "+s.dialect.LikeOperator()+" ?")
		args = append(args, "%"+opts.Query+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListConversations(ctx context.Context, opts ports.ListOptions) ([]*domain.Conversation, error) {
	col, ok := sortColumns[opts.SortField]
	if !ok {
		return nil, fmt.Errorf("invalid sort field %q", opts.SortField)
	}
	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100 // default limit
	}

	where, args := s.listFilter(opts)
	query := s.dialect.Rebind(`SELECT id, name, state, created_at, updated_at FROM conversations` +
		where + ` ORDER BY ` + col + ` ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`)
	args = append(args, limit, opts.Offset)

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	conversations := make([]*domain.Conversation, 0, len(rows))
	for _, r := range rows {
		conv, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func (s *Store) CountConversations(ctx context.Context, opts ports.ListOptions) (int, error) {
	where, args := s.listFilter(opts)
	var count int
	if err := s.db.GetContext(ctx, &count, s.dialect.Rebind(`SELECT COUNT(*) FROM conversations`+where), args...); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateConversationState(ctx context.Context, id string, state domain.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	query := s.dialect.Rebind(`UPDATE conversations SET state = ?, updated_at = ? WHERE id = ?`)
	return s.execOne(ctx, "conversation", id, query, string(data), time.Now().UTC(), id)
}

func (s *Store) RenameConversation(ctx context.Context, id, name string) error {
	query := s.dialect.Rebind(`UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`)
	return s.execOne(ctx, "conversation", id, query, name, time.Now().UTC(), id)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Not relying on ON DELETE CASCADE: foreign keys are off by default in SQLite.
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM conversations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", id, ports.ErrNotFound)
	}

	return tx.Commit()
}

func (s *Store) execOne(ctx context.Context, kind, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ports.ErrNotFound)
	}
	return nil
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	Role           string         `db:"role"`
	Content        string         `db:"content"`
	Agent          string         `db:"agent"`
	Think          sql.NullString `db:"think"`
	FileID         string         `db:"file_id"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	msg.CreatedAt = time.Now().UTC()

	var think sql.NullString
	if msg.Think != nil {
		think = sql.NullString{String: *msg.Think, Valid: true}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Update conversation updated_at; this also checks that it exists.
	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
		msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ports.ErrNotFound)
	}

	query := s.dialect.Rebind(`INSERT INTO messages (id, conversation_id, role, content, agent, think, file_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Agent, think, msg.FileID, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	query := s.dialect.Rebind(`SELECT id, conversation_id, role, content, agent, think, file_id, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	messages := make([]*domain.Message, 0, len(rows))
	for _, r := range rows {
		msg := &domain.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           r.Role,
			Content:        r.Content,
			Agent:          r.Agent,
			FileID:         r.FileID,
			CreatedAt:      r.CreatedAt,
		}
		if r.Think.Valid {
			think := r.Think.String
			msg.Think = &think
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

type fileRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Path        string    `db:"path"`
	Size        int64     `db:"size"`
	ContentType string    `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r fileRow) toDomain() *domain.File {
	return &domain.File{
		ID:          r.ID,
		Name:        r.Name,
		Path:        r.Path,
		Size:        r.Size,
		ContentType: r.ContentType,
		CreatedAt:   r.CreatedAt,
	}
}

func (s *Store) CreateFile(ctx context.Context, file *domain.File) error {
	file.CreatedAt = time.Now().UTC()
	query := s.dialect.Rebind(`INSERT INTO files (id, name, path, size, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		file.ID, file.Name, file.Path, file.Size, file.ContentType, file.CreatedAt); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	query := s.dialect.Rebind(`SELECT id, name, path, size, content_type, created_at FROM files WHERE id = ?`)

	var row fileRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetFiles(ctx context.Context, ids []string) ([]*domain.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, path, size, content_type, created_at FROM files WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build file query: %w", err)
	}

	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}

	files := make([]*domain.File, 0, len(rows))
	for _, r := range rows {
		files = append(files, r.toDomain())
	}
	return files, nil
}

type runEventRow struct {
	ID             string         `db:"id"`
	RunID          string         `db:"run_id"`
	ConversationID string         `db:"conversation_id"`
	Type           string         `db:"type"`
	Data           sql.NullString `db:"data"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (s *Store) AppendRunEvent(ctx context.Context, rec *domain.RunEventRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := s.dialect.Rebind(`INSERT INTO run_events (id, run_id, conversation_id, type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RunID, rec.ConversationID, rec.Type, nullIfEmpty(rec.Data), rec.CreatedAt); err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}
	return nil
}

func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]*domain.RunEventRecord, error) {
	query := s.dialect.Rebind(`SELECT id, run_id, conversation_id, type, data, created_at
		FROM run_events WHERE run_id = ? ORDER BY created_at ASC, id ASC`)

	var rows []runEventRow
	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}

	out := make([]*domain.RunEventRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.RunEventRecord{
			ID:             r.ID,
			RunID:          r.RunID,
			ConversationID: r.ConversationID,
			Type:           r.Type,
			Data:           r.Data.String,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
