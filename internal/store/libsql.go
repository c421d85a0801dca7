package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/applogic/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/audit.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	return runMigrations(ctx, s.db, migrations)
}

// SaveExecution inserts exec, assigning an id when it has none.
func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	exec.CreatedAt = timeOrNow(exec.CreatedAt)

	params, err := marshalMapOrDefault(exec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	result, err := json.Marshal(exec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var errKind, errMsg any
	if exec.Result.Error != nil {
		errKind, errMsg = exec.Result.Error.Kind, exec.Result.Error.Message
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, app, action, agent_id, params, success, terminated_reason,
		 error_kind, error_message, steps_executed, result, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.App, exec.Action, exec.AgentID, string(params), boolToInt(exec.Result.Success),
		string(exec.Result.TerminatedReason), errKind, errMsg, exec.Result.StepsExecuted,
		string(result), exec.Duration.Microseconds(), exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

// ListExecutions returns matching executions, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.App != "" {
		where = append(where, "app = ?")
		args = append(args, filter.App)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

const executionColumns = "id, app, action, agent_id, params, result, duration_us, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	exec := &Execution{}
	var params, result string
	var durationUs int64
	if err := row.Scan(&exec.ID, &exec.App, &exec.Action, &exec.AgentID, &params, &result, &durationUs, &exec.CreatedAt); err != nil {
		return nil, err
	}
	if params != "" && params != "{}" {
		if err := json.Unmarshal([]byte(params), &exec.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(result), &exec.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	exec.Duration = time.Duration(durationUs) * time.Microsecond
	return exec, nil
}

func storeNotFound(resource, id string) *schema.ActionError {
	return schema.NewErrorf(schema.ErrKindNotFound, "%s %q not found", resource, id)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
