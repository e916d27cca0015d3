package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	sqlitemigrate "github.com/louisbranch/ipython-mcp/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage/sqlite/migrations"
)

// Store persists kernel launch records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.LaunchStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite launch registry, creating its directory, and applies
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordLaunch inserts one launch record.
func (s *Store) RecordLaunch(ctx context.Context, launch storage.KernelLaunch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(launch.ID)
	if id == "" {
		return fmt.Errorf("launch id is required")
	}
	if launch.PID <= 0 {
		return fmt.Errorf("launch pid must be greater than zero")
	}
	command, err := json.Marshal(launch.Command)
	if err != nil {
		return fmt.Errorf("encode launch command: %w", err)
	}
	startedAt := launch.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO kernel_launches (
		   id,
		   pid,
		   connection_file,
		   command_json,
		   started_at
		 ) VALUES (?, ?, ?, ?, ?)`,
		id,
		launch.PID,
		launch.ConnectionFile,
		string(command),
		toMillis(startedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("record kernel launch: %w", err)
	}
	return nil
}

// MarkLaunchStopped records the exit of a launched kernel.
func (s *Store) MarkLaunchStopped(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("launch id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE kernel_launches
		    SET stopped_at = ?, exit_code = ?
		  WHERE id = ?`,
		toMillis(stoppedAt),
		exitCode,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark kernel launch stopped: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark kernel launch stopped: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetLaunch returns one launch by id.
func (s *Store) GetLaunch(ctx context.Context, id string) (storage.KernelLaunch, error) {
	if err := ctx.Err(); err != nil {
		return storage.KernelLaunch{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.KernelLaunch{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, pid, connection_file, command_json, started_at, stopped_at, exit_code
		   FROM kernel_launches
		  WHERE id = ?`,
		strings.TrimSpace(id),
	)
	launch, err := scanLaunch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.KernelLaunch{}, storage.ErrNotFound
		}
		return storage.KernelLaunch{}, fmt.Errorf("get kernel launch: %w", err)
	}
	return launch, nil
}

// ListLaunches returns up to limit launches, most recent first.
func (s *Store) ListLaunches(ctx context.Context, limit int) ([]storage.KernelLaunch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, pid, connection_file, command_json, started_at, stopped_at, exit_code
		   FROM kernel_launches
		  ORDER BY started_at DESC, id DESC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list kernel launches: %w", err)
	}
	defer rows.Close()

	launches := make([]storage.KernelLaunch, 0, limit)
	for rows.Next() {
		launch, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kernel launch: %w", err)
		}
		launches = append(launches, launch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kernel launches: %w", err)
	}
	return launches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row rowScanner) (storage.KernelLaunch, error) {
	var (
		launch    storage.KernelLaunch
		command   string
		startedAt int64
		stoppedAt sql.NullInt64
		exitCode  sql.NullInt64
	)
	if err := row.Scan(&launch.ID, &launch.PID, &launch.ConnectionFile, &command, &startedAt, &stoppedAt, &exitCode); err != nil {
		return storage.KernelLaunch{}, err
	}
	if err := json.Unmarshal([]byte(command), &launch.Command); err != nil {
		return storage.KernelLaunch{}, fmt.Errorf("decode launch command: %w", err)
	}
	launch.StartedAt = fromMillis(startedAt)
	if stoppedAt.Valid {
		stopped := fromMillis(stoppedAt.Int64)
		launch.StoppedAt = &stopped
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		launch.ExitCode = &code
	}
	return launch, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
