package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recurd/internal/schedule"
	logx "recurd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, c schedule.Config) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	var lastMs any
	if c.LastExecutedAt != nil {
		lastMs = c.LastExecutedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(session_id, enabled, interval_ms, cron_expr, prompt, permission_policy, max_errors, error_count, last_executed_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   enabled=excluded.enabled,
		   interval_ms=excluded.interval_ms,
		   cron_expr=excluded.cron_expr,
		   prompt=excluded.prompt,
		   permission_policy=excluded.permission_policy,
		   max_errors=excluded.max_errors,
		   error_count=excluded.error_count,
		   last_executed_at=excluded.last_executed_at,
		   updated_at=excluded.updated_at`,
		c.SessionID, boolInt(c.Enabled), c.Interval.Milliseconds(), nullStr(c.CronExpr),
		c.Prompt, string(c.Policy), c.MaxErrors, c.ErrorCount, lastMs, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (schedule.Config, bool, error) {
	if s == nil || s.db == nil {
		return schedule.Config{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, enabled, interval_ms, cron_expr, prompt, permission_policy, max_errors, error_count, last_executed_at
		 FROM schedules WHERE session_id = ?`, sessionID)
	c, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Config{}, false, nil
	}
	if err != nil {
		return schedule.Config{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE session_id = ?`, sessionID)
	return err
}

func (s *sqliteStore) List(ctx context.Context) ([]schedule.Config, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, enabled, interval_ms, cron_expr, prompt, permission_policy, max_errors, error_count, last_executed_at
		 FROM schedules ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Config
	for rows.Next() {
		c, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (schedule.Config, error) {
	var (
		c        schedule.Config
		enabled  int
		interval int64
		cronExpr sql.NullString
		policy   string
		lastMs   sql.NullInt64
	)
	err := r.Scan(&c.SessionID, &enabled, &interval, &cronExpr, &c.Prompt, &policy,
		&c.MaxErrors, &c.ErrorCount, &lastMs)
	if err != nil {
		return schedule.Config{}, err
	}
	c.Enabled = enabled != 0
	c.Interval = time.Duration(interval) * time.Millisecond
	c.CronExpr = cronExpr.String
	c.Policy = schedule.Policy(policy)
	if lastMs.Valid {
		t := time.UnixMilli(lastMs.Int64).UTC()
		c.LastExecutedAt = &t
	}
	return c, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
