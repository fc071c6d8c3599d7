package main

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

type DBDialect string

const (
	dialectSQLite   DBDialect = "sqlite"
	dialectPostgres DBDialect = "postgres"
)

type SQLRepository struct {
	dialect DBDialect
	db      *sql.DB
}

// runtimeState is the engine bookkeeping that lives outside the save
// document: event counters and the report gate.
type runtimeState struct {
	NextEventID   int64
	ClicksToday   int
	TimeElapsed   float64
	PendingReport *DayReport
	LastReport    *DayReport
}

func newConfiguredStore(catalog *Catalog) (*Store, error) {
	store := newStore(catalog)
	repo, err := openRepositoryFromEnv()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return store, nil
	}
	store.repo = repo
	if err := repo.LoadInto(context.Background(), store); err != nil {
		return nil, err
	}
	return store, nil
}

func openRepositoryFromEnv() (*SQLRepository, error) {
	dialectRaw := strings.TrimSpace(strings.ToLower(os.Getenv("DB_DIALECT")))
	if dialectRaw == "" {
		dialectRaw = string(dialectSQLite)
	}
	dialect := DBDialect(dialectRaw)

	var driverName string
	var dsn string
	switch dialect {
	case dialectSQLite:
		driverName = "sqlite"
		path := strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))
		if path == "" {
			path = filepath.Join("tmp", "clicker.sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn = path
	case dialectPostgres:
		driverName = "pgx"
		dsn = strings.TrimSpace(os.Getenv("DB_POSTGRES_DSN"))
		if dsn == "" {
			dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		}
		if dsn == "" {
			return nil, errors.New("DB_DIALECT=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", dialectRaw)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	repo := &SQLRepository{dialect: dialect, db: db}
	if err := repo.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("database: dialect=%s", dialect)
	return repo, nil
}

func (r *SQLRepository) bind(pos int) string {
	if r.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (r *SQLRepository) insertQuery(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = r.bind(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
	)
}

func (r *SQLRepository) applyMigrations(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema migrations: %w", err)
	}
	rows.Close()

	pattern := fmt.Sprintf("migrations/%s/*.sql", r.dialect)
	files, err := fs.Glob(migrationFS, pattern)
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		base := filepath.Base(file)
		if applied[base] {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		q := r.insertQuery("schema_migrations", []string{"version", "applied_at"})
		if _, err := tx.ExecContext(ctx, q, base, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func persistLocked(s *Store) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(context.Background(), s); err != nil {
		log.Printf("persist state failed: %v", err)
	}
}

func persistReportLocked(s *Store, report *DayReport) {
	if s.repo == nil || report == nil {
		return
	}
	if err := s.repo.SaveReport(context.Background(), report); err != nil {
		log.Printf("persist day report failed: %v", err)
	}
}

func (r *SQLRepository) Save(ctx context.Context, store *Store) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	if err := r.saveWithTx(ctx, tx, store); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (r *SQLRepository) saveWithTx(ctx context.Context, tx *sql.Tx, store *Store) error {
	for _, tbl := range []string{"game_state", "runtime_state", "events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tbl); err != nil {
			return fmt.Errorf("clear %s: %w", tbl, err)
		}
	}

	now := time.Now().UTC()

	if err := r.insertJSONRow(ctx, tx, "game_state", []string{"id", "payload", "updated_at"}, []any{1, asJSON(store.Game), now}); err != nil {
		return err
	}

	runtime := runtimeState{
		NextEventID:   store.NextEventID,
		ClicksToday:   store.Game.ClicksToday,
		TimeElapsed:   store.Game.TimeElapsed,
		PendingReport: store.PendingReport,
		LastReport:    store.LastReport,
	}
	if err := r.insertJSONRow(ctx, tx, "runtime_state", []string{"id", "payload", "updated_at"}, []any{1, asJSON(runtime), now}); err != nil {
		return err
	}

	for _, event := range store.Events {
		if err := r.insertJSONRow(ctx, tx, "events",
			[]string{"id", "at_ts", "day_number", "type", "text", "payload", "created_at"},
			[]any{event.ID, event.At, event.Day, event.Type, event.Text, asJSON(event), event.At},
		); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport appends one day report to the history, trimming old rows.
func (r *SQLRepository) SaveReport(ctx context.Context, report *DayReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM day_reports WHERE day = "+r.bind(1), report.Day); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear day report: %w", err)
	}
	if err := r.insertJSONRow(ctx, tx, "day_reports", []string{"day", "total_money", "payload", "created_at"},
		[]any{report.Day, report.TotalMoney, asJSON(report), time.Now().UTC()}); err != nil {
		_ = tx.Rollback()
		return err
	}
	trim := fmt.Sprintf("DELETE FROM day_reports WHERE day <= %s - %d", r.bind(1), maxDayReports)
	if _, err := tx.ExecContext(ctx, trim, report.Day); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("trim day reports: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report tx: %w", err)
	}
	return nil
}

// ReportHistory returns up to limit stored day reports, most recent first.
func (r *SQLRepository) ReportHistory(ctx context.Context, limit int) ([]DayReport, error) {
	q := fmt.Sprintf("SELECT payload FROM day_reports ORDER BY day DESC LIMIT %d", limit)
	var out []DayReport
	err := loadPayloadRows(ctx, r.db, q, func(payload string) error {
		var rep DayReport
		if err := json.Unmarshal([]byte(payload), &rep); err != nil {
			return err
		}
		out = append(out, rep)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load day reports: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) insertJSONRow(ctx context.Context, tx *sql.Tx, table string, cols []string, vals []any) error {
	q := r.insertQuery(table, cols)
	if _, err := tx.ExecContext(ctx, q, vals...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func asJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (r *SQLRepository) LoadInto(ctx context.Context, store *Store) error {
	var stateRows int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM game_state").Scan(&stateRows); err != nil {
		return fmt.Errorf("count game_state: %w", err)
	}
	if stateRows == 0 {
		if err := r.Save(ctx, store); err != nil {
			return fmt.Errorf("seed initial state: %w", err)
		}
		return nil
	}

	var payload string
	if err := r.db.QueryRowContext(ctx, "SELECT payload FROM game_state WHERE id = 1").Scan(&payload); err != nil {
		return fmt.Errorf("load game_state: %w", err)
	}
	var game GameState
	if err := json.Unmarshal([]byte(payload), &game); err != nil {
		return fmt.Errorf("decode game_state: %w", err)
	}
	repairSaveState(&game, store.catalog)
	store.Game = game

	if err := r.loadRuntime(ctx, store); err != nil {
		return err
	}
	if err := r.loadEvents(ctx, store); err != nil {
		return err
	}
	return nil
}

func (r *SQLRepository) loadRuntime(ctx context.Context, store *Store) error {
	var payload string
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM runtime_state WHERE id = 1").Scan(&payload)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load runtime_state: %w", err)
	}
	if payload == "" {
		return nil
	}
	var runtime runtimeState
	if err := json.Unmarshal([]byte(payload), &runtime); err != nil {
		return fmt.Errorf("decode runtime_state: %w", err)
	}
	store.NextEventID = runtime.NextEventID
	store.Game.ClicksToday = runtime.ClicksToday
	store.Game.TimeElapsed = runtime.TimeElapsed
	store.PendingReport = runtime.PendingReport
	store.LastReport = runtime.LastReport
	return nil
}

func (r *SQLRepository) loadEvents(ctx context.Context, store *Store) error {
	store.Events = []Event{}
	err := loadPayloadRows(ctx, r.db, "SELECT payload FROM events ORDER BY id", func(payload string) error {
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return err
		}
		store.Events = append(store.Events, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	return nil
}

func loadPayloadRows(ctx context.Context, db *sql.DB, q string, fn func(payload string) error) error {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return rows.Err()
}
