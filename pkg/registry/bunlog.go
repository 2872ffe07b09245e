package registry

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// PostgresConfig holds connection settings for the database-backed run log.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// runRow is the table shape for one run record. Begin inserts the row;
// finalization updates it exactly once.
type runRow struct {
	bun.BaseModel `bun:"table:run_records,alias:rr"`

	ID          string     `bun:",pk"`
	ImageRef    string     `bun:",notnull"`
	Config      RunConfig  `bun:"type:jsonb,notnull"`
	Status      RunStatus  `bun:",notnull"`
	ContainerID string     `bun:",nullzero"`
	LogPath     string     `bun:",nullzero"`
	StartedAt   time.Time  `bun:",notnull"`
	FinishedAt  *time.Time `bun:",nullzero"`
	ExitCode    *int       `bun:",nullzero"`
}

// BunLog persists run records as one row per run in Postgres.
type BunLog struct {
	db *bun.DB
}

// OpenBunLog connects to Postgres and ensures the run_records table exists.
func OpenBunLog(ctx context.Context, cfg PostgresConfig) (*BunLog, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.FromEnv("BUNDEBUG"),
	))

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpenConns := 4 * runtime.GOMAXPROCS(0)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.NewCreateTable().
		Model((*runRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("creating run_records table: %w", err)
	}

	return &BunLog{db: db}, nil
}

func rowFromRecord(rec *RunRecord) *runRow {
	return &runRow{
		ID:          rec.ID,
		ImageRef:    rec.ImageRef,
		Config:      rec.Config,
		Status:      rec.Status,
		ContainerID: rec.ContainerID,
		LogPath:     rec.LogPath,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		ExitCode:    rec.ExitCode,
	}
}

func recordFromRow(row *runRow) *RunRecord {
	return &RunRecord{
		ID:          row.ID,
		ImageRef:    row.ImageRef,
		Config:      row.Config,
		Status:      row.Status,
		ContainerID: row.ContainerID,
		LogPath:     row.LogPath,
		StartedAt:   row.StartedAt,
		FinishedAt:  row.FinishedAt,
		ExitCode:    row.ExitCode,
	}
}

// Append inserts the row at begin time and updates it at finalization.
func (l *BunLog) Append(ctx context.Context, rec *RunRecord) error {
	row := rowFromRecord(rec)
	_, err := l.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("log_path = EXCLUDED.log_path").
		Set("finished_at = EXCLUDED.finished_at").
		Set("exit_code = EXCLUDED.exit_code").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("writing run record: %w", err)
	}
	return nil
}

// Replay returns every recorded run in insertion order.
func (l *BunLog) Replay(ctx context.Context) ([]*RunRecord, error) {
	var rows []runRow
	if err := l.db.NewSelect().
		Model(&rows).
		Order("started_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("reading run records: %w", err)
	}

	out := make([]*RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, recordFromRow(&rows[i]))
	}
	return out, nil
}

// Close closes the database handle.
func (l *BunLog) Close() error {
	return l.db.Close()
}

// Ensure BunLog implements Log.
var _ Log = (*BunLog)(nil)
