package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/webcrawler/internal/model"
)

// FileName is the name of the history database inside its directory.
const FileName = "webcrawler.db"

// ErrRunNotFound is returned by GetReport for unknown run ids.
var ErrRunNotFound = errors.New("crawl run not found")

// timeLayout is the fixed-width UTC layout timestamps are stored in, so
// that text ordering matches time ordering.
const timeLayout = "2006-01-02 15:04:05.000000000"

// CrawlDB stores the history of crawl runs in SQLite.
//
// Every run gets a row in crawl_runs; the URLs it downloaded go to
// run_pages and its failures to run_errors.
type CrawlDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if they
	// don't exist.
	CreateIfNotExists bool

	// EnableWAL switches the journal to write-ahead logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		}
		return nil, fmt.Errorf("failed to check database path: %w", err)
	}

	// Foreign keys are a per-connection setting, so they go in the DSN.
	db, err := sql.Open("sqlite", dsn+"&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection also serializes the
	// concurrent saves of a batch crawl.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{db: db, dbPath: dbPath}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

func (cdb *CrawlDB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed TEXT NOT NULL,
		depth INTEGER NOT NULL,
		downloaders INTEGER NOT NULL,
		extractors INTEGER NOT NULL,
		per_host INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		downloaded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_seed ON crawl_runs(seed);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON crawl_runs(started_at);

	CREATE TABLE IF NOT EXISTS run_pages (
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		PRIMARY KEY (run_id, url)
	);

	CREATE TABLE IF NOT EXISTS run_errors (
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_errors_kind ON run_errors(kind);
	`

	_, err := cdb.db.ExecContext(ctx, schema)
	return err
}

// SaveReport stores report as a new run and sets report.ID to its id.
func (cdb *CrawlDB) SaveReport(ctx context.Context, report *model.CrawlReport) (int64, error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after Commit

	res, err := tx.ExecContext(ctx, `
	INSERT INTO crawl_runs (seed, depth, downloaders, extractors, per_host,
		started_at, finished_at, downloaded, failed, cancelled)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.Seed,
		report.Depth,
		report.Downloaders,
		report.Extractors,
		report.PerHost,
		formatTimestamp(report.StartedAt),
		formatTimestamp(report.FinishedAt),
		len(report.Downloaded),
		len(report.Failures),
		report.Cancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	if err := insertPages(ctx, tx, id, report.Downloaded); err != nil {
		return 0, err
	}
	if err := insertErrors(ctx, tx, id, report.Failures); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl run: %w", err)
	}
	report.ID = id
	return id, nil
}

func insertPages(ctx context.Context, tx *sql.Tx, runID int64, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO run_pages (run_id, url) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range urls {
		if _, err := stmt.ExecContext(ctx, runID, u); err != nil {
			return fmt.Errorf("failed to insert page %s: %w", u, err)
		}
	}
	return nil
}

func insertErrors(ctx context.Context, tx *sql.Tx, runID int64, failures []model.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO run_errors (run_id, url, kind, message) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare error insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, runID, f.URL, f.Kind, f.Message); err != nil {
			return fmt.Errorf("failed to insert error for %s: %w", f.URL, err)
		}
	}
	return nil
}

// ListSeeds returns every seed that has at least one stored run, sorted.
func (cdb *CrawlDB) ListSeeds(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT DISTINCT seed FROM crawl_runs ORDER BY seed`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}
	defer rows.Close()

	var seeds []string
	for rows.Next() {
		var seed string
		if err := rows.Scan(&seed); err != nil {
			return nil, fmt.Errorf("failed to scan seed: %w", err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, rows.Err()
}

// RunSummary describes a stored run without its URL lists.
type RunSummary struct {
	ID         int64
	Seed       string
	Depth      int
	StartedAt  time.Time
	FinishedAt time.Time
	Downloaded int
	Failed     int
	Cancelled  bool
}

// ListRuns returns the runs of seed, newest first.
func (cdb *CrawlDB) ListRuns(ctx context.Context, seed string) ([]RunSummary, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT id, seed, depth, started_at, finished_at, downloaded, failed, cancelled
	FROM crawl_runs
	WHERE seed = ?
	ORDER BY started_at DESC, id DESC
	`, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run              RunSummary
			started, stopped string
		)
		if err := rows.Scan(&run.ID, &run.Seed, &run.Depth, &started, &stopped,
			&run.Downloaded, &run.Failed, &run.Cancelled); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTimestamp(started)
		run.FinishedAt = parseTimestamp(stopped)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetReport rebuilds the report of run id. It returns ErrRunNotFound if no
// such run exists.
func (cdb *CrawlDB) GetReport(ctx context.Context, id int64) (*model.CrawlReport, error) {
	var (
		report           model.CrawlReport
		started, stopped string
	)
	err := cdb.db.QueryRowContext(ctx, `
	SELECT id, seed, depth, downloaders, extractors, per_host, started_at, finished_at, cancelled
	FROM crawl_runs
	WHERE id = ?
	`, id).Scan(
		&report.ID,
		&report.Seed,
		&report.Depth,
		&report.Downloaders,
		&report.Extractors,
		&report.PerHost,
		&started,
		&stopped,
		&report.Cancelled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl run: %w", err)
	}
	report.StartedAt = parseTimestamp(started)
	report.FinishedAt = parseTimestamp(stopped)

	if report.Downloaded, err = cdb.runPages(ctx, id); err != nil {
		return nil, err
	}
	if report.Failures, err = cdb.runErrors(ctx, id); err != nil {
		return nil, err
	}
	return &report, nil
}

func (cdb *CrawlDB) runPages(ctx context.Context, id int64) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT url FROM run_pages WHERE run_id = ? ORDER BY url`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run pages: %w", err)
	}
	defer rows.Close()

	pages := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, u)
	}
	return pages, rows.Err()
}

func (cdb *CrawlDB) runErrors(ctx context.Context, id int64) ([]model.Failure, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT url, kind, message FROM run_errors WHERE run_id = ? ORDER BY url`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run errors: %w", err)
	}
	defer rows.Close()

	failures := []model.Failure{}
	for rows.Next() {
		var f model.Failure
		if err := rows.Scan(&f.URL, &f.Kind, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan error: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// DeleteRun removes run id together with its pages and errors.
func (cdb *CrawlDB) DeleteRun(ctx context.Context, id int64) error {
	res, err := cdb.db.ExecContext(ctx, `DELETE FROM crawl_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete crawl run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete crawl run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timestampFormats are tried in order by parseTimestamp.
var timestampFormats = []string{
	timeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
}

// parseTimestamp parses a stored timestamp as UTC. Unparsable values give
// the zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
