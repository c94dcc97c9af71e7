package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/webimg/internal/model"
)

// DBFile is the database file name inside the data directory.
const DBFile = "webimg.db"

var (
	// ErrRunNotFound is returned when no run matches an ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousRunID is returned when an ID prefix matches several runs.
	ErrAmbiguousRunID = errors.New("run ID prefix matches more than one run")
)

// HistoryDB stores harvest runs and their assets.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures HistoryDB.
type Options struct {
	// CreateIfNotExists creates the directory and database file.
	CreateIfNotExists bool

	// EnableWAL turns on write-ahead logging.
	EnableWAL bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens the history database in dbDir.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, DBFile)

	mode := "rw"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		mode = "rwc"
	} else if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode="+mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	hdb := &HistoryDB{db: db, dbPath: dbPath}
	if err := hdb.createTables(); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return hdb, nil
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

// Close closes the database.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		seeds TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		pages_visited INTEGER NOT NULL DEFAULT 0,
		pages_failed INTEGER NOT NULL DEFAULT 0,
		asset_count INTEGER NOT NULL DEFAULT 0,
		truncated INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		source_url TEXT NOT NULL,
		attribution_url TEXT NOT NULL,
		page_url TEXT,
		width INTEGER,
		height INTEGER,
		format TEXT,
		strategy TEXT,
		digest TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assets_run ON assets(run_id);
	CREATE INDEX IF NOT EXISTS idx_assets_source ON assets(source_url);
	CREATE INDEX IF NOT EXISTS idx_assets_digest ON assets(digest);
	`
	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// Run is the stored summary of one harvest.
type Run struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Seeds        []string  `json:"seeds"`
	OutputDir    string    `json:"output_dir"`
	PagesVisited int       `json:"pages_visited"`
	PagesFailed  int       `json:"pages_failed"`
	AssetCount   int       `json:"asset_count"`
	Truncated    bool      `json:"truncated"`
}

// AssetRecord is one stored asset.
type AssetRecord struct {
	RunID          string         `json:"run_id"`
	Filename       string         `json:"filename"`
	SourceURL      string         `json:"source_url"`
	AttributionURL string         `json:"attribution_url"`
	PageURL        string         `json:"page_url"`
	Size           model.Size     `json:"size"`
	Format         string         `json:"format"`
	Strategy       model.Strategy `json:"strategy"`
	Digest         string         `json:"digest"`
}

// SaveRun stores result and returns the new run ID.
func (h *HistoryDB) SaveRun(ctx context.Context, outputDir string, result *model.HarvestResult) (string, error) {
	seeds, err := json.Marshal(result.Seeds)
	if err != nil {
		return "", fmt.Errorf("failed to serialize seeds: %w", err)
	}

	id := uuid.NewString()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (id, started_at, finished_at, seeds, output_dir, pages_visited, pages_failed, asset_count, truncated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		formatTimestamp(result.StartedAt),
		formatTimestamp(result.FinishedAt),
		string(seeds),
		outputDir,
		result.PagesVisited,
		result.PagesFailed,
		len(result.Records),
		result.Truncated,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO assets (run_id, filename, source_url, attribution_url, page_url, width, height, format, strategy, digest)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare asset insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction

	for _, a := range result.Records {
		attribution, ok := result.Assets.Get(a.Filename)
		if !ok {
			attribution = a.SourceURL
		}
		if _, err := stmt.ExecContext(ctx,
			id, a.Filename, a.SourceURL, attribution, a.PageURL,
			a.Size.Width, a.Size.Height, a.Format, string(a.Strategy), a.Digest,
		); err != nil {
			return "", fmt.Errorf("failed to insert asset %s: %w", a.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (h *HistoryDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT id, started_at, finished_at, seeds, output_dir, pages_visited, pages_failed, asset_count, truncated
	FROM runs
	ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose ID equals or starts with idPrefix.
func (h *HistoryDB) GetRun(ctx context.Context, idPrefix string) (*Run, error) {
	if idPrefix == "" {
		return nil, ErrRunNotFound
	}
	rows, err := h.db.QueryContext(ctx, `
	SELECT id, started_at, finished_at, seeds, output_dir, pages_visited, pages_failed, asset_count, truncated
	FROM runs
	WHERE id LIKE ? || '%'
	LIMIT 2`, idPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var found []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idPrefix)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, idPrefix)
	}
}

// GetRunAssets returns the assets of a run in insertion order.
func (h *HistoryDB) GetRunAssets(ctx context.Context, runID string) ([]AssetRecord, error) {
	return h.queryAssets(ctx, `
	SELECT run_id, filename, source_url, attribution_url, page_url, width, height, format, strategy, digest
	FROM assets
	WHERE run_id = ?
	ORDER BY id`, runID)
}

// FindDuplicates returns the assets of runID whose digest was already
// stored by an earlier run, paired with the earliest such record.
func (h *HistoryDB) FindDuplicates(ctx context.Context, runID string) ([]Duplicate, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT cur.filename, cur.source_url, prev.run_id, prev.filename, prev.source_url
	FROM assets cur
	JOIN runs cur_run ON cur_run.id = cur.run_id
	JOIN assets prev ON prev.id = (
		SELECT p.id
		FROM assets p
		JOIN runs pr ON pr.id = p.run_id
		WHERE p.digest = cur.digest AND p.run_id <> cur.run_id AND pr.started_at < cur_run.started_at
		ORDER BY pr.started_at, p.id
		LIMIT 1
	)
	WHERE cur.run_id = ? AND cur.digest <> ''
	ORDER BY cur.id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var dups []Duplicate
	for rows.Next() {
		var d Duplicate
		if err := rows.Scan(&d.Filename, &d.SourceURL, &d.PreviousRunID, &d.PreviousFilename, &d.PreviousSourceURL); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		dups = append(dups, d)
	}
	return dups, rows.Err()
}

// Duplicate pairs an asset with an identical one from an earlier run.
type Duplicate struct {
	Filename          string `json:"filename"`
	SourceURL         string `json:"source_url"`
	PreviousRunID     string `json:"previous_run_id"`
	PreviousFilename  string `json:"previous_filename"`
	PreviousSourceURL string `json:"previous_source_url"`
}

func (h *HistoryDB) queryAssets(ctx context.Context, query string, args ...any) ([]AssetRecord, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var records []AssetRecord
	for rows.Next() {
		var (
			r                              AssetRecord
			pageURL, format, strat, digest sql.NullString
			width, height                  sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &r.Filename, &r.SourceURL, &r.AttributionURL, &pageURL,
			&width, &height, &format, &strat, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		r.PageURL = pageURL.String
		r.Size = model.Size{Width: int(width.Int64), Height: int(height.Int64)}
		r.Format = format.String
		r.Strategy = model.Strategy(strat.String)
		r.Digest = digest.String
		records = append(records, r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(rows rowScanner) (Run, error) {
	var (
		run               Run
		started, finished string
		seeds             string
		truncated         int
	)
	if err := rows.Scan(&run.ID, &started, &finished, &seeds, &run.OutputDir,
		&run.PagesVisited, &run.PagesFailed, &run.AssetCount, &truncated); err != nil {
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = parseTimestamp(started)
	run.FinishedAt = parseTimestamp(finished)
	run.Truncated = truncated != 0
	if err := json.Unmarshal([]byte(seeds), &run.Seeds); err != nil {
		return Run{}, fmt.Errorf("failed to parse seeds of run %s: %w", run.ID, err)
	}
	return run, nil
}

// timestampLayout sorts lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats are tried in order by parseTimestamp.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time when s matches no known format.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
