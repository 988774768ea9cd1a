package store

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

	_ "github.com/mattn/go-sqlite3"
)

const defaultHistoryLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	insertRunStmt   *sql.Stmt
	insertStageStmt *sql.Stmt
	getRunStmt      *sql.Stmt
	stagesByRunStmt *sql.Stmt
}

var (
	sqliteOpen              = sql.Open
	sqlitePrepareStatements = (*SQLiteStore).prepareStatements
)

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sqliteOpen("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{db: db}
	if err := sqlitePrepareStatements(st); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project_dir TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			overall_score INTEGER NOT NULL,
			runtime_score INTEGER,
			static_score INTEGER,
			ui_score INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			score INTEGER,
			duration_ms INTEGER NOT NULL,
			details TEXT,
			errors BLOB,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_run_id ON stage_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project_dir ON runs(project_dir)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	if s == nil || s.db == nil {
		return errors.New("store: nil sqlite store")
	}

	ctx := context.Background()
	type stmtSpec struct {
		dst    **sql.Stmt
		query  string
		errFmt string
	}

	specs := []stmtSpec{
		{
			dst: &s.insertRunStmt,
			query: `
				INSERT INTO runs (
					id, project_dir, started_at, finished_at, verdict, overall_score,
					runtime_score, static_score, ui_score
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert run: %w",
		},
		{
			dst: &s.insertStageStmt,
			query: `
				INSERT INTO stage_results (
					id, run_id, kind, status, score, duration_ms, details, errors, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert stage: %w",
		},
		{
			dst: &s.getRunStmt,
			query: `
				SELECT id, project_dir, started_at, finished_at, verdict, overall_score,
					runtime_score, static_score, ui_score
				FROM runs WHERE id = ?
			`,
			errFmt: "store: prepare get run: %w",
		},
		{
			dst: &s.stagesByRunStmt,
			query: `
				SELECT id, run_id, kind, status, score, duration_ms, details, errors, created_at
				FROM stage_results
				WHERE run_id = ?
				ORDER BY created_at ASC, kind ASC
			`,
			errFmt: "store: prepare get stages: %w",
		},
	}

	for _, spec := range specs {
		stmt, err := s.db.PrepareContext(ctx, spec.query)
		if err != nil {
			return fmt.Errorf(spec.errFmt, err)
		}
		*spec.dst = stmt
	}

	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}
	stmts := []*sql.Stmt{
		s.insertRunStmt,
		s.insertStageStmt,
		s.getRunStmt,
		s.stagesByRunStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun persists a run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if s == nil {
		return errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	if run == nil {
		return errors.New("store: nil run")
	}

	id := strings.TrimSpace(run.ID)
	if id == "" {
		return errors.New("store: empty run id")
	}
	if run.StartedAt.IsZero() || run.FinishedAt.IsZero() {
		return errors.New("store: missing run timestamps")
	}
	if strings.TrimSpace(run.Verdict) == "" {
		return errors.New("store: empty verdict")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin run tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.StmtContext(ctx, s.insertRunStmt)
	defer stmt.Close()

	_, err = stmt.ExecContext(
		ctx,
		id,
		run.ProjectDir,
		run.StartedAt.UTC().UnixMilli(),
		run.FinishedAt.UTC().UnixMilli(),
		run.Verdict,
		run.OverallScore,
		nullableInt(run.RuntimeScore),
		nullableInt(run.StaticScore),
		nullableInt(run.UIScore),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run: %w", err)
	}
	return nil
}

// SaveStageResult persists one stage outcome.
func (s *SQLiteStore) SaveStageResult(ctx context.Context, result *StageRecord) error {
	if s == nil {
		return errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	if result == nil {
		return errors.New("store: nil stage result")
	}

	id := strings.TrimSpace(result.ID)
	if id == "" {
		return errors.New("store: empty stage id")
	}
	if strings.TrimSpace(result.RunID) == "" {
		return errors.New("store: empty run id")
	}
	if strings.TrimSpace(result.Kind) == "" || strings.TrimSpace(result.Status) == "" {
		return errors.New("store: missing stage kind/status")
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	errJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("store: marshal stage errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin stage tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.StmtContext(ctx, s.insertStageStmt)
	defer stmt.Close()

	_, err = stmt.ExecContext(
		ctx,
		id,
		result.RunID,
		result.Kind,
		result.Status,
		nullableInt(result.Score),
		result.DurationMs,
		result.Details,
		errJSON,
		createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert stage result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit stage result: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("store: empty run id")
	}

	run, err := scanRun(s.getRunStmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, project_dir, started_at, finished_at, verdict, overall_score,
		runtime_score, static_score, ui_score FROM runs WHERE 1=1`)

	var args []any
	if dir := strings.TrimSpace(filter.ProjectDir); dir != "" {
		sb.WriteString(` AND project_dir = ?`)
		args = append(args, dir)
	}
	if v := strings.TrimSpace(filter.Verdict); v != "" {
		sb.WriteString(` AND verdict = ?`)
		args = append(args, v)
	}
	if !filter.Since.IsZero() {
		sb.WriteString(` AND started_at >= ?`)
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if !filter.Until.IsZero() {
		sb.WriteString(` AND started_at <= ?`)
		args = append(args, filter.Until.UTC().UnixMilli())
	}
	sb.WriteString(` ORDER BY started_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

// GetStageResults lists stage outcomes for a run.
func (s *SQLiteStore) GetStageResults(ctx context.Context, runID string) ([]*StageRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("store: empty run id")
	}

	rows, err := s.stagesByRunStmt.QueryContext(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get stage results: %w", err)
	}
	defer rows.Close()

	var out []*StageRecord
	for rows.Next() {
		var (
			id         string
			rID        string
			kind       string
			status     string
			score      sql.NullInt64
			durationMs int64
			details    sql.NullString
			errJSON    []byte
			createdMS  int64
		)
		if err := rows.Scan(&id, &rID, &kind, &status, &score, &durationMs, &details, &errJSON, &createdMS); err != nil {
			return nil, fmt.Errorf("store: scan stage: %w", err)
		}

		stageErrs, err := decodeErrors(errJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decode stage errors: %w", err)
		}

		out = append(out, &StageRecord{
			ID:         id,
			RunID:      rID,
			Kind:       kind,
			Status:     status,
			Score:      intPtr(score),
			DurationMs: durationMs,
			Details:    details.String,
			Errors:     stageErrs,
			CreatedAt:  time.UnixMilli(createdMS).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan stage rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		id           string
		projectDir   string
		startedAtMS  int64
		finishedAtMS int64
		verdict      string
		overallScore int
		runtimeScore sql.NullInt64
		staticScore  sql.NullInt64
		uiScore      sql.NullInt64
	)
	if err := row.Scan(&id, &projectDir, &startedAtMS, &finishedAtMS, &verdict, &overallScore,
		&runtimeScore, &staticScore, &uiScore); err != nil {
		return nil, err
	}
	return &RunRecord{
		ID:           id,
		ProjectDir:   projectDir,
		StartedAt:    time.UnixMilli(startedAtMS).UTC(),
		FinishedAt:   time.UnixMilli(finishedAtMS).UTC(),
		Verdict:      verdict,
		OverallScore: overallScore,
		RuntimeScore: intPtr(runtimeScore),
		StaticScore:  intPtr(staticScore),
		UIScore:      intPtr(uiScore),
	}, nil
}

func decodeErrors(errJSON []byte) ([]string, error) {
	if len(errJSON) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(errJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
