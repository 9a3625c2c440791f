package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is how timestamps are stored. Fixed width UTC so TEXT columns
// compare chronologically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Run and frame status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"

	FrameStatusSuccess = "success"
	FrameStatusError   = "error"
	FrameStatusSkipped = "skipped"
)

// RunRecord is a row of the runs table: one invocation over a manifest.
type RunRecord struct {
	ID           string
	Manifest     string // Manifest path
	Backend      string // Engine backend name
	Mode         string // "simple", "structured" or "temporal"
	GuideAlbedo  bool
	GuideNormals bool
	Temporal     bool
	Width        int
	Height       int
	FrameCount   int // Frames attempted, set by FinishRun
	Status       string
	ErrorMessage string
	Version      string
	StartedAt    time.Time
	FinishedAt   time.Time // Zero while running
}

// FrameEntry is a row of the frames table.
type FrameEntry struct {
	ID              string
	RunID           string
	FrameIndex      int
	Name            string
	OutputPath      string
	Status          string
	DurationMS      int64
	PeakDeviceBytes int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository reads and writes the run ledger. With an AsyncWriter, frame
// inserts are queued; run rows are always written synchronously.
type Repository struct {
	db          *Database
	asyncWriter *AsyncWriter
}

// NewRepository creates a Repository. asyncWriter may be nil.
func NewRepository(db *Database, asyncWriter *AsyncWriter) *Repository {
	return &Repository{
		db:          db,
		asyncWriter: asyncWriter,
	}
}

// SetAsyncWriter attaches a writer built from CreateAsyncWriteHandler.
func (r *Repository) SetAsyncWriter(w *AsyncWriter) {
	r.asyncWriter = w
}

// InsertRun records the start of a run.
func (r *Repository) InsertRun(ctx context.Context, run RunRecord) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, manifest, backend, mode, guide_albedo, guide_normals, temporal,
			width, height, frame_count, status, error_message, version, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Manifest, run.Backend, run.Mode,
		run.GuideAlbedo, run.GuideNormals, run.Temporal,
		run.Width, run.Height, run.FrameCount, run.Status,
		nullString(run.ErrorMessage), nullString(run.Version),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run. It returns ErrNotFound for an
// unknown id.
func (r *Repository) FinishRun(ctx context.Context, id, status string, frameCount int, errMsg string) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, frame_count = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		status, frameCount, nullString(errMsg), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

type asyncInsertOp struct {
	query string
	args  []any
}

const insertFrameQuery = `
	INSERT INTO frames (
		id, run_id, frame_index, name, output_path, status,
		duration_ms, peak_device_bytes, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertFrame records one frame outcome. When the async writer is running
// the insert is queued and a full queue is reported as an error.
func (r *Repository) InsertFrame(ctx context.Context, frame FrameEntry) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now()
	}

	args := []any{
		frame.ID, frame.RunID, frame.FrameIndex, frame.Name,
		nullString(frame.OutputPath), frame.Status,
		frame.DurationMS, frame.PeakDeviceBytes,
		nullString(frame.ErrorMessage), formatTime(frame.CreatedAt),
	}

	if r.asyncWriter != nil && r.asyncWriter.IsStarted() {
		if !r.asyncWriter.Write(asyncInsertOp{query: insertFrameQuery, args: args}) {
			return fmt.Errorf("frame %s: async write queue full", frame.Name)
		}
		return nil
	}

	if _, err := r.db.ExecContext(ctx, insertFrameQuery, args...); err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// CreateAsyncWriteHandler returns the WriteHandler for queued inserts.
func (r *Repository) CreateAsyncWriteHandler() WriteHandler {
	return func(op WriteOperation) error {
		insertOp, ok := op.Data.(asyncInsertOp)
		if !ok {
			return fmt.Errorf("invalid operation type: expected asyncInsertOp")
		}

		_, err := r.db.ExecContext(context.Background(), insertOp.query, insertOp.args...)
		return err
	}
}

const runColumns = `
	id, manifest, backend, mode, guide_albedo, guide_normals, temporal,
	width, height, frame_count, status, error_message, version, started_at, finished_at`

// QueryRun returns a run by id, or ErrNotFound.
func (r *Repository) QueryRun(ctx context.Context, id string) (RunRecord, error) {
	if r.db == nil {
		return RunRecord{}, fmt.Errorf("database connection is nil")
	}

	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// QueryRecentRuns returns up to limit runs, newest first.
func (r *Repository) QueryRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// QueryFrames returns the frames of a run in frame order.
func (r *Repository) QueryFrames(ctx context.Context, runID string) ([]FrameEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, frame_index, name, output_path, status,
			duration_ms, peak_device_bytes, error_message, created_at
		FROM frames WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []FrameEntry
	for rows.Next() {
		var (
			f                  FrameEntry
			outputPath, errMsg sql.NullString
			createdAt          string
		)
		if err := rows.Scan(
			&f.ID, &f.RunID, &f.FrameIndex, &f.Name, &outputPath, &f.Status,
			&f.DurationMS, &f.PeakDeviceBytes, &errMsg, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		f.OutputPath = outputPath.String
		f.ErrorMessage = errMsg.String
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return frames, nil
}

// CountFramesByStatus returns frame counts per status for a run.
func (r *Repository) CountFramesByStatus(ctx context.Context, runID string) (map[string]int, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM frames WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count frames: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return counts, nil
}

// CountRuns returns the number of runs in the ledger.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var (
		run             RunRecord
		errMsg, version sql.NullString
		startedAt       string
		finishedAt      sql.NullString
	)
	if err := s.Scan(
		&run.ID, &run.Manifest, &run.Backend, &run.Mode,
		&run.GuideAlbedo, &run.GuideNormals, &run.Temporal,
		&run.Width, &run.Height, &run.FrameCount, &run.Status,
		&errMsg, &version, &startedAt, &finishedAt,
	); err != nil {
		return RunRecord{}, err
	}
	run.ErrorMessage = errMsg.String
	run.Version = version.String

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return RunRecord{}, err
	}
	if finishedAt.Valid {
		if run.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return RunRecord{}, err
		}
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullString stores an empty string as NULL.
func nullString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
