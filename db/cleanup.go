package db

import (
	"context"
	"fmt"
	"time"
)

// PruneResult reports what PruneRuns removed.
type PruneResult struct {
	RunsDeleted   int64
	FramesDeleted int64
	Duration      time.Duration
}

// PruneRuns deletes runs that started more than retentionDays ago, together
// with their frames, then runs VACUUM. A retentionDays of zero removes every
// run started before now.
//
//	result, err := ledger.PruneRuns(ctx, 30)
func (d *Database) PruneRuns(ctx context.Context, retentionDays int) (PruneResult, error) {
	start := time.Now()
	result := PruneResult{}

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return result, ErrClosed
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	// Frames first: the cascade only fires when foreign_keys is on for this
	// connection.
	res, err := tx.ExecContext(ctx,
		"DELETE FROM frames WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)", cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete frames: %w", err)
	}
	if result.FramesDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected for frames: %w", err)
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete runs: %w", err)
	}
	if result.RunsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected for runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("prune succeeded but VACUUM failed: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}
