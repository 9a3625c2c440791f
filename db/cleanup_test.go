package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPruneRuns(t *testing.T) {
	d := openTestDatabase(t)
	repo := NewRepository(d, nil)
	ctx := context.Background()

	now := time.Now()
	runs := map[string]time.Time{
		"old":    now.AddDate(0, 0, -40),
		"recent": now.AddDate(0, 0, -5),
	}
	for id, started := range runs {
		if err := repo.InsertRun(ctx, testRun(id, started)); err != nil {
			t.Fatalf("InsertRun(%s) error = %v", id, err)
		}
		for i := 0; i < 3; i++ {
			err := repo.InsertFrame(ctx, FrameEntry{
				ID: id + "-" + string(rune('0'+i)), RunID: id, FrameIndex: i,
				Name: "frame", Status: FrameStatusSuccess,
			})
			if err != nil {
				t.Fatalf("InsertFrame() error = %v", err)
			}
		}
	}

	result, err := d.PruneRuns(ctx, 30)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if result.RunsDeleted != 1 || result.FramesDeleted != 3 {
		t.Errorf("PruneRuns() = %+v, want 1 run and 3 frames", result)
	}

	if _, err := repo.QueryRun(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old run still present: %v", err)
	}
	frames, err := repo.QueryFrames(ctx, "recent")
	if err != nil || len(frames) != 3 {
		t.Errorf("recent frames = %d, %v; want 3", len(frames), err)
	}
}

func TestPruneRunsZeroRetention(t *testing.T) {
	d := openTestDatabase(t)
	repo := NewRepository(d, nil)
	ctx := context.Background()

	if err := repo.InsertRun(ctx, testRun("r", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}
	result, err := d.PruneRuns(ctx, 0)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if result.RunsDeleted != 1 {
		t.Errorf("RunsDeleted = %d, want 1", result.RunsDeleted)
	}
}

func TestPruneRunsErrors(t *testing.T) {
	d := openTestDatabase(t)

	if _, err := d.PruneRuns(context.Background(), -1); err == nil {
		t.Error("PruneRuns(-1) expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.PruneRuns(ctx, 30); !errors.Is(err, context.Canceled) {
		t.Errorf("PruneRuns() with cancelled context = %v, want Canceled", err)
	}

	d.Close()
	if _, err := d.PruneRuns(context.Background(), 30); !errors.Is(err, ErrClosed) {
		t.Errorf("PruneRuns() on closed db = %v, want ErrClosed", err)
	}
}
