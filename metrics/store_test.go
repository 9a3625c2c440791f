package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func frame(index int, mode, status string, d time.Duration) FrameRecord {
	end := time.Date(2024, 3, 1, 12, 0, index, 0, time.UTC)
	return FrameRecord{
		ID:        fmt.Sprintf("f-%d", index),
		Frame:     fmt.Sprintf("shot.%04d", index),
		Index:     index,
		Mode:      mode,
		Status:    status,
		Width:     1000,
		Height:    500,
		Channels:  3,
		StartTime: end.Add(-d),
		EndTime:   end,
		Duration:  d,
	}
}

func TestNewMetricsStore(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		store := NewMetricsStore(DefaultStoreConfig(), time.Now())
		if store.frameCap != 256 || store.version != "0.0.0" {
			t.Errorf("cap = %d, version = %q", store.frameCap, store.version)
		}
	})

	t.Run("zero capacity defaults", func(t *testing.T) {
		store := NewMetricsStore(StoreConfig{}, time.Now())
		if store.frameCap != 256 {
			t.Errorf("cap = %d, want 256", store.frameCap)
		}
	})
}

func TestMetricsStore_RecordFrame(t *testing.T) {
	store := NewMetricsStore(StoreConfig{FrameHistoryCapacity: 10, RunID: "run-1"}, time.Now())

	store.RecordFrame(frame(0, ModeTemporal, FrameStatusSuccess, 500*time.Millisecond))
	store.RecordFrame(frame(1, ModeTemporal, FrameStatusSuccess, 1500*time.Millisecond))
	store.RecordFrame(frame(2, ModeTemporal, FrameStatusError, 100*time.Millisecond))
	store.RecordFrame(frame(3, ModeSimple, FrameStatusSuccess, 250*time.Millisecond))
	store.RecordFrame(frame(4, ModeSimple, FrameStatusSkipped, 0))

	m := store.GetFrameMetrics()
	if m.TotalProcessed != 5 || m.TotalSuccess != 3 || m.TotalErrors != 1 {
		t.Errorf("totals = %d/%d/%d", m.TotalProcessed, m.TotalSuccess, m.TotalErrors)
	}

	temporal := m.ByMode[ModeTemporal]
	if temporal == nil {
		t.Fatal("missing temporal mode stats")
	}
	if temporal.Count != 3 || temporal.AvgDuration != 700*time.Millisecond {
		t.Errorf("temporal count/avg = %d/%v", temporal.Count, temporal.AvgDuration)
	}
	// Two successful 0.5MP frames in 2s.
	if temporal.MegapixelsPerSecond != 0.5 {
		t.Errorf("temporal MP/s = %v, want 0.5", temporal.MegapixelsPerSecond)
	}
	if rate := temporal.SuccessRate; rate < 66.6 || rate > 66.7 {
		t.Errorf("temporal success rate = %v", rate)
	}

	simple := m.ByMode[ModeSimple]
	if simple.Count != 2 || simple.SuccessRate != 50 || simple.MegapixelsPerSecond != 2 {
		t.Errorf("simple = %+v", simple)
	}
}

func TestMetricsStore_GetRecentFrames(t *testing.T) {
	store := NewMetricsStore(StoreConfig{FrameHistoryCapacity: 3}, time.Now())
	for i := 0; i < 5; i++ {
		store.RecordFrame(frame(i, ModeSimple, FrameStatusSuccess, time.Millisecond))
	}

	tests := []struct {
		limit int
		want  []int
	}{
		{0, nil},
		{2, []int{3, 4}},
		{3, []int{2, 3, 4}},
		{10, []int{2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.limit), func(t *testing.T) {
			got := store.GetRecentFrames(tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.Index != tt.want[i] {
					t.Errorf("frame[%d].Index = %d, want %d", i, rec.Index, tt.want[i])
				}
			}
		})
	}

	// Aggregates cover evicted frames too.
	if got := store.GetFrameMetrics().TotalProcessed; got != 5 {
		t.Errorf("TotalProcessed = %d, want 5", got)
	}
}

func TestMetricsStore_DeviceMetrics(t *testing.T) {
	store := NewMetricsStore(DefaultStoreConfig(), time.Now())

	store.UpdateDeviceMetrics(DeviceMetrics{MemoryLimit: 1000, DeviceBytes: 800, PeakDeviceBytes: 900})
	store.UpdateDeviceMetrics(DeviceMetrics{MemoryLimit: 1000, DeviceBytes: 100, PeakDeviceBytes: 100})

	got := store.GetDeviceMetrics()
	if got.DeviceBytes != 100 || got.PeakDeviceBytes != 900 {
		t.Errorf("device = %+v, want current 100 and peak 900", got)
	}
	if got.Utilization() != 10 {
		t.Errorf("Utilization() = %v, want 10", got.Utilization())
	}
	if (DeviceMetrics{DeviceBytes: 5}).Utilization() != 0 {
		t.Error("Utilization() without a limit should be 0")
	}
}

func TestMetricsStore_GetRunStatus(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	store := NewMetricsStore(StoreConfig{RunID: "run-7", Version: "v1.2.0"}, start)

	status := store.GetRunStatus()
	if status.Health != RunHealthRunning || status.RunID != "run-7" || status.Version != "v1.2.0" {
		t.Errorf("initial status = %+v", status)
	}
	if status.Uptime < time.Minute {
		t.Errorf("Uptime = %v", status.Uptime)
	}

	failed := frame(3, ModeStructured, FrameStatusError, time.Millisecond)
	store.RecordFrame(failed)
	status = store.GetRunStatus()
	if status.Health != RunHealthDegraded || !status.LastFrame.Equal(failed.EndTime) {
		t.Errorf("after failure = %+v", status)
	}

	store.MarkStopped()
	if got := store.GetRunStatus().Health; got != RunHealthStopped {
		t.Errorf("Health = %q, want stopped", got)
	}
}

func TestMetricsStore_Concurrent(t *testing.T) {
	store := NewMetricsStore(StoreConfig{FrameHistoryCapacity: 16}, time.Now())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.RecordFrame(frame(w*50+i, ModeStructured, FrameStatusSuccess, time.Millisecond))
				store.UpdateDeviceMetrics(DeviceMetrics{DeviceBytes: int64(i)})
				_ = store.GetRecentFrames(4)
				_ = store.GetFrameMetrics()
			}
		}(w)
	}
	wg.Wait()

	if got := store.GetFrameMetrics().TotalProcessed; got != 400 {
		t.Errorf("TotalProcessed = %d, want 400", got)
	}
	if got := len(store.GetRecentFrames(100)); got != 16 {
		t.Errorf("GetRecentFrames() len = %d, want 16", got)
	}
}
