package metrics

import (
	"sync"
	"time"
)

// MetricsStore is the in-memory MetricsCollector: a ring buffer of recent
// frames plus running aggregates.
//
//	store := metrics.NewMetricsStore(metrics.DefaultStoreConfig(), time.Now())
//	store.RecordFrame(rec)
//	summary := store.GetFrameMetrics()
type MetricsStore struct {
	mu sync.RWMutex

	frames    []FrameRecord
	frameCap  int
	frameHead int
	frameSize int

	totalFrames  int64
	totalSuccess int64
	totalErrors  int64
	byMode       map[string]*modeStats
	lastFrame    time.Time

	device DeviceMetrics

	runID     string
	startTime time.Time
	version   string
	stopped   bool
}

type modeStats struct {
	count         int64
	successCount  int64
	totalDuration time.Duration
	successPixels int64
	successTime   time.Duration
}

// StoreConfig configures the MetricsStore behavior.
type StoreConfig struct {
	// FrameHistoryCapacity is the max number of frames to retain.
	FrameHistoryCapacity int
	Version              string
	RunID                string
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		FrameHistoryCapacity: 256,
		Version:              "0.0.0",
	}
}

// NewMetricsStore creates a store. startTime is used to calculate uptime.
func NewMetricsStore(config StoreConfig, startTime time.Time) *MetricsStore {
	capacity := config.FrameHistoryCapacity
	if capacity < 1 {
		capacity = 256
	}

	return &MetricsStore{
		frames:    make([]FrameRecord, capacity),
		frameCap:  capacity,
		byMode:    make(map[string]*modeStats),
		runID:     config.RunID,
		startTime: startTime,
		version:   config.Version,
	}
}

// RecordFrame adds a finished frame.
func (s *MetricsStore) RecordFrame(frame FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames[s.frameHead] = frame
	s.frameHead = (s.frameHead + 1) % s.frameCap
	if s.frameSize < s.frameCap {
		s.frameSize++
	}

	s.totalFrames++
	switch frame.Status {
	case FrameStatusSuccess:
		s.totalSuccess++
	case FrameStatusError:
		s.totalErrors++
	}
	if frame.EndTime.After(s.lastFrame) {
		s.lastFrame = frame.EndTime
	}

	stats, ok := s.byMode[frame.Mode]
	if !ok {
		stats = &modeStats{}
		s.byMode[frame.Mode] = stats
	}
	stats.count++
	stats.totalDuration += frame.Duration
	if frame.Status == FrameStatusSuccess {
		stats.successCount++
		stats.successPixels += frame.Pixels()
		stats.successTime += frame.Duration
	}
}

// GetFrameMetrics returns aggregated frame statistics.
func (s *MetricsStore) GetFrameMetrics() FrameMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := FrameMetrics{
		TotalProcessed: s.totalFrames,
		TotalSuccess:   s.totalSuccess,
		TotalErrors:    s.totalErrors,
		ByMode:         make(map[string]*ModeMetrics, len(s.byMode)),
	}

	for mode, stats := range s.byMode {
		mm := &ModeMetrics{Count: stats.count}
		if stats.count > 0 {
			mm.SuccessRate = float64(stats.successCount) / float64(stats.count) * 100
			mm.AvgDuration = stats.totalDuration / time.Duration(stats.count)
		}
		if stats.successTime > 0 {
			mm.MegapixelsPerSecond = float64(stats.successPixels) / 1e6 / stats.successTime.Seconds()
		}
		m.ByMode[mode] = mm
	}
	return m
}

// GetRecentFrames returns up to limit of the most recent frames, oldest first.
func (s *MetricsStore) GetRecentFrames(limit int) []FrameRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.frameSize == 0 {
		return []FrameRecord{}
	}
	if limit > s.frameSize {
		limit = s.frameSize
	}

	result := make([]FrameRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.frameHead - limit + i + s.frameCap) % s.frameCap
		result[i] = s.frames[idx]
	}
	return result
}

// UpdateDeviceMetrics replaces the device snapshot. The peak never
// decreases across updates.
func (s *MetricsStore) UpdateDeviceMetrics(dev DeviceMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device.PeakDeviceBytes > dev.PeakDeviceBytes {
		dev.PeakDeviceBytes = s.device.PeakDeviceBytes
	}
	s.device = dev
}

// GetDeviceMetrics returns the latest device snapshot.
func (s *MetricsStore) GetDeviceMetrics() DeviceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// MarkStopped flags the run as finished.
func (s *MetricsStore) MarkStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// GetRunStatus reports the run as degraded once any frame has failed.
func (s *MetricsStore) GetRunStatus() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := RunHealthRunning
	switch {
	case s.stopped:
		health = RunHealthStopped
	case s.totalErrors > 0:
		health = RunHealthDegraded
	}

	return RunStatus{
		RunID:     s.runID,
		Health:    health,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastFrame: s.lastFrame,
	}
}

var _ MetricsCollector = (*MetricsStore)(nil)
