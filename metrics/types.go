// Package metrics holds in-memory frame and device statistics for a
// denoise run.
package metrics

import "time"

// FrameRecord is one denoised (or failed) frame.
type FrameRecord struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Frame     string        `json:"frame"`
	Index     int           `json:"index"`
	Mode      string        `json:"mode"`
	Status    string        `json:"status"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Channels  int           `json:"channels"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	ErrorMsg  string        `json:"error_msg,omitempty"`
}

// Pixels returns width*height.
func (r FrameRecord) Pixels() int64 {
	return int64(r.Width) * int64(r.Height)
}

// DeviceMetrics is a snapshot of device allocator usage.
type DeviceMetrics struct {
	MemoryLimit     int64     `json:"memory_limit"`
	DeviceBytes     int64     `json:"device_bytes"`
	HostBytes       int64     `json:"host_bytes"`
	PeakDeviceBytes int64     `json:"peak_device_bytes"`
	LiveBuffers     int       `json:"live_buffers"`
	Allocations     int64     `json:"allocations"`
	Frees           int64     `json:"frees"`
	Migrations      int64     `json:"migrations"`
	SampledAt       time.Time `json:"sampled_at"`
}

// Utilization returns device bytes as a percentage of the limit.
func (m DeviceMetrics) Utilization() float64 {
	if m.MemoryLimit <= 0 {
		return 0
	}
	return float64(m.DeviceBytes) / float64(m.MemoryLimit) * 100
}

// RunStatus summarizes the current run.
type RunStatus struct {
	RunID     string        `json:"run_id"`
	Health    string        `json:"health"`
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	LastFrame time.Time     `json:"last_frame,omitempty"`
}

// FrameMetrics aggregates frame records.
type FrameMetrics struct {
	TotalProcessed int64                   `json:"total_processed"`
	TotalSuccess   int64                   `json:"total_success"`
	TotalErrors    int64                   `json:"total_errors"`
	ByMode         map[string]*ModeMetrics `json:"by_mode"`
}

// ModeMetrics aggregates frames denoised in one mode.
type ModeMetrics struct {
	Count               int64         `json:"count"`
	SuccessRate         float64       `json:"success_rate"`
	AvgDuration         time.Duration `json:"avg_duration"`
	MegapixelsPerSecond float64       `json:"megapixels_per_second"`
}

// Status constants for FrameRecord.
const (
	FrameStatusSuccess = "success"
	FrameStatusError   = "error"
	FrameStatusSkipped = "skipped"
)

// Health constants for RunStatus.
const (
	RunHealthRunning  = "running"
	RunHealthDegraded = "degraded"
	RunHealthStopped  = "stopped"
)

// Denoise modes. Simple is a single noisy buffer, structured resolves named
// layers, temporal chains the previous output.
const (
	ModeSimple     = "simple"
	ModeStructured = "structured"
	ModeTemporal   = "temporal"
)
