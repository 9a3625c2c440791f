package metrics

// MetricsCollector collects frame and device metrics. Implementations are
// safe for concurrent use and return zero values for missing data.
type MetricsCollector interface {
	RecordFrame(frame FrameRecord)
	GetFrameMetrics() FrameMetrics
	GetRecentFrames(limit int) []FrameRecord

	UpdateDeviceMetrics(dev DeviceMetrics)
	GetDeviceMetrics() DeviceMetrics

	GetRunStatus() RunStatus
}
