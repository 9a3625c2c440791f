package metrics

import (
	"context"
	"sync"
	"time"

	"go_denoiser/device"
)

// StatsReader reads allocator statistics. *device.Device satisfies it.
type StatsReader interface {
	Stats() device.MemoryStats
}

// SamplerConfig configures a DeviceSampler.
type SamplerConfig struct {
	// Interval between samples. Values under 10ms are raised to 10ms.
	Interval time.Duration
	// HistorySize is the number of samples kept.
	HistorySize int
	// MemoryLimit is copied into every sample for utilization reporting.
	MemoryLimit int64
}

// DefaultSamplerConfig samples every 500ms and keeps ten minutes of history.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:    500 * time.Millisecond,
		HistorySize: 1200,
	}
}

// DeviceSampler polls a device's allocator statistics in the background and
// forwards each sample to a callback, typically
// (*MetricsStore).UpdateDeviceMetrics.
type DeviceSampler struct {
	mu sync.RWMutex

	config SamplerConfig
	reader StatsReader

	history  []DeviceMetrics
	histHead int
	histSize int
	histCap  int
	last     DeviceMetrics

	onSample func(DeviceMetrics)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewDeviceSampler creates a stopped sampler.
func NewDeviceSampler(config SamplerConfig, reader StatsReader, onSample func(DeviceMetrics)) *DeviceSampler {
	if config.Interval < 10*time.Millisecond {
		config.Interval = 10 * time.Millisecond
	}
	if config.HistorySize < 1 {
		config.HistorySize = DefaultSamplerConfig().HistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceSampler{
		config:   config,
		reader:   reader,
		history:  make([]DeviceMetrics, config.HistorySize),
		histCap:  config.HistorySize,
		onSample: onSample,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins sampling in a background goroutine. A first sample is taken
// immediately. Calling Start twice has no effect.
func (s *DeviceSampler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
}

// Stop halts sampling, waits for the goroutine, and takes a final sample so
// the callback sees the end-of-run state.
func (s *DeviceSampler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.SampleNow()
}

// SampleNow records one sample synchronously.
func (s *DeviceSampler) SampleNow() DeviceMetrics {
	stats := s.reader.Stats()
	sample := DeviceMetrics{
		MemoryLimit:     s.config.MemoryLimit,
		DeviceBytes:     stats.DeviceBytes,
		HostBytes:       stats.HostBytes,
		PeakDeviceBytes: stats.PeakDeviceBytes,
		LiveBuffers:     stats.LiveBuffers,
		Allocations:     stats.Allocations,
		Frees:           stats.Frees,
		Migrations:      stats.Migrations,
		SampledAt:       time.Now(),
	}

	s.mu.Lock()
	s.last = sample
	s.history[s.histHead] = sample
	s.histHead = (s.histHead + 1) % s.histCap
	if s.histSize < s.histCap {
		s.histSize++
	}
	s.mu.Unlock()

	if s.onSample != nil {
		s.onSample(sample)
	}
	return sample
}

// Current returns the most recent sample.
func (s *DeviceSampler) Current() DeviceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// History returns up to limit of the most recent samples, oldest first.
func (s *DeviceSampler) History(limit int) []DeviceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.histSize == 0 {
		return []DeviceMetrics{}
	}
	if limit > s.histSize {
		limit = s.histSize
	}

	result := make([]DeviceMetrics, limit)
	for i := 0; i < limit; i++ {
		idx := (s.histHead - limit + i + s.histCap) % s.histCap
		result[i] = s.history[idx]
	}
	return result
}

func (s *DeviceSampler) loop() {
	defer s.wg.Done()

	s.SampleNow()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SampleNow()
		}
	}
}
