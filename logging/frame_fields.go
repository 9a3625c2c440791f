package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go_denoiser/device"
)

// FrameMetrics describes one denoised frame.
//
// Example:
//
//	logger.Info("frame denoised", logging.FrameFields(logging.FrameMetrics{
//	    Frame:    "shot010.0001",
//	    Width:    1920,
//	    Height:   1080,
//	    Channels: 3,
//	    Mode:     "temporal",
//	    Duration: elapsed,
//	}))
type FrameMetrics struct {
	Frame    string
	Index    int
	Width    int
	Height   int
	Channels int
	Mode     string
	Guides   []string
	Duration time.Duration
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m FrameMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("frame", m.Frame)
	enc.AddInt("index", m.Index)
	enc.AddInt("width", m.Width)
	enc.AddInt("height", m.Height)
	enc.AddInt("channels", m.Channels)
	enc.AddString("mode", m.Mode)
	if err := enc.AddArray("guides", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, g := range m.Guides {
			arr.AppendString(g)
		}
		return nil
	})); err != nil {
		return err
	}
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	if m.Duration > 0 {
		enc.AddFloat64("megapixels_per_second", float64(m.Width*m.Height)/1e6/m.Duration.Seconds())
	}
	return nil
}

// FrameFields wraps frame metrics as a nested "frame" object.
func FrameFields(m FrameMetrics) zap.Field {
	return zap.Object("frame", m)
}

// deviceStats adapts device.MemoryStats to zapcore.ObjectMarshaler.
type deviceStats device.MemoryStats

func (s deviceStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("device_bytes", s.DeviceBytes)
	enc.AddInt64("host_bytes", s.HostBytes)
	enc.AddInt64("peak_device_bytes", s.PeakDeviceBytes)
	enc.AddInt("live_buffers", s.LiveBuffers)
	enc.AddInt64("allocations", s.Allocations)
	enc.AddInt64("frees", s.Frees)
	enc.AddInt64("migrations", s.Migrations)
	return nil
}

// DeviceFields wraps allocator statistics as a nested "device" object.
func DeviceFields(stats device.MemoryStats) zap.Field {
	return zap.Object("device", deviceStats(stats))
}
