package metrics

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go_denoiser/device"
)

type fakeStats struct {
	calls atomic.Int64
}

func (f *fakeStats) Stats() device.MemoryStats {
	n := f.calls.Add(1)
	return device.MemoryStats{DeviceBytes: n * 100, PeakDeviceBytes: n * 100, LiveBuffers: int(n)}
}

func TestDeviceSampler_SampleNow(t *testing.T) {
	reader := &fakeStats{}
	var got []DeviceMetrics
	sampler := NewDeviceSampler(SamplerConfig{HistorySize: 2, MemoryLimit: 1000}, reader, func(m DeviceMetrics) {
		got = append(got, m)
	})

	for i := 0; i < 3; i++ {
		sampler.SampleNow()
	}

	if len(got) != 3 {
		t.Fatalf("callback ran %d times, want 3", len(got))
	}
	if cur := sampler.Current(); cur.DeviceBytes != 300 || cur.MemoryLimit != 1000 || cur.SampledAt.IsZero() {
		t.Errorf("Current() = %+v", cur)
	}

	hist := sampler.History(10)
	if len(hist) != 2 || hist[0].DeviceBytes != 200 || hist[1].DeviceBytes != 300 {
		t.Errorf("History() = %+v", hist)
	}
	if len(sampler.History(0)) != 0 {
		t.Error("History(0) should be empty")
	}
}

func TestDeviceSampler_StartStop(t *testing.T) {
	dev := device.New(device.Config{MemoryLimit: 1 << 20})
	defer dev.Close()

	buf, err := dev.Alloc(device.KindDevice, 4096)
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}

	store := NewMetricsStore(DefaultStoreConfig(), time.Now())
	var mu sync.Mutex
	samples := 0
	sampler := NewDeviceSampler(SamplerConfig{Interval: 10 * time.Millisecond, MemoryLimit: 1 << 20}, dev, func(m DeviceMetrics) {
		mu.Lock()
		samples++
		mu.Unlock()
		store.UpdateDeviceMetrics(m)
	})

	sampler.Start()
	sampler.Start()
	time.Sleep(50 * time.Millisecond)

	if err := dev.Free(buf); err != nil {
		t.Fatalf("Free() error: %v", err)
	}
	sampler.Stop()

	mu.Lock()
	n := samples
	mu.Unlock()
	if n < 2 {
		t.Errorf("got %d samples, want at least 2", n)
	}

	final := store.GetDeviceMetrics()
	if final.DeviceBytes != 0 || final.PeakDeviceBytes != 4096 || final.LiveBuffers != 0 {
		t.Errorf("final device metrics = %+v", final)
	}
}
