package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"go_denoiser/bitmap"
	"go_denoiser/db"
	"go_denoiser/denoiser"
	"go_denoiser/device"
	"go_denoiser/engine"
	"go_denoiser/metrics"
	"go_denoiser/shutdown"
)

const (
	testWidth  = 8
	testHeight = 4
)

func newTestDevice(t *testing.T) *device.Device {
	t.Helper()
	dev := device.New(device.DefaultConfig())
	t.Cleanup(func() { dev.Close() })
	return dev
}

func openSoftware(t *testing.T) engine.Engine {
	t.Helper()
	eng, err := engine.Open(engine.SoftwareBackend)
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	return eng
}

// writeSequence writes n frames of beauty, albedo and flow layers under dir
// and returns a manifest over them.
func writeSequence(t *testing.T, dir string, n int, guides Guides) *Manifest {
	t.Helper()
	m := &Manifest{Width: testWidth, Height: testHeight, Guides: guides, Dir: dir}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%04d", i+1)
		v := 0.2 + 0.1*float32(i)
		writeImage(t, filepath.Join(dir, name+".beauty.pfm"), constantImage(t, testWidth, testHeight, [3]float32{v, v, v}))
		writeImage(t, filepath.Join(dir, name+".albedo.pfm"), constantImage(t, testWidth, testHeight, [3]float32{0.7, 0.7, 0.7}))
		writeImage(t, filepath.Join(dir, name+".flow.pfm"), constantImage(t, testWidth, testHeight, [3]float32{0, 0, 0}))

		frame := Frame{
			Name:   name,
			Layers: []LayerSpec{{File: name + ".beauty.pfm"}},
			Output: name + ".pfm",
		}
		if guides.Albedo {
			frame.Layers = append(frame.Layers, LayerSpec{Name: DefaultAlbedoLayer, File: name + ".albedo.pfm"})
		}
		if guides.Temporal {
			frame.Layers = append(frame.Layers, LayerSpec{Name: DefaultFlowLayer, File: name + ".flow.pfm", Channels: []string{"X", "Y"}})
		}
		m.Frames = append(m.Frames, frame)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return m
}

type fakeLedger struct {
	mu       sync.Mutex
	runs     []db.RunRecord
	frames   []db.FrameEntry
	finished map[string]string
	count    int
}

func (l *fakeLedger) InsertRun(_ context.Context, run db.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

func (l *fakeLedger) InsertFrame(_ context.Context, f db.FrameEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, id, status string, frameCount int, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = make(map[string]string)
	}
	l.finished[id] = status
	l.count = frameCount
	return nil
}

func (l *fakeLedger) frameStatuses() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.frames))
	for _, f := range l.frames {
		out[f.Name] = f.Status
	}
	return out
}

func TestProcessorPooledRun(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	m := writeSequence(t, dir, 4, Guides{Albedo: true})
	// A missing layer file fails one frame without stopping the run.
	m.Frames[2].Layers[0].File = "missing.pfm"

	ledger := &fakeLedger{}
	store := metrics.NewMetricsStore(metrics.DefaultStoreConfig(), time.Now())
	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: outDir, PoolSize: 2, Preview: true},
		WithLogger(zaptest.NewLogger(t)),
		WithLedger(ledger),
		WithMetrics(store),
		WithRunID("run-pooled"),
	)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 3 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Errorf("summary = %d ok / %d failed / %d skipped, want 3/1/0",
			summary.Succeeded, summary.Failed, summary.Skipped)
	}
	if summary.Status() != db.RunStatusFailed {
		t.Errorf("Status() = %q, want %q", summary.Status(), db.RunStatusFailed)
	}
	if summary.Mode != metrics.ModeStructured {
		t.Errorf("Mode = %q, want structured", summary.Mode)
	}
	if err := summary.Err(); err == nil {
		t.Error("Err() = nil, want frame f0003 failure")
	}

	for i, r := range summary.Frames {
		if r.Index != i {
			t.Errorf("Frames[%d].Index = %d", i, r.Index)
		}
		if r.Status != metrics.FrameStatusSuccess {
			continue
		}
		out, err := bitmap.Load(r.Output)
		if err != nil {
			t.Errorf("Load(%s) error = %v", r.Output, err)
			continue
		}
		if out.Width() != testWidth || out.Height() != testHeight || out.ChannelCount() != 3 {
			t.Errorf("output %s is %v", r.Output, out)
		}
		if _, err := os.Stat(filepath.Join(outDir, m.Frames[i].Name+".preview.tif")); err != nil {
			t.Errorf("preview for %s missing: %v", r.Name, err)
		}
	}

	wantStatuses := map[string]string{
		"f0001": metrics.FrameStatusSuccess,
		"f0002": metrics.FrameStatusSuccess,
		"f0003": metrics.FrameStatusError,
		"f0004": metrics.FrameStatusSuccess,
	}
	if diff := cmp.Diff(wantStatuses, ledger.frameStatuses()); diff != "" {
		t.Errorf("ledger frames mismatch (-want +got):\n%s", diff)
	}
	if ledger.finished["run-pooled"] != db.RunStatusFailed || ledger.count != 4 {
		t.Errorf("ledger finish = %q with %d frames", ledger.finished["run-pooled"], ledger.count)
	}
	if len(ledger.runs) != 1 || !ledger.runs[0].GuideAlbedo || ledger.runs[0].Mode != metrics.ModeStructured {
		t.Errorf("ledger runs = %+v", ledger.runs)
	}

	fm := store.GetFrameMetrics()
	if fm.TotalProcessed != 4 || fm.TotalSuccess != 3 || fm.TotalErrors != 1 {
		t.Errorf("frame metrics = %+v", fm)
	}
}

func TestProcessorSimpleMode(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 2, Guides{})

	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Succeeded != 2 || summary.Mode != metrics.ModeSimple {
		t.Errorf("summary = %+v", summary)
	}
	for _, r := range summary.Frames {
		if r.Mode != metrics.ModeSimple {
			t.Errorf("frame %s mode = %q, want simple", r.Name, r.Mode)
		}
		if r.Preview != "" {
			t.Errorf("frame %s has preview %q without Preview option", r.Name, r.Preview)
		}
	}
}

// recordingEngine wraps an engine and captures the previous-output layer
// seen by every invocation.
type recordingEngine struct {
	engine.Engine

	mu       sync.Mutex
	previous [][]float32
}

func (e *recordingEngine) CreateContext(kind engine.ModelKind, opts engine.Options) (engine.Context, error) {
	ctx, err := e.Engine.CreateContext(kind, opts)
	if err != nil {
		return nil, err
	}
	return &recordingContext{Context: ctx, rec: e}, nil
}

func (e *recordingEngine) recorded() [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous
}

type recordingContext struct {
	engine.Context
	rec *recordingEngine
}

func (c *recordingContext) Invoke(s *device.Stream, p engine.Params, state *device.Buffer, guide engine.GuideLayer, layers []engine.Layer, scratch *device.Buffer) error {
	prev := layers[0].PreviousOutput
	if !prev.IsZero() {
		n := prev.Width * prev.Height * prev.Format.Channels()
		// Read after the uploads queued ahead of this call have run.
		if err := s.Enqueue(func() {
			c.rec.mu.Lock()
			c.rec.previous = append(c.rec.previous, append([]float32(nil), prev.Data.Float32s()[:n]...))
			c.rec.mu.Unlock()
		}); err != nil {
			return err
		}
	}
	return c.Context.Invoke(s, p, state, guide, layers, scratch)
}

func TestProcessorTemporalChaining(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	m := writeSequence(t, dir, 3, Guides{Temporal: true})
	eng := &recordingEngine{Engine: openSoftware(t)}

	p, err := NewProcessor(newTestDevice(t), eng, m, m.DenoiserConfig(),
		Options{OutputDir: outDir, PoolSize: 4},
		WithLogger(zaptest.NewLogger(t)),
	)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Succeeded != 3 || summary.Mode != metrics.ModeTemporal {
		t.Fatalf("summary = %+v", summary)
	}

	prev := eng.recorded()
	if len(prev) != 3 {
		t.Fatalf("recorded %d invocations, want 3", len(prev))
	}

	// Frame 0 sees its own noisy input.
	noisy, err := bitmap.Load(filepath.Join(dir, "f0001.beauty.pfm"))
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "frame 0 previous", noisy.Float32Data(), prev[0])

	// Later frames see the prior frame's written output.
	for i := 1; i < 3; i++ {
		out, err := bitmap.Load(summary.Frames[i-1].Output)
		if err != nil {
			t.Fatal(err)
		}
		assertClose(t, fmt.Sprintf("frame %d previous", i), out.Float32Data(), prev[i])
	}
}

func assertClose(t *testing.T, what string, want, got []float32) {
	t.Helper()
	if len(want) != len(got) {
		t.Errorf("%s: %d values, want %d", what, len(got), len(want))
		return
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > 1e-5 {
			t.Errorf("%s[%d] = %v, want %v", what, i, got[i], want[i])
			return
		}
	}
}

func TestProcessorCancelled(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 3, Guides{})
	ledger := &fakeLedger{}

	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out")}, WithLedger(ledger))
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !summary.Cancelled || summary.Skipped != 3 {
		t.Errorf("summary = %+v, want 3 skipped and cancelled", summary)
	}
	if summary.Status() != db.RunStatusCancelled || ledger.finished[p.RunID()] != db.RunStatusCancelled {
		t.Errorf("status = %q / ledger %q, want cancelled", summary.Status(), ledger.finished[p.RunID()])
	}
}

func TestProcessorStopsWhenShutdownBegins(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 2, Guides{})
	mgr := shutdown.NewManager(zaptest.NewLogger(t))
	mgr.Shutdown()

	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out")}, WithOperationWrapper(mgr))
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, r := range summary.Frames {
		if r.Status != metrics.FrameStatusSkipped || !errors.Is(r.Err, shutdown.ErrTrackerClosed) {
			t.Errorf("frame %s = %s (%v), want skipped by shutdown", r.Name, r.Status, r.Err)
		}
	}
}

func TestProcessorLedgerIntegration(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 2, Guides{Albedo: true})

	ctx := context.Background()
	ledgerDB, err := db.Open(ctx, filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer ledgerDB.Close()
	repo := db.NewRepository(ledgerDB, nil)
	writer := db.NewAsyncWriter(repo.CreateAsyncWriteHandler())
	repo.SetAsyncWriter(writer)
	writer.Start()

	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out"), Backend: engine.SoftwareBackend, Version: "test"},
		WithLedger(repo))
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	writer.Stop()

	run, err := repo.QueryRun(ctx, p.RunID())
	if err != nil {
		t.Fatalf("QueryRun() error = %v", err)
	}
	if run.Status != db.RunStatusCompleted || run.FrameCount != 2 || run.Backend != engine.SoftwareBackend {
		t.Errorf("run = %+v", run)
	}
	frames, err := repo.QueryFrames(ctx, p.RunID())
	if err != nil {
		t.Fatalf("QueryFrames() error = %v", err)
	}
	if len(frames) != 2 || frames[0].Name != "f0001" || frames[0].OutputPath == "" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestProcessorDenoiserCreationFails(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 1, Guides{Temporal: true})
	// A device too small for the temporal state buffer.
	dev := device.New(device.Config{MemoryLimit: 64})
	t.Cleanup(func() { dev.Close() })

	obsCore, logs := observer.New(zap.InfoLevel)
	p, err := NewProcessor(dev, openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out")}, WithLogger(zap.New(obsCore)))
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	defer p.Close()

	if _, err := p.Run(context.Background()); !errors.Is(err, denoiser.ErrResource) {
		t.Errorf("Run() error = %v, want ErrResource", err)
	}
	if logs.FilterMessage("Run finished").Len() != 1 {
		t.Error("run result not logged")
	}
}

func TestProcessorClose(t *testing.T) {
	dir := t.TempDir()
	m := writeSequence(t, dir, 1, Guides{})
	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, m.DenoiserConfig(),
		Options{OutputDir: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, denoiser.ErrClosed) {
		t.Errorf("Run() after Close = %v, want ErrClosed", err)
	}
}

func TestNewProcessorRejectsBadConfig(t *testing.T) {
	m := &Manifest{Width: 4, Height: 4, Frames: []Frame{{Name: "a", Layers: []LayerSpec{{File: "a.pfm"}}, Output: "a.pfm"}}}
	_, err := NewProcessor(newTestDevice(t), openSoftware(t), m, denoiser.Config{GuideNormals: true}, Options{})
	if !errors.Is(err, denoiser.ErrConfiguration) {
		t.Errorf("NewProcessor() error = %v, want ErrConfiguration", err)
	}
	if _, err := NewProcessor(nil, nil, nil, denoiser.Config{}, Options{}); err == nil {
		t.Error("NewProcessor(nil...) expected error")
	}
}

func TestNewProcessorRejectsPreviousLayerInTemporalRun(t *testing.T) {
	m := &Manifest{Width: 4, Height: 4, Frames: []Frame{{
		Name:   "a",
		Layers: []LayerSpec{{File: "a.pfm"}, {Name: DefaultPreviousLayer, File: "p.pfm"}},
		Output: "a.pfm",
	}}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil without the temporal guide", err)
	}

	_, err := NewProcessor(newTestDevice(t), openSoftware(t), m, denoiser.Config{Temporal: true}, Options{})
	if !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("NewProcessor(temporal) error = %v, want ErrInvalidManifest", err)
	}

	p, err := NewProcessor(newTestDevice(t), openSoftware(t), m, denoiser.Config{}, Options{})
	if err != nil {
		t.Fatalf("NewProcessor(simple) error = %v", err)
	}
	p.Close()
}
