package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go_denoiser/bitmap"
	"go_denoiser/db"
	"go_denoiser/denoiser"
	"go_denoiser/device"
	"go_denoiser/engine"
	"go_denoiser/logging"
	"go_denoiser/metrics"
	"go_denoiser/shutdown"
)

// Ledger records runs and frames. *db.Repository satisfies it.
type Ledger interface {
	InsertRun(ctx context.Context, run db.RunRecord) error
	InsertFrame(ctx context.Context, frame db.FrameEntry) error
	FinishRun(ctx context.Context, id, status string, frameCount int, errMsg string) error
}

// OperationWrapper tracks in-flight frames. *shutdown.Manager satisfies it.
type OperationWrapper interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// Options configures where and how outputs are written.
type Options struct {
	OutputDir string
	// Preview writes a tonemapped TIFF next to every output that has no
	// explicit preview path.
	Preview        bool
	PreviewMaxEdge int
	// PoolSize bounds concurrent frames in non-temporal runs.
	PoolSize int

	// Recorded in the ledger.
	ManifestPath string
	Backend      string
	Version      string
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithMetrics records every frame in collector.
func WithMetrics(collector metrics.MetricsCollector) Option {
	return func(p *Processor) {
		p.metrics = collector
	}
}

// WithLedger records the run and its frames in ledger.
func WithLedger(ledger Ledger) Option {
	return func(p *Processor) {
		p.ledger = ledger
	}
}

// WithOperationWrapper runs every frame through w.
func WithOperationWrapper(w OperationWrapper) Option {
	return func(p *Processor) {
		p.ops = w
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *Processor) {
		p.runID = id
	}
}

// FrameResult is the outcome of one frame.
type FrameResult struct {
	Index    int
	Name     string
	Output   string
	Preview  string
	Mode     string
	Status   string
	Duration time.Duration
	Err      error
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     string
	Mode      string
	Frames    []FrameResult
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled bool
	Duration  time.Duration
}

// Status returns the ledger status of the run.
func (s *Summary) Status() string {
	switch {
	case s.Cancelled:
		return db.RunStatusCancelled
	case s.Failed > 0:
		return db.RunStatusFailed
	default:
		return db.RunStatusCompleted
	}
}

// Err combines the errors of every failed frame.
func (s *Summary) Err() error {
	var err error
	for _, f := range s.Frames {
		if f.Status == metrics.FrameStatusError {
			err = multierr.Append(err, fmt.Errorf("frame %s: %w", f.Name, f.Err))
		}
	}
	return err
}

// Processor denoises the frames of a manifest.
//
// Temporal runs use one Denoiser and feed each output back as the next
// frame's previous layer. Other runs spread frames over a denoiser.Pool.
// Frame failures are recorded and do not stop the run; cancelling the
// context stops it between frames.
type Processor struct {
	dev      *device.Device
	eng      engine.Engine
	manifest *Manifest
	cfg      denoiser.Config
	names    denoiser.ChannelNames
	mode     string
	opts     Options

	logger  *zap.Logger
	metrics metrics.MetricsCollector
	ledger  Ledger
	ops     OperationWrapper
	runID   string

	mu     sync.Mutex
	single *denoiser.Denoiser
	pool   *denoiser.Pool
	closed bool
}

// NewProcessor checks cfg and prepares a run. Denoisers are created by Run.
func NewProcessor(dev *device.Device, eng engine.Engine, m *Manifest, cfg denoiser.Config, opts Options, options ...Option) (*Processor, error) {
	if dev == nil || eng == nil || m == nil {
		return nil, errors.New("pipeline: device, engine and manifest are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Temporal {
		if err := m.checkPreviousLayer(); err != nil {
			return nil, err
		}
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}

	p := &Processor{
		dev:      dev,
		eng:      eng,
		manifest: m,
		cfg:      cfg,
		names:    m.ChannelNames(cfg),
		mode:     m.Mode(cfg),
		opts:     opts,
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	return p, nil
}

// RunID returns the id of the run.
func (p *Processor) RunID() string { return p.runID }

// Mode returns the run's denoise mode.
func (p *Processor) Mode() string { return p.mode }

// Run denoises every frame. The error is non-nil only when the run could
// not start or its denoiser could not be created; frame failures are in
// the Summary.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: p.runID, Mode: p.mode}

	if p.ledger != nil {
		err := p.ledger.InsertRun(ctx, db.RunRecord{
			ID:           p.runID,
			Manifest:     p.opts.ManifestPath,
			Backend:      p.opts.Backend,
			Mode:         p.mode,
			GuideAlbedo:  p.cfg.GuideAlbedo,
			GuideNormals: p.cfg.GuideNormals,
			Temporal:     p.cfg.Temporal,
			Width:        p.manifest.Width,
			Height:       p.manifest.Height,
			Version:      p.opts.Version,
			StartedAt:    start,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: record run: %w", err)
		}
	}

	p.logger.Info("Run started",
		zap.String("run_id", p.runID),
		zap.String("mode", p.mode),
		zap.Int("frames", len(p.manifest.Frames)),
		zap.Int("width", p.manifest.Width),
		zap.Int("height", p.manifest.Height),
	)

	var (
		results []FrameResult
		err     error
	)
	if p.cfg.Temporal {
		results, err = p.runTemporal(ctx)
	} else {
		results, err = p.runPooled(ctx)
	}

	summary.Frames = results
	for _, r := range results {
		switch r.Status {
		case metrics.FrameStatusSuccess:
			summary.Succeeded++
		case metrics.FrameStatusError:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	summary.Cancelled = ctx.Err() != nil && summary.Skipped > 0
	summary.Duration = time.Since(start)

	if p.ledger != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else if ferr := summary.Err(); ferr != nil {
			msg = ferr.Error()
		}
		status := summary.Status()
		if err != nil {
			status = db.RunStatusFailed
		}
		attempted := summary.Succeeded + summary.Failed
		if lerr := p.ledger.FinishRun(context.WithoutCancel(ctx), p.runID, status, attempted, msg); lerr != nil {
			p.logger.Error("Failed to record run result", zap.Error(lerr))
		}
	}

	p.logger.Info("Run finished",
		zap.String("run_id", p.runID),
		zap.String("status", summary.Status()),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
		logging.DeviceFields(p.dev.Stats()),
	)

	return summary, err
}

func (p *Processor) newDenoiser() (*denoiser.Denoiser, error) {
	return denoiser.New(p.dev, p.eng, p.manifest.Width, p.manifest.Height, p.cfg,
		denoiser.WithLogger(p.logger))
}

// runTemporal denoises frames in order on one instance. Frame 0, and any
// frame after a failure, uses its own noisy layer as the previous output.
func (p *Processor) runTemporal(ctx context.Context) ([]FrameResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, denoiser.ErrClosed
	}
	if p.single == nil {
		d, err := p.newDenoiser()
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("pipeline: create denoiser: %w", err)
		}
		p.single = d
	}
	d := p.single
	p.mu.Unlock()

	results := make([]FrameResult, len(p.manifest.Frames))
	var previous *bitmap.Bitmap
	for i, f := range p.manifest.Frames {
		if ctx.Err() != nil {
			results[i] = p.skip(i, f, ctx.Err())
			continue
		}

		var out *bitmap.Bitmap
		results[i], out = p.processFrame(ctx, i, f, func(img *bitmap.Bitmap) (*bitmap.Bitmap, error) {
			prev := previous
			if prev == nil {
				noisy, err := noisyLayer(img, p.names.Noisy)
				if err != nil {
					return nil, err
				}
				prev = noisy
			}
			chained, err := img.AddLayer(p.names.PreviousDenoised, prev)
			if err != nil {
				return nil, fmt.Errorf("%w: add previous layer: %v", denoiser.ErrInvalidInput, err)
			}
			return d.DenoiseBitmap(chained, p.names)
		})
		previous = out
	}
	return results, nil
}

// runPooled denoises frames concurrently, at most PoolSize at a time.
func (p *Processor) runPooled(ctx context.Context) ([]FrameResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, denoiser.ErrClosed
	}
	if p.pool == nil {
		pool, err := denoiser.NewPool(p.opts.PoolSize, p.newDenoiser)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.pool = pool
	}
	pool := p.pool
	p.mu.Unlock()

	results := make([]FrameResult, len(p.manifest.Frames))
	var g errgroup.Group
	g.SetLimit(p.opts.PoolSize)
	for i, f := range p.manifest.Frames {
		if ctx.Err() != nil {
			results[i] = p.skip(i, f, ctx.Err())
			continue
		}
		g.Go(func() error {
			results[i], _ = p.processFrame(ctx, i, f, func(img *bitmap.Bitmap) (*bitmap.Bitmap, error) {
				return pool.DenoiseBitmap(ctx, img, p.names)
			})
			return nil
		})
	}
	g.Wait()
	return results, nil
}

// processFrame assembles, denoises and writes one frame, and records the
// outcome. It returns the denoised image on success.
func (p *Processor) processFrame(ctx context.Context, idx int, f Frame, denoise func(*bitmap.Bitmap) (*bitmap.Bitmap, error)) (FrameResult, *bitmap.Bitmap) {
	start := time.Now()
	res := FrameResult{
		Index:  idx,
		Name:   f.Name,
		Output: filepath.Join(p.opts.OutputDir, f.Output),
		Mode:   p.mode,
	}
	if preview := p.previewPath(f); preview != "" {
		res.Preview = filepath.Join(p.opts.OutputDir, preview)
	}

	var (
		out      *bitmap.Bitmap
		channels int
	)
	run := func(context.Context) error {
		img, err := p.manifest.Assemble(f)
		if err != nil {
			return err
		}
		if res.Mode != metrics.ModeTemporal {
			res.Mode = metrics.ModeSimple
			if img.PixelFormat() == bitmap.MultiChannel {
				res.Mode = metrics.ModeStructured
			}
		}

		if out, err = denoise(img); err != nil {
			return err
		}
		channels = out.ChannelCount()

		if err := bitmap.Save(res.Output, out); err != nil {
			return err
		}
		if res.Preview != "" {
			if err := bitmap.SavePreview(res.Preview, out, p.opts.PreviewMaxEdge); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if p.ops != nil {
		err = p.ops.WrapOperation(ctx, f.Name, run)
	} else {
		err = run(ctx)
	}

	res.Duration = time.Since(start)
	switch {
	case err == nil:
		res.Status = metrics.FrameStatusSuccess
	case stopped(ctx, err):
		res.Status = metrics.FrameStatusSkipped
		res.Err = err
		out = nil
	default:
		res.Status = metrics.FrameStatusError
		res.Err = err
		out = nil
	}

	p.record(ctx, res, start, channels)
	return res, out
}

// skip records a frame that was never started.
func (p *Processor) skip(idx int, f Frame, cause error) FrameResult {
	res := FrameResult{
		Index:  idx,
		Name:   f.Name,
		Output: filepath.Join(p.opts.OutputDir, f.Output),
		Mode:   p.mode,
		Status: metrics.FrameStatusSkipped,
		Err:    cause,
	}
	p.record(context.Background(), res, time.Now(), 0)
	return res
}

func (p *Processor) record(ctx context.Context, res FrameResult, start time.Time, channels int) {
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	if p.metrics != nil {
		p.metrics.RecordFrame(metrics.FrameRecord{
			ID:        uuid.NewString(),
			RunID:     p.runID,
			Frame:     res.Name,
			Index:     res.Index,
			Mode:      res.Mode,
			Status:    res.Status,
			Width:     p.manifest.Width,
			Height:    p.manifest.Height,
			Channels:  channels,
			StartTime: start,
			EndTime:   start.Add(res.Duration),
			Duration:  res.Duration,
			ErrorMsg:  errMsg,
		})
	}

	if p.ledger != nil {
		output := res.Output
		if res.Status != metrics.FrameStatusSuccess {
			output = ""
		}
		err := p.ledger.InsertFrame(context.WithoutCancel(ctx), db.FrameEntry{
			ID:              uuid.NewString(),
			RunID:           p.runID,
			FrameIndex:      res.Index,
			Name:            res.Name,
			OutputPath:      output,
			Status:          res.Status,
			DurationMS:      res.Duration.Milliseconds(),
			PeakDeviceBytes: p.dev.Stats().PeakDeviceBytes,
			ErrorMessage:    errMsg,
		})
		if err != nil {
			p.logger.Warn("Failed to record frame", zap.String("frame", res.Name), zap.Error(err))
		}
	}

	fields := logging.FrameFields(logging.FrameMetrics{
		Frame:    res.Name,
		Index:    res.Index,
		Width:    p.manifest.Width,
		Height:   p.manifest.Height,
		Channels: channels,
		Mode:     res.Mode,
		Guides:   p.guideNames(),
		Duration: res.Duration,
	})
	switch res.Status {
	case metrics.FrameStatusSuccess:
		p.logger.Info("Frame denoised", fields, zap.String("output", res.Output))
	case metrics.FrameStatusSkipped:
		p.logger.Info("Frame skipped", fields, zap.Error(res.Err))
	default:
		p.logger.Error("Frame failed", fields, zap.Error(res.Err))
	}
}

func (p *Processor) guideNames() []string {
	var guides []string
	if p.cfg.GuideAlbedo {
		guides = append(guides, "albedo")
	}
	if p.cfg.GuideNormals {
		guides = append(guides, "normals")
	}
	if p.cfg.Temporal {
		guides = append(guides, "flow", "previous")
	}
	return guides
}

func (p *Processor) previewPath(f Frame) string {
	if f.Preview != "" {
		return f.Preview
	}
	if !p.opts.Preview {
		return ""
	}
	return strings.TrimSuffix(f.Output, filepath.Ext(f.Output)) + ".preview.tif"
}

// Close tears down the denoisers created by Run. Later calls return nil.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.single != nil {
		err = multierr.Append(err, p.single.Close())
		p.single = nil
	}
	if p.pool != nil {
		err = multierr.Append(err, p.pool.Close())
		p.pool = nil
	}
	return err
}

// noisyLayer returns the layer of img named name, or img itself when it is
// not multichannel.
func noisyLayer(img *bitmap.Bitmap, name string) (*bitmap.Bitmap, error) {
	if img.PixelFormat() != bitmap.MultiChannel {
		return img, nil
	}
	rc, err := denoiser.ResolveChannels(img, denoiser.ChannelNames{Noisy: name})
	if err != nil {
		return nil, err
	}
	return rc.Noisy, nil
}

// stopped reports whether err means the frame never ran because the run
// is stopping.
func stopped(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, shutdown.ErrTrackerClosed) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, denoiser.ErrAcquireTimeout) ||
		errors.Is(err, denoiser.ErrPoolClosed) || errors.Is(err, denoiser.ErrClosed))
}
