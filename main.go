package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go_denoiser/core"
	"go_denoiser/core/validation"
	"go_denoiser/db"
	"go_denoiser/denoiser"
	"go_denoiser/device"
	"go_denoiser/engine"
	"go_denoiser/logging"
	"go_denoiser/metrics"
	"go_denoiser/pipeline"
	"go_denoiser/shutdown"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Stdout))
}

// run executes one denoise job and returns the process exit code.
func run(out io.Writer) int {
	if err := core.LoadEnvFile(".env", false); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return core.ExitCodeForError(err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		// The logger depends on the config, so report on stderr.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return core.ExitCodeForError(err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.Development,
		FilePath:    cfg.LogFile,
		Level:       &level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Close()

	logger.Info("Configuration loaded",
		zap.String("version", core.GetVersionInfo()),
		zap.String("manifest", cfg.ManifestPath),
		zap.String("backend", cfg.Backend),
		zap.String("output_dir", cfg.OutputDir),
		zap.Int("pool_size", cfg.PoolSize),
		zap.String("device_memory", core.FormatBytes(cfg.DeviceMemory)),
		zap.Int("stream_queue", cfg.StreamQueue),
		zap.Bool("preview", cfg.Preview),
		zap.String("db_path", cfg.DBPath),
		zap.Int("retention_days", cfg.RetentionDays),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("dev_mode", cfg.Development),
	)

	// A missing manifest is reported by preflight, so the load error is
	// only acted on afterwards.
	manifest, manifestErr := pipeline.LoadManifest(cfg.ManifestPath)

	var required int64
	if manifestErr == nil {
		required = validation.EstimateOutputBytes(len(manifest.Frames), manifest.Width, manifest.Height, 3, cfg.Preview)
	}
	if code := runPreflight(logger, cfg, required, out); code != core.ExitCodeSuccess {
		return code
	}
	if manifestErr != nil {
		logger.Error("Failed to load manifest", zap.Error(manifestErr))
		return exitCodeForStartup(manifestErr)
	}

	summary, mgr, err := runJob(logger, cfg, manifest)
	if summary != nil {
		printSummary(out, summary)
	}
	if mgr != nil {
		if shutdownErr := mgr.Shutdown(); shutdownErr != nil {
			err = multierr.Append(err, shutdownErr)
		}
	}

	code := exitCodeFor(summary, err, signalCode(mgr))
	logger.Info("Exiting",
		zap.Int("exit_code", code),
		zap.String("reason", core.ExitCodeName(code)),
	)
	return code
}

// runPreflight runs the startup checks. It returns ExitCodeSuccess when all
// of them pass or only warn.
func runPreflight(logger *logging.Logger, cfg *core.Config, requiredBytes int64, out io.Writer) int {
	logger.Info("Starting preflight validation...")

	result := validation.NewPreflightSuite(cfg, validation.PreflightOptions{RequiredBytes: requiredBytes}).
		WithOutput(out).
		WithShowProgress(true).
		Validate()

	for _, step := range result.Steps {
		if step.Status == validation.StepWarning {
			logger.Warn("Preflight warning",
				zap.String("step", step.Name),
				zap.String("message", step.Message),
				zap.Error(step.Error),
			)
		}
	}

	if !result.Success {
		logger.Error("Preflight validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("Preflight step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}
		return exitCodeForStartup(result.GetFirstError())
	}

	logger.Info("Preflight validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Duration("duration", result.Duration),
	)
	return core.ExitCodeSuccess
}

// runJob wires the device, engine, ledger and metrics around a Processor
// and runs it under a shutdown.Manager. The returned manager, when not nil,
// still has to be shut down.
func runJob(logger *logging.Logger, cfg *core.Config, manifest *pipeline.Manifest) (*pipeline.Summary, *shutdown.Manager, error) {
	mgr := shutdown.NewManager(logger.Logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	mgr.Register("partial-outputs", shutdown.PriorityPartialOutputs, shutdown.RemovePartialOutputs(logger.Logger, cfg.OutputDir))
	mgr.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		// Stdout sync errors are meaningless; Close reports file errors.
		_ = logger.Sync()
		return nil
	})
	mgr.Start()

	eng, err := engine.Open(cfg.Backend)
	if err != nil {
		return nil, mgr, err
	}

	dev := device.New(device.Config{
		MemoryLimit: cfg.DeviceMemory,
		QueueDepth:  cfg.StreamQueue,
	})

	store := metrics.NewMetricsStore(metrics.DefaultStoreConfig(), time.Now())
	samplerConfig := metrics.DefaultSamplerConfig()
	samplerConfig.MemoryLimit = cfg.DeviceMemory
	sampler := metrics.NewDeviceSampler(samplerConfig, dev, store.UpdateDeviceMetrics)
	sampler.Start()
	mgr.Register("device-sampler", shutdown.PrioritySampler, func(context.Context) error {
		sampler.Stop()
		store.MarkStopped()
		return nil
	})

	dcfg := manifest.DenoiserConfig()
	dcfg.GuideAlbedo, dcfg.GuideNormals, dcfg.Temporal = cfg.ResolveGuides(dcfg.GuideAlbedo, dcfg.GuideNormals, dcfg.Temporal)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Logger),
		pipeline.WithMetrics(store),
		pipeline.WithOperationWrapper(mgr),
	}

	if cfg.LedgerEnabled() {
		repo, err := openLedger(mgr.Context(), logger, cfg, mgr)
		if err != nil {
			mgr.Register("device", shutdown.PriorityDenoisers, core.ErrorShutdown(dev.Close))
			return nil, mgr, err
		}
		opts = append(opts, pipeline.WithLedger(repo))
	}

	p, err := pipeline.NewProcessor(dev, eng, manifest, dcfg, pipeline.Options{
		OutputDir:      cfg.OutputDir,
		Preview:        cfg.Preview,
		PreviewMaxEdge: cfg.PreviewMaxEdge,
		PoolSize:       cfg.PoolSize,
		ManifestPath:   cfg.ManifestPath,
		Backend:        cfg.Backend,
		Version:        core.GetVersion(),
	}, opts...)
	if err != nil {
		mgr.Register("device", shutdown.PriorityDenoisers, core.ErrorShutdown(dev.Close))
		return nil, mgr, err
	}
	mgr.Register("denoisers", shutdown.PriorityDenoisers, func(context.Context) error {
		return multierr.Combine(p.Close(), dev.Close())
	})

	summary, err := p.Run(mgr.Context())
	return summary, mgr, err
}

// openLedger opens the run database, prunes old runs and starts the
// background frame writer. Teardown is registered on mgr.
func openLedger(ctx context.Context, logger *logging.Logger, cfg *core.Config, mgr *shutdown.Manager) (*db.Repository, error) {
	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	mgr.Register("ledger", shutdown.PriorityLedger, core.CloserShutdown(database))

	if cfg.RetentionDays > 0 {
		res, err := database.PruneRuns(ctx, cfg.RetentionDays)
		if err != nil {
			logger.Warn("Failed to prune ledger", zap.Error(err))
		} else if res.RunsDeleted > 0 {
			logger.Info("Pruned ledger",
				zap.Int64("runs", res.RunsDeleted),
				zap.Int64("frames", res.FramesDeleted),
				zap.Duration("duration", res.Duration),
			)
		}
	}

	repo := db.NewRepository(database, nil)
	writerConfig := db.DefaultAsyncWriterConfig()
	writerConfig.OnError = func(op db.WriteOperation, err error) {
		logger.Error("Ledger write failed", zap.Error(err))
	}
	writer := db.NewAsyncWriterWithConfig(repo.CreateAsyncWriteHandler(), writerConfig)
	writer.Start()
	repo.SetAsyncWriter(writer)
	mgr.Register("ledger-writer", shutdown.PriorityLedgerWriter, writer.Shutdown)

	return repo, nil
}

// exitCodeForStartup maps errors that stop the job before any frame runs.
func exitCodeForStartup(err error) int {
	if errors.Is(err, pipeline.ErrInvalidManifest) || errors.Is(err, denoiser.ErrConfiguration) {
		return core.ExitCodeConfig
	}
	return core.ExitCodeForError(err)
}

// exitCodeFor picks the process exit code. A stop signal wins, then a run
// error, then failed frames.
func exitCodeFor(summary *pipeline.Summary, err error, sigCode int) int {
	switch {
	case sigCode != core.ExitCodeSuccess:
		return sigCode
	case summary == nil && err != nil:
		return exitCodeForStartup(err)
	case summary != nil && summary.Failed > 0:
		return core.ExitCodeFramesFailed
	case err != nil:
		return core.ExitCodeError
	default:
		return core.ExitCodeSuccess
	}
}

func signalCode(mgr *shutdown.Manager) int {
	if mgr == nil {
		return core.ExitCodeSuccess
	}
	return mgr.ExitCode()
}
