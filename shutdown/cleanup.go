package shutdown

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go_denoiser/bitmap"
	"go_denoiser/core"

	"go.uber.org/zap"
)

// RemovePartialOutputs returns a shutdown function that deletes outputs
// under outputDir that were still being written when the run stopped.
// Failures are logged and never block shutdown.
//
//	mgr.Register("partial-outputs", shutdown.PriorityPartialOutputs,
//	    shutdown.RemovePartialOutputs(logger, cfg.OutputDir))
func RemovePartialOutputs(logger *zap.Logger, outputDir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removed, err := removePartialFiles(ctx, logger, outputDir)
		if err != nil {
			logger.Warn("Partial output cleanup stopped early",
				zap.String("directory", outputDir),
				zap.Error(err),
			)
			return nil
		}
		if removed > 0 {
			logger.Info("Removed partial outputs",
				zap.String("directory", outputDir),
				zap.Int("count", removed),
			)
		}
		return nil
	}
}

func removePartialFiles(ctx context.Context, logger *zap.Logger, root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), bitmap.PartialSuffix) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to remove partial output",
				zap.String("file", path),
				zap.Error(err),
			)
			return nil
		}
		logger.Debug("Removed partial output", zap.String("file", path))
		removed++
		return nil
	})
	return removed, err
}
