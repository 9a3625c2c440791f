package validation

import (
	"fmt"
	"path/filepath"
	"slices"

	"go_denoiser/core"
	"go_denoiser/engine"
)

// DefaultMinFreeBytes is the free disk space required when no estimate is
// available.
const DefaultMinFreeBytes = 256 * core.BytesPerMB

// PreflightOptions tune NewPreflightSuite.
type PreflightOptions struct {
	// RequiredBytes is the output disk estimate. Zero uses DefaultMinFreeBytes.
	RequiredBytes int64
}

// NewPreflightSuite returns the startup checks for a denoise run: manifest
// present, backend registered, output and ledger directories writable, and
// enough free disk for the outputs. Low disk space is a warning.
func NewPreflightSuite(cfg *core.Config, opts PreflightOptions) *ValidationSuite {
	required := opts.RequiredBytes
	if required <= 0 {
		required = DefaultMinFreeBytes
	}

	return NewValidationSuite("Denoiser Preflight").
		AddCheck("Manifest", func() (StepStatus, string, error) {
			if err := CheckFileExists(cfg.ManifestPath); err != nil {
				return StepFailed, cfg.ManifestPath, core.ErrManifestNotFound(cfg.ManifestPath)
			}
			return StepPassed, cfg.ManifestPath, nil
		}).
		AddCheck("Engine Backend", func() (StepStatus, string, error) {
			backends := engine.Backends()
			if !slices.Contains(backends, cfg.Backend) {
				return StepFailed, cfg.Backend, core.ErrUnknownBackend(cfg.Backend, backends)
			}
			return StepPassed, cfg.Backend, nil
		}).
		AddCheck("Output Directory", func() (StepStatus, string, error) {
			if err := CheckDirWritable(cfg.OutputDir); err != nil {
				return StepFailed, cfg.OutputDir, err
			}
			return StepPassed, cfg.OutputDir, nil
		}).
		AddCheck("Ledger Directory", func() (StepStatus, string, error) {
			if !cfg.LedgerEnabled() {
				return StepSkipped, "ledger disabled", nil
			}
			dir := filepath.Dir(cfg.DBPath)
			if err := CheckDirWritable(dir); err != nil {
				return StepFailed, dir, err
			}
			return StepPassed, dir, nil
		}).
		AddCheck("Disk Space", func() (StepStatus, string, error) {
			info, err := CheckDiskSpace(cfg.OutputDir, required)
			if info == nil {
				return StepWarning, "unknown", err
			}
			if err != nil {
				return StepWarning, info.String(), err
			}
			return StepPassed, fmt.Sprintf("%s, need %s", info, core.FormatBytes(required)), nil
		})
}
