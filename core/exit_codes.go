package core

import (
	"os"
	"syscall"
)

// Exit codes for the denoiser CLI. Signal exits follow the Unix 128+n
// convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeFramesFailed means the run finished but at least one frame
	// failed.
	ExitCodeFramesFailed = 2

	// ExitCodeConfig is sysexits.h EX_CONFIG.
	ExitCodeConfig = 78

	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeFramesFailed:
		return "frames failed"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// IsSignalExit returns true if the exit code indicates a signal-based termination.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}

// ExitCodeForSignal maps the signal that stopped a run to its exit code.
func ExitCodeForSignal(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return ExitCodeSIGINT
	case syscall.SIGTERM:
		return ExitCodeSIGTERM
	default:
		return ExitCodeError
	}
}

// ExitCodeForError picks the exit code for an error returned during startup
// or the run. Configuration errors map to ExitCodeConfig.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if _, ok := IsConfigError(err); ok {
		return ExitCodeConfig
	}
	return ExitCodeError
}
