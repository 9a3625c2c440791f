package core

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeFramesFailed, "frames failed"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{42, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ExitCodeName(tt.code); got != tt.want {
				t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsSignalExit(t *testing.T) {
	for _, code := range []int{ExitCodeSIGINT, ExitCodeSIGTERM} {
		if !IsSignalExit(code) {
			t.Errorf("IsSignalExit(%d) = false", code)
		}
	}
	for _, code := range []int{ExitCodeSuccess, ExitCodeError, ExitCodeFramesFailed, ExitCodeConfig} {
		if IsSignalExit(code) {
			t.Errorf("IsSignalExit(%d) = true", code)
		}
	}
}

func TestExitCodeForSignal(t *testing.T) {
	if got := ExitCodeForSignal(os.Interrupt); got != ExitCodeSIGINT {
		t.Errorf("SIGINT -> %d", got)
	}
	if got := ExitCodeForSignal(syscall.SIGTERM); got != ExitCodeSIGTERM {
		t.Errorf("SIGTERM -> %d", got)
	}
	if got := ExitCodeForSignal(syscall.SIGHUP); got != ExitCodeError {
		t.Errorf("SIGHUP -> %d", got)
	}
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeError},
		{"config", fmt.Errorf("load: %w", ErrMissingConfig(EnvManifest)), ExitCodeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeForError(tt.err); got != tt.want {
				t.Errorf("ExitCodeForError() = %d, want %d", got, tt.want)
			}
		})
	}
}
