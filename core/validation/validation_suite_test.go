package validation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go_denoiser/core"
)

func passing(msg string) CheckFunc {
	return func() (StepStatus, string, error) { return StepPassed, msg, nil }
}

func failing(err error) CheckFunc {
	return func() (StepStatus, string, error) { return StepFailed, "", err }
}

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status   StepStatus
		expected string
	}{
		{StepPending, "pending"},
		{StepRunning, "running"},
		{StepPassed, "passed"},
		{StepFailed, "failed"},
		{StepWarning, "warning"},
		{StepSkipped, "skipped"},
		{StepStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("StepStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestValidationSuite_Validate(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		failFast     bool
		checks       []Check
		wantStatuses []StepStatus
		wantSuccess  bool
		wantWarnings int
	}{
		{
			name:         "all pass",
			checks:       []Check{{"a", passing("ok")}, {"b", passing("ok")}},
			wantStatuses: []StepStatus{StepPassed, StepPassed},
			wantSuccess:  true,
		},
		{
			name: "warning does not fail",
			checks: []Check{
				{"a", passing("ok")},
				{"b", func() (StepStatus, string, error) { return StepWarning, "low", boom }},
			},
			wantStatuses: []StepStatus{StepPassed, StepWarning},
			wantSuccess:  true,
			wantWarnings: 1,
		},
		{
			name:         "failure continues without fail fast",
			checks:       []Check{{"a", failing(boom)}, {"b", passing("ok")}},
			wantStatuses: []StepStatus{StepFailed, StepPassed},
		},
		{
			name:         "fail fast skips the rest",
			failFast:     true,
			checks:       []Check{{"a", failing(boom)}, {"b", passing("ok")}, {"c", passing("ok")}},
			wantStatuses: []StepStatus{StepFailed, StepSkipped, StepSkipped},
		},
		{
			name:         "running status counts as failure",
			checks:       []Check{{"a", func() (StepStatus, string, error) { return StepRunning, "", nil }}},
			wantStatuses: []StepStatus{StepFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := NewValidationSuite("test").WithShowProgress(false).WithFailFast(tt.failFast)
			for _, c := range tt.checks {
				suite.AddCheck(c.Name, c.Run)
			}

			result := suite.Validate()

			var statuses []StepStatus
			for _, s := range result.Steps {
				statuses = append(statuses, s.Status)
			}
			if diff := cmp.Diff(tt.wantStatuses, statuses); diff != "" {
				t.Errorf("statuses mismatch (-want +got):\n%s", diff)
			}
			if result.Success != tt.wantSuccess || result.Warnings != tt.wantWarnings {
				t.Errorf("Success = %t, Warnings = %d", result.Success, result.Warnings)
			}
			if !tt.wantSuccess && !errors.Is(result.GetFirstError(), boom) && result.GetFirstError() != nil {
				t.Errorf("GetFirstError() = %v", result.GetFirstError())
			}
		})
	}
}

func TestValidationSuite_ProgressOutput(t *testing.T) {
	var buf bytes.Buffer
	result := NewValidationSuite("Denoiser Preflight").
		WithOutput(&buf).
		AddCheck("Manifest", passing("shot.yaml")).
		AddCheck("Engine Backend", failing(errors.New("no such backend"))).
		Validate()

	out := buf.String()
	for _, want := range []string{"Denoiser Preflight", "Manifest", "shot.yaml", "no such backend", "Preflight Failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := len(result.GetErrors()); got != 1 {
		t.Errorf("GetErrors() returned %d errors, want 1", got)
	}
	if !strings.HasPrefix(result.Summary(), "Preflight Failed: 1/2 checks passed, 1 failed") {
		t.Errorf("Summary() = %q", result.Summary())
	}
}

func TestNewPreflightSuite(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "denoise.yaml")
	if err := os.WriteFile(manifest, []byte("frames: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	base := core.Config{
		ManifestPath: manifest,
		Backend:      "software",
		OutputDir:    filepath.Join(dir, "out"),
		DBPath:       filepath.Join(dir, "data", "ledger.db"),
	}

	tests := []struct {
		name     string
		mutate   func(*core.Config)
		wantCode string
		ledger   StepStatus
	}{
		{"healthy", func(*core.Config) {}, "", StepPassed},
		{"ledger disabled", func(c *core.Config) { c.DBPath = "" }, "", StepSkipped},
		{"missing manifest", func(c *core.Config) { c.ManifestPath = filepath.Join(dir, "nope.yaml") }, core.ErrCodeManifestNotFound, StepPassed},
		{"unknown backend", func(c *core.Config) { c.Backend = "optix" }, core.ErrCodeUnknownBackend, StepPassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)

			suite := NewPreflightSuite(&cfg, PreflightOptions{RequiredBytes: 1}).WithShowProgress(false)
			if diff := cmp.Diff([]string{"Manifest", "Engine Backend", "Output Directory", "Ledger Directory", "Disk Space"}, suite.Checks()); diff != "" {
				t.Fatalf("checks mismatch (-want +got):\n%s", diff)
			}

			result := suite.Validate()
			if result.Success != (tt.wantCode == "") {
				t.Fatalf("Success = %t: %s", result.Success, result.Summary())
			}
			if code := core.GetErrorCode(result.GetFirstError()); code != tt.wantCode {
				t.Errorf("first error code = %q, want %q", code, tt.wantCode)
			}
			if got := result.Steps[3].Status; got != tt.ledger {
				t.Errorf("ledger step = %v, want %v", got, tt.ledger)
			}
		})
	}
}
