package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "frames.yaml")
	if err := os.WriteFile(testFile, []byte("frames: []"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"existing file", testFile, ""},
		{"non-existent file", filepath.Join(tmpDir, "missing.yaml"), "not found"},
		{"empty path", "", "empty"},
		{"directory instead of file", tmpDir, "directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFileExists(tt.path)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("CheckFileExists() unexpected error: %v", err)
				}
				return
			}
			fe, ok := err.(*FileExistsError)
			if !ok {
				t.Fatalf("CheckFileExists() error = %T, want *FileExistsError", err)
			}
			if fe.Path != tt.path || !strings.Contains(fe.Error(), tt.wantErr) {
				t.Errorf("CheckFileExists() = %+v, want message containing %q", fe, tt.wantErr)
			}
		})
	}
}

func TestCheckDirWritable(t *testing.T) {
	tmpDir := t.TempDir()

	nested := filepath.Join(tmpDir, "out", "shot010")
	if err := CheckDirWritable(nested); err != nil {
		t.Fatalf("CheckDirWritable() error: %v", err)
	}
	entries, err := os.ReadDir(nested)
	if err != nil {
		t.Fatalf("directory was not created: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	blocker := filepath.Join(tmpDir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckDirWritable(filepath.Join(blocker, "sub")); err == nil {
		t.Error("CheckDirWritable() under a regular file should fail")
	}
	if err := CheckDirWritable(""); err == nil {
		t.Error("CheckDirWritable(\"\") should fail")
	}
}
