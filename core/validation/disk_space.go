package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"go_denoiser/core"
)

// DiskSpaceInfo contains information about disk space.
type DiskSpaceInfo struct {
	Path        string
	Total       int64
	Free        int64
	Used        int64
	UsedPercent float64
}

// String formats the free and total space, e.g. "12.00 GB free of 100.00 GB".
func (i *DiskSpaceInfo) String() string {
	return fmt.Sprintf("%s free of %s", core.FormatBytes(i.Free), core.FormatBytes(i.Total))
}

// DiskSpaceError indicates a disk space problem.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, core.FormatBytes(e.Required), core.FormatBytes(e.Available))
}

// GetDiskSpace returns disk space information for the filesystem holding
// path. Missing trailing components are walked up until an existing
// directory is found, so an output directory that is not created yet can
// be checked.
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	path = filepath.Clean(path)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if !info.IsDir() {
				path = filepath.Dir(path)
			}
			break
		}
		parent := filepath.Dir(path)
		if !os.IsNotExist(err) || parent == path {
			return nil, fmt.Errorf("cannot access path %s: %w", path, err)
		}
		path = parent
	}

	total, free, err := getDiskSpace(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk space for %s: %w", path, err)
	}

	used := total - free
	var usedPercent float64
	if total > 0 {
		usedPercent = float64(used) / float64(total) * 100
	}

	return &DiskSpaceInfo{
		Path:        path,
		Total:       total,
		Free:        free,
		Used:        used,
		UsedPercent: usedPercent,
	}, nil
}

// CheckDiskSpace verifies there is at least requiredBytes free at path.
// Returns a *DiskSpaceError when there is not.
func CheckDiskSpace(path string, requiredBytes int64) (*DiskSpaceInfo, error) {
	info, err := GetDiskSpace(path)
	if err != nil {
		return nil, err
	}
	if info.Free < requiredBytes {
		return info, &DiskSpaceError{
			Path:      path,
			Required:  requiredBytes,
			Available: info.Free,
		}
	}
	return info, nil
}

// EstimateOutputBytes returns the disk needed to write frames float32 PFM
// outputs of the given size, plus 16-bit previews when requested.
func EstimateOutputBytes(frames, width, height, channels int, preview bool) int64 {
	perFrame := int64(width) * int64(height) * int64(channels) * 4
	if preview {
		perFrame += int64(width) * int64(height) * int64(channels) * 2
	}
	return perFrame * int64(frames)
}
