//go:build !unix && !windows

package validation

import (
	"fmt"
	"runtime"
)

func getDiskSpace(string) (int64, int64, error) {
	return 0, 0, fmt.Errorf("disk space query not supported on %s", runtime.GOOS)
}
