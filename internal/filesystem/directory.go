package filesystem

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace is returned by EnsureFree.
var ErrInsufficientSpace = fmt.Errorf("insufficient free space")

// EnsureDirectory creates path and any parents. An existing directory is fine.
func EnsureDirectory(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureFree fails when the file system holding dir has less than need bytes
// available.
func EnsureFree(dir string, need uint64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to get disk usage for %s: %w", dir, err)
	}
	if usage.Free < need {
		return fmt.Errorf("%w in %s: need %s, have %s", ErrInsufficientSpace, dir,
			humanize.IBytes(need), humanize.IBytes(usage.Free))
	}
	return nil
}
