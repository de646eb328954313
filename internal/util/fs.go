package util

import (
	"io/fs"
	"path/filepath"
)

// DirSize sums the sizes of regular files under root. Unreadable entries are
// skipped; a missing root is zero.
func DirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
