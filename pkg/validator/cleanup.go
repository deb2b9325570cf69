package validator

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Cleanup implements spec.md 6's end-of-walk cache cleanup: every file
// under a repository's local directory that step 5's cross-check never
// claimed against a manifest entry is removed, then empty directories
// are removed bottom-up. Returns the del_files/del_dirs counts spec.md
// 9 names; the caller folds them into the run's pkg/stats.
func (w *Walker) Cleanup() (filesDeleted, dirsDeleted int, err error) {
	for localDir, claimed := range w.Seen {
		f, d, walkErr := cleanupDir(localDir, claimed)
		filesDeleted += f
		dirsDeleted += d
		if walkErr != nil {
			err = walkErr
		}
	}
	return filesDeleted, dirsDeleted, err
}

func cleanupDir(root string, claimed map[string]bool) (filesDeleted, dirsDeleted int, err error) {
	if _, statErr := os.Stat(root); os.IsNotExist(statErr) {
		return 0, 0, nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		if claimed[filepath.Base(path)] {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return rmErr
		}
		filesDeleted++
		return nil
	})
	if walkErr != nil {
		return filesDeleted, 0, walkErr
	}

	dirsDeleted, err = removeEmptyDirs(root)
	return filesDeleted, dirsDeleted, err
}

// removeEmptyDirs removes every now-empty subdirectory under root,
// bottom-up, but never root itself (the repository's cache slot stays
// in place for the next sync).
func removeEmptyDirs(root string) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Deepest paths first, so a directory empties before its parent is
	// checked.
	sortByDepthDesc(dirs)

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func sortByDepthDesc(dirs []string) {
	depth := func(p string) int {
		n := 0
		for _, c := range p {
			if c == filepath.Separator {
				n++
			}
		}
		return n
	}
	for i := 1; i < len(dirs); i++ {
		for j := i; j > 0 && depth(dirs[j-1]) < depth(dirs[j]); j-- {
			dirs[j-1], dirs[j] = dirs[j], dirs[j-1]
		}
	}
}
