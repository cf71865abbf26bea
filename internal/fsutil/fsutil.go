package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var fitsExts = map[string]struct{}{
	".fit":  {},
	".fits": {},
}

// ListFITS returns all FITS files under root in lexical walk order.
func ListFITS(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsFITSFile(d.Name()) {
			files = append(files, filepath.Clean(path))
		}
		return nil
	})
	return files, err
}

// ListDirs returns root and every directory below it.
func ListDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Strings(dirs)
	return dirs, err
}

// IsFITSFile reports whether path has a FITS extension. Matching is case
// sensitive like the archive's ingest scripts.
func IsFITSFile(path string) bool {
	_, ok := fitsExts[filepath.Ext(path)]
	return ok
}

// ExpandUser replaces a leading ~ with the home directory.
func ExpandUser(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
