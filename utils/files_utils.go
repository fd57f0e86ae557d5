package utils

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var housekeeping = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

// IsHidden reports whether name is a dot file.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// IsHousekeeping reports whether name is an operating system artifact that
// is never imported.
func IsHousekeeping(name string) bool {
	return housekeeping[name] || strings.HasPrefix(name, "._")
}

// ReadDir returns the sorted names of the sub directories and files of dir.
func ReadDir(fs afero.Fs, dir string) ([]string, []string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, nil, err
	}
	var dirs, files []string
	for _, info := range infos {
		if info.IsDir() {
			dirs = append(dirs, info.Name())
		} else {
			files = append(files, info.Name())
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// JoinAll joins every name to dir.
func JoinAll(dir string, names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(dir, name)
	}
	return out
}
