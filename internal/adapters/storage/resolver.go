// Package storage picks the directory daily logs are written to.
package storage

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// Roots are the places Resolve looks, in order of preference.
type Roots struct {
	Primary   string `yaml:"primary_root"`
	Secondary string `yaml:"secondary_root"`
	Fallback  string `yaml:"fallback_dir"`
	LogSubdir string `yaml:"log_subdir"`
}

// Resolve returns the log directory. A mount root is used only when it holds
// exactly one directory; with none or several it moves on rather than guess
// which device is meant. The fallback is used as-is.
func Resolve(fs afero.Fs, roots Roots) domain.StorageTarget {
	if dir, ok := singleEntry(fs, roots.Primary); ok {
		return domain.StorageTarget{
			Dir:        absolute(filepath.Join(dir, roots.LogSubdir)),
			Provenance: domain.ProvenanceRemovable,
		}
	}
	if dir, ok := singleEntry(fs, roots.Secondary); ok {
		return domain.StorageTarget{
			Dir:        absolute(filepath.Join(dir, roots.LogSubdir)),
			Provenance: domain.ProvenanceSecondary,
		}
	}
	return domain.StorageTarget{
		Dir:        absolute(roots.Fallback),
		Provenance: domain.ProvenanceHome,
	}
}

func singleEntry(fs afero.Fs, root string) (string, bool) {
	if root == "" {
		return "", false
	}
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return "", false
	}
	var found string
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		found = filepath.Join(root, e.Name())
		n++
	}
	return found, n == 1
}

func absolute(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
