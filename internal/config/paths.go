// Package config manages treepatch configuration and filesystem paths.
//
// Configuration covers the locations of treepatch data directories and
// the YAML build-spec file that describes how a patch is created. The
// default data root is ~/.treepatch/ containing backups/.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// Paths contains the filesystem paths used by treepatch.
type Paths struct {
	// Root is the base directory for all treepatch data (default: ~/.treepatch)
	Root string

	// Backups is the directory that receives per-apply backup stores
	Backups string
}

// DefaultPaths returns the default paths for treepatch.
// Paths can be overridden with environment variables:
// - TREEPATCH_ROOT: Override the root directory
func DefaultPaths() (*Paths, error) {
	root := os.Getenv("TREEPATCH_ROOT")
	if root == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		root = filepath.Join(home, ".treepatch")
	}

	return &Paths{
		Root:    root,
		Backups: filepath.Join(root, "backups"),
	}, nil
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.Root,
		p.Backups,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BackupDir returns the backup store path for one apply, named by a
// timestamp-derived identifier.
func (p *Paths) BackupDir(id string) string {
	return filepath.Join(p.Backups, id)
}
