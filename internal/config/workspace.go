package config

import (
	"os"
	"path/filepath"
)

// FindWorkspaceRoot attempts to find the project root by looking for .fhi or
// fhi.yaml or go.mod. If not found, returns the current working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".fhi")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "fhi.yaml")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// DefaultConfigPath returns the fhi.yaml path in the workspace root.
func DefaultConfigPath() string {
	root, err := FindWorkspaceRoot()
	if err != nil {
		return "fhi.yaml"
	}
	return filepath.Join(root, "fhi.yaml")
}

// HomeDir returns the engine home directory (.fhi under the workspace root),
// where logs, memory, and reports live. FHI_HOME overrides it.
func HomeDir() string {
	if home := os.Getenv("FHI_HOME"); home != "" {
		return home
	}
	root, err := FindWorkspaceRoot()
	if err != nil {
		return ".fhi"
	}
	return filepath.Join(root, ".fhi")
}

// ResolveDatabasePath returns the memory store path, falling back to
// <home>/fhi.db when unset.
func (c *Config) ResolveDatabasePath() string {
	if c.Memory.DatabasePath != "" {
		return c.Memory.DatabasePath
	}
	return filepath.Join(HomeDir(), "fhi.db")
}

// ResolveReportDir returns the analysis output directory, falling back to
// <home>/reports when unset.
func (c *Config) ResolveReportDir() string {
	if c.Analysis.OutputDir != "" {
		return c.Analysis.OutputDir
	}
	return filepath.Join(HomeDir(), "reports")
}

// ResolveLogDir returns the log directory, empty when file logging is off.
func (c *Config) ResolveLogDir() string {
	return c.Logging.Dir
}
