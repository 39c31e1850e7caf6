package config

import (
	"os"
	"path/filepath"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for a Lumina instance.
type InstancePaths struct {
	Home       string // Instance home directory
	ConfigDB   string // SQLite configuration store path
	Lock       string // Daemon lock file path
	Logs       string // Logs directory
	TempDir    string // Temporary files directory (downloads in flight)
	RunDir     string // Runtime assets (engine config.json, registration state)
	KernelsDir string // Versioned engine install tree (~/.lumina/kernels)
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetLuminaHome(), "instances", instanceName)

	return InstancePaths{
		Home:       instanceDir,
		ConfigDB:   filepath.Join(instanceDir, "config.db"),
		Lock:       filepath.Join(instanceDir, "daemon.lock"),
		Logs:       filepath.Join(instanceDir, "logs"),
		TempDir:    filepath.Join(instanceDir, "tmp"),
		RunDir:     filepath.Join(instanceDir, "run"),
		KernelsDir: filepath.Join(GetLuminaHome(), "kernels"),
	}
}

// GetLuminaHome returns the Lumina home directory (~/.lumina, overridable
// via the LUMINA_HOME environment variable).
func GetLuminaHome() string {
	if home := os.Getenv("LUMINA_HOME"); home != "" {
		return home
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".lumina")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance
// if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.TempDir,
		paths.RunDir,
		paths.KernelsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
