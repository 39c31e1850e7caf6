package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetLuminaHome(t *testing.T) {
	t.Setenv("LUMINA_HOME", "/tmp/lumina-home-test")

	if home := GetLuminaHome(); home != "/tmp/lumina-home-test" {
		t.Errorf("GetLuminaHome() = %s; want LUMINA_HOME override", home)
	}

	os.Unsetenv("LUMINA_HOME")
	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".lumina")
	if home := GetLuminaHome(); home != expected {
		t.Errorf("GetLuminaHome() = %s; want %s", home, expected)
	}
}

func TestGetInstancePaths(t *testing.T) {
	t.Setenv("LUMINA_HOME", "/tmp/lumina-paths-test")

	paths := GetInstancePaths("")

	if !strings.Contains(paths.ConfigDB, "instances/default/config.db") {
		t.Errorf("ConfigDB path incorrect: %s", paths.ConfigDB)
	}
	if !strings.Contains(paths.Lock, "instances/default/daemon.lock") {
		t.Errorf("Lock path incorrect: %s", paths.Lock)
	}
	if !strings.Contains(paths.Home, "instances/default") {
		t.Errorf("Home path incorrect: %s", paths.Home)
	}
	if !strings.HasSuffix(paths.KernelsDir, "kernels") {
		t.Errorf("KernelsDir path incorrect: %s", paths.KernelsDir)
	}
	if !strings.Contains(paths.RunDir, "instances/default/run") {
		t.Errorf("RunDir path incorrect: %s", paths.RunDir)
	}
}

func TestGetInstancePathsDefaultsEmptyName(t *testing.T) {
	paths1 := GetInstancePaths("")
	paths2 := GetInstancePaths("default")

	if paths1.ConfigDB != paths2.ConfigDB {
		t.Error("Empty string and 'default' should give same paths")
	}
}

func TestEnsureInstanceDirs(t *testing.T) {
	t.Setenv("LUMINA_HOME", t.TempDir())

	paths, err := EnsureInstanceDirs("")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.Logs, paths.TempDir, paths.RunDir, paths.KernelsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}
