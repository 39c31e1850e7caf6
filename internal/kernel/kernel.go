// Package kernel manages installed versions of the engine_a tunnel binary:
// listing what is on disk, checking the release feed for updates, verified
// installation, and marking one version active. The system-managed engine_b
// is updated by its own installer and is out of scope here.
package kernel

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/lumina-panel/lumina/internal/constants"
)

// EngineName is the kernel family this manager maintains. Versions live
// under <kernels>/<EngineName>/<version>/.
const EngineName = constants.BackendEngineA

// ErrNoActiveVersion is returned when no kernel version has been activated.
var ErrNoActiveVersion = errors.New("kernel: no active version configured")

// FetchError wraps a release-feed or download failure.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("kernel: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch on a downloaded binary. The
// download is discarded and nothing is activated.
type IntegrityError struct {
	Version  string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("kernel: %s checksum mismatch: expected %s, got %s", e.Version, e.Expected, e.Actual)
}

// InstalledVersion describes one version present on disk.
type InstalledVersion struct {
	Version string `json:"version"`
	Active  bool   `json:"active"`
}

// UpdateInfo is the result of a release-feed check.
type UpdateInfo struct {
	Latest          string `json:"latest"`
	Installed       bool   `json:"installed"`
	Active          string `json:"active,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// canonical normalizes a user-supplied version label to the canonical
// semver form with a leading v.
func canonical(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", errors.New("kernel: version is required")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("kernel: invalid version %q", version)
	}
	return v, nil
}

// platformKey identifies the running platform in the release feed.
func platformKey() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// sortVersionsDesc orders semver labels newest first.
func sortVersionsDesc(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare(versions[i], versions[j]) > 0
	})
}
