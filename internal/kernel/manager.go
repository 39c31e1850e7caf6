package kernel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/validate"
)

// DefaultReleasesURL is the engine_a release feed queried by CheckUpdate
// and Install.
const DefaultReleasesURL = "https://releases.lumina-panel.dev/engine_a/index.json"

const (
	maxFeedSize   = 1 * 1024 * 1024   // 1 MB
	maxBinarySize = 200 * 1024 * 1024 // 200 MB
)

// Manager owns the on-disk kernel tree and the active-version setting.
type Manager struct {
	store       *configstore.Store
	dir         string // kernels root, versions under <dir>/engine_a/<version>/
	releasesURL string
	http        *http.Client

	mu        sync.Mutex
	lastCheck *UpdateInfo // most recent CheckUpdate result, memory only
}

// Options configures a Manager.
type Options struct {
	Store *configstore.Store

	// Dir is the kernels root directory (config.InstancePaths.KernelsDir).
	Dir string

	// ReleasesURL overrides the release feed, mainly for tests.
	ReleasesURL string
}

func New(opts Options) *Manager {
	url := opts.ReleasesURL
	if url == "" {
		url = DefaultReleasesURL
	}
	return &Manager{
		store:       opts.Store,
		dir:         opts.Dir,
		releasesURL: url,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to disallowed scheme: %s", req.URL.Scheme)
				}
				return nil
			},
		},
	}
}

// releaseIndex is the wire format of the release feed.
type releaseIndex struct {
	Versions []release `json:"versions"`
}

type release struct {
	Version string                  `json:"version"`
	Assets  map[string]releaseAsset `json:"assets"` // keyed by GOOS/GOARCH
}

type releaseAsset struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

func (m *Manager) familyDir() string {
	return filepath.Join(m.dir, EngineName)
}

func (m *Manager) versionDir(version string) string {
	return filepath.Join(m.familyDir(), version)
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return EngineName + ".exe"
	}
	return EngineName
}

// ListInstalled returns the versions present on disk, newest first, with
// the active one marked.
func (m *Manager) ListInstalled(ctx context.Context) ([]InstalledVersion, error) {
	entries, err := os.ReadDir(m.familyDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("kernel: read versions dir: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && semver.IsValid(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sortVersionsDesc(versions)

	active, err := m.ActiveVersion(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveVersion) {
		return nil, err
	}

	out := make([]InstalledVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, InstalledVersion{Version: v, Active: v == active})
	}
	return out, nil
}

// ActiveVersion returns the activated version label, or ErrNoActiveVersion.
func (m *Manager) ActiveVersion(ctx context.Context) (string, error) {
	settings, err := m.store.LoadSettings(ctx, constants.SettingActiveKernel)
	if err != nil {
		return "", fmt.Errorf("kernel: load active version: %w", err)
	}
	v := strings.TrimSpace(settings[constants.SettingActiveKernel])
	if v == "" {
		return "", ErrNoActiveVersion
	}
	return v, nil
}

// BinaryPath resolves the active version's binary on disk.
func (m *Manager) BinaryPath(ctx context.Context) (string, error) {
	active, err := m.ActiveVersion(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.versionDir(active), binaryName())
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("kernel: active version %s binary missing: %w", active, err)
	}
	return path, nil
}

// CheckUpdate fetches the release feed and compares the newest release
// that has an asset for this platform against what is installed.
func (m *Manager) CheckUpdate(ctx context.Context) (UpdateInfo, error) {
	idx, err := m.fetchIndex(ctx)
	if err != nil {
		return UpdateInfo{}, err
	}

	var candidates []string
	byVersion := map[string]release{}
	for _, r := range idx.Versions {
		v, err := canonical(r.Version)
		if err != nil {
			continue
		}
		if _, ok := r.Assets[platformKey()]; !ok {
			continue
		}
		candidates = append(candidates, v)
		byVersion[v] = r
	}
	if len(candidates) == 0 {
		return UpdateInfo{}, &FetchError{URL: m.releasesURL, Err: fmt.Errorf("no release for platform %s", platformKey())}
	}
	sortVersionsDesc(candidates)
	latest := candidates[0]

	info := UpdateInfo{Latest: latest}
	if active, err := m.ActiveVersion(ctx); err == nil {
		info.Active = active
		info.UpdateAvailable = semver.Compare(latest, active) > 0
	} else {
		info.UpdateAvailable = true
	}
	if _, err := os.Stat(m.versionDir(latest)); err == nil {
		info.Installed = true
	}

	m.mu.Lock()
	recorded := info
	m.lastCheck = &recorded
	m.mu.Unlock()

	return info, nil
}

// LastCheck returns the most recent CheckUpdate result, refreshed against
// the current active and installed state so an activation between the
// check and the read does not report a stale update_available. The second
// return is false until a check has run; the record does not survive a
// daemon restart.
func (m *Manager) LastCheck(ctx context.Context) (UpdateInfo, bool) {
	m.mu.Lock()
	cached := m.lastCheck
	m.mu.Unlock()
	if cached == nil {
		return UpdateInfo{}, false
	}

	info := *cached
	if active, err := m.ActiveVersion(ctx); err == nil {
		info.Active = active
		info.UpdateAvailable = semver.Compare(info.Latest, active) > 0
	}
	if _, err := os.Stat(m.versionDir(info.Latest)); err == nil {
		info.Installed = true
	}
	return info, true
}

// Install downloads and verifies one version. Already-installed versions
// are never overwritten; activation is a separate step.
func (m *Manager) Install(ctx context.Context, version string) (InstalledVersion, error) {
	v, err := canonical(version)
	if err != nil {
		return InstalledVersion{}, err
	}
	destDir := m.versionDir(v)
	if _, err := os.Stat(destDir); err == nil {
		return InstalledVersion{}, fmt.Errorf("kernel: version %s is already installed", v)
	}

	idx, err := m.fetchIndex(ctx)
	if err != nil {
		return InstalledVersion{}, err
	}
	var asset *releaseAsset
	for _, r := range idx.Versions {
		rv, err := canonical(r.Version)
		if err != nil || rv != v {
			continue
		}
		if a, ok := r.Assets[platformKey()]; ok {
			asset = &a
		}
		break
	}
	if asset == nil {
		return InstalledVersion{}, &FetchError{URL: m.releasesURL, Err: fmt.Errorf("version %s has no asset for %s", v, platformKey())}
	}
	if strings.TrimSpace(asset.SHA256) == "" {
		return InstalledVersion{}, &IntegrityError{Version: v, Expected: "(none published)", Actual: "(not computed)"}
	}

	tmpFile, err := m.downloadToTemp(ctx, asset.URL)
	if err != nil {
		return InstalledVersion{}, err
	}
	defer os.Remove(tmpFile)

	if err := verifySHA256(tmpFile, v, asset.SHA256); err != nil {
		return InstalledVersion{}, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return InstalledVersion{}, fmt.Errorf("kernel: create version dir: %w", err)
	}
	dest := filepath.Join(destDir, binaryName())
	if err := moveFile(tmpFile, dest); err != nil {
		os.RemoveAll(destDir)
		return InstalledVersion{}, fmt.Errorf("kernel: install binary: %w", err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		os.RemoveAll(destDir)
		return InstalledVersion{}, fmt.Errorf("kernel: mark binary executable: %w", err)
	}

	log.Printf("[Kernel] installed %s %s", EngineName, v)
	return InstalledVersion{Version: v}, nil
}

// Activate marks an installed version as the one engine_a launches.
func (m *Manager) Activate(ctx context.Context, version string) error {
	v, err := canonical(version)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(m.versionDir(v), binaryName())); err != nil {
		return fmt.Errorf("kernel: version %s is not installed: %w", v, err)
	}
	if err := m.store.SaveSettings(ctx, map[string]string{constants.SettingActiveKernel: v}); err != nil {
		return fmt.Errorf("kernel: save active version: %w", err)
	}
	log.Printf("[Kernel] activated %s %s", EngineName, v)
	return nil
}

// Uninstall removes an installed version from disk. The active version is
// protected; deactivate by activating another version first.
func (m *Manager) Uninstall(ctx context.Context, version string) error {
	v, err := canonical(version)
	if err != nil {
		return err
	}
	if active, err := m.ActiveVersion(ctx); err == nil && active == v {
		return fmt.Errorf("kernel: version %s is active and cannot be removed", v)
	}
	dir := m.versionDir(v)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("kernel: version %s is not installed", v)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("kernel: remove version %s: %w", v, err)
	}
	return nil
}

func (m *Manager) fetchIndex(ctx context.Context) (*releaseIndex, error) {
	if err := validate.HTTPURL(m.releasesURL); err != nil {
		return nil, &FetchError{URL: m.releasesURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.releasesURL, nil)
	if err != nil {
		return nil, &FetchError{URL: m.releasesURL, Err: err}
	}
	req.Header.Set("User-Agent", "lumina-kernel-manager/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: m.releasesURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: m.releasesURL, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
	if err != nil {
		return nil, &FetchError{URL: m.releasesURL, Err: err}
	}
	if int64(len(data)) > maxFeedSize {
		return nil, &FetchError{URL: m.releasesURL, Err: fmt.Errorf("feed exceeds maximum size (%d bytes)", maxFeedSize)}
	}

	var idx releaseIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &FetchError{URL: m.releasesURL, Err: fmt.Errorf("parse feed: %w", err)}
	}
	return &idx, nil
}

func (m *Manager) downloadToTemp(ctx context.Context, rawURL string) (string, error) {
	if err := validate.HTTPURL(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", "lumina-kernel-manager/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(m.familyDir(), 0o755); err != nil {
		return "", fmt.Errorf("kernel: create kernels dir: %w", err)
	}
	// Temp file lives inside the kernels tree so the final move never
	// crosses a filesystem boundary.
	tmpFile, err := os.CreateTemp(m.familyDir(), ".download-*")
	if err != nil {
		return "", err
	}

	success := false
	name := tmpFile.Name()
	defer func() {
		if !success {
			tmpFile.Close()
			if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("[Kernel] WARNING: failed to remove temp file %s: %v", name, rmErr)
			}
		}
	}()

	n, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxBinarySize+1))
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	if n > maxBinarySize {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("binary exceeds maximum size (%d bytes)", maxBinarySize)}
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("kernel: finalize download: %w", err)
	}
	success = true
	return name, nil
}

func verifySHA256(path, version, expected string) error {
	expected = strings.TrimSpace(strings.ToLower(expected))

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return &IntegrityError{Version: version, Expected: expected, Actual: actual}
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device fallback.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
