package client

import (
	"context"
	"net/http"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/kernel"
)

// KernelVersionList is the daemon's inventory of managed engine binaries.
// Latest and UpdateAvailable are populated once a check-update has run on
// the daemon since its last restart.
type KernelVersionList struct {
	Backend         string                    `json:"backend"`
	Versions        []kernel.InstalledVersion `json:"versions"`
	Latest          string                    `json:"latest,omitempty"`
	UpdateAvailable bool                      `json:"update_available,omitempty"`
}

// KernelActionResult reports the outcome of an update or activation.
type KernelActionResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// KernelVersions lists the installed engine binaries.
func (c *Client) KernelVersions(ctx context.Context) (KernelVersionList, error) {
	var list KernelVersionList
	err := c.doJSON(ctx, http.MethodGet, "/api/kernel/all-versions", nil, &list)
	return list, err
}

// KernelCheckUpdate queries the release feed for a newer engine build.
func (c *Client) KernelCheckUpdate(ctx context.Context) (kernel.UpdateInfo, error) {
	var info kernel.UpdateInfo
	payload := map[string]string{"backend": constants.BackendEngineA}
	err := c.doJSON(ctx, http.MethodPost, "/api/kernel/check-update", payload, &info)
	return info, err
}

// KernelUpdate installs and activates the latest engine build.
func (c *Client) KernelUpdate(ctx context.Context) (KernelActionResult, error) {
	var result KernelActionResult
	payload := map[string]string{"backend": constants.BackendEngineA}
	err := c.doJSON(ctx, http.MethodPost, "/api/kernel/update", payload, &result)
	return result, err
}

// KernelActivate installs (if needed) and activates a specific version.
func (c *Client) KernelActivate(ctx context.Context, version string) (KernelActionResult, error) {
	var result KernelActionResult
	payload := map[string]string{
		"backend": constants.BackendEngineA,
		"version": version,
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/kernel/version", payload, &result)
	return result, err
}
