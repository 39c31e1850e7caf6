package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lumina-panel/lumina/internal/config"
	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/server"
	"github.com/lumina-panel/lumina/internal/tlswarn"
)

// TransportSettings describes how to reach the local daemon, read from
// the same settings the daemon binds with.
type TransportSettings struct {
	Port        int
	Binding     string
	TLSEnabled  bool
	TLSCertPath string
}

// LoadTransportSettings opens the config store read-only and extracts
// the panel transport settings.
func LoadTransportSettings() (*TransportSettings, error) {
	store, err := configstore.Open(configstore.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("client: open config store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	values, err := store.LoadSettings(ctx,
		constants.SettingPanelPort,
		constants.SettingPanelBinding,
		constants.SettingTLSEnabled,
		constants.SettingTLSCertPath,
	)
	if err != nil {
		return nil, fmt.Errorf("client: load panel settings: %w", err)
	}

	cfg := &TransportSettings{
		Port:    server.DefaultPanelPort,
		Binding: "loopback",
	}
	if raw := strings.TrimSpace(values[constants.SettingPanelPort]); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("client: invalid panel port %q", raw)
		}
		cfg.Port = port
	}
	if raw := strings.TrimSpace(values[constants.SettingPanelBinding]); raw != "" {
		cfg.Binding = strings.ToLower(raw)
	}
	cfg.TLSEnabled = strings.EqualFold(strings.TrimSpace(values[constants.SettingTLSEnabled]), "true")
	cfg.TLSCertPath = strings.TrimSpace(values[constants.SettingTLSCertPath])

	return cfg, nil
}

// PrepareTLSConfig builds the TLS configuration for store-derived
// connections. Returns nil when TLS is disabled.
func PrepareTLSConfig(cfg *TransportSettings, host string) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if cfg.TLSCertPath != "" {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("client: read TLS certificate: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client: certificate %s contains no usable PEM data", cfg.TLSCertPath)
		}
	}
	tlsConfig.RootCAs = pool

	// Self-signed panel certificates are typically issued for a DNS
	// name, so an IP dial needs an explicit server name.
	if serverName := strings.TrimSpace(os.Getenv("LUMINA_TLS_SERVER_NAME")); serverName != "" {
		tlsConfig.ServerName = serverName
	} else if net.ParseIP(host) != nil {
		tlsConfig.ServerName = "localhost"
	}

	if strings.EqualFold(os.Getenv("LUMINA_TLS_INSECURE"), "true") {
		tlsConfig.InsecureSkipVerify = true
		tlswarn.LogInsecure()
	}

	return tlsConfig, nil
}

// TLSConfigForExplicit builds the TLS configuration for an explicit
// base URL (LUMINA_BASE_URL). Returns nil for plain HTTP.
func TLSConfigForExplicit(u *url.URL) (*tls.Config, error) {
	if u.Scheme != "https" {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if caPath := strings.TrimSpace(os.Getenv("LUMINA_TLS_CA_CERT")); caPath != "" {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("client: read CA certificate: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client: CA certificate %s contains no usable PEM data", caPath)
		}
		tlsConfig.RootCAs = pool
	}

	if serverName := strings.TrimSpace(os.Getenv("LUMINA_TLS_SERVER_NAME")); serverName != "" {
		tlsConfig.ServerName = serverName
	} else if host := u.Hostname(); net.ParseIP(host) != nil {
		tlsConfig.ServerName = "localhost"
	}

	if strings.EqualFold(os.Getenv("LUMINA_TLS_INSECURE"), "true") {
		tlsConfig.InsecureSkipVerify = true
		tlswarn.LogInsecure()
	}

	return tlsConfig, nil
}

// Token file

func tokenPath() string {
	return filepath.Join(config.GetLuminaHome(), "token")
}

// LoadToken reads the persisted session token, returning "" when none
// has been saved.
func LoadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken persists the session token with owner-only permissions.
func SaveToken(token string) error {
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("client: create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("client: write token file: %w", err)
	}
	return nil
}

// ClearToken removes the persisted session token, tolerating absence.
func ClearToken() error {
	err := os.Remove(tokenPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("client: remove token file: %w", err)
	}
	return nil
}
