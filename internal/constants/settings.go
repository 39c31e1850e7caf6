package constants

// Settings-store keys. The settings table is a flat key/value namespace;
// every consumer goes through these constants so a key rename stays a
// one-line change.
const (
	SettingProxyPort      = "proxy.port"
	SettingPanelPort      = "panel.port"
	SettingPanelBinding   = "panel.binding"
	SettingTLSEnabled     = "panel.tls_enabled"
	SettingTLSCertPath    = "panel.tls_cert_path"
	SettingTLSKeyPath     = "panel.tls_key_path"
	SettingAllowedOrigins = "panel.allowed_origins"
	SettingActiveBackend  = "backend.active"
	SettingCustomEndpoint = "backend.custom_endpoint"
	SettingActiveKernel   = "kernel.active_version"
)

// Security-settings keys (encrypted at rest).
const (
	SecurityPanelPassword = "auth.password"
)

// Backend engine identifiers.
const (
	BackendEngineA = "engine_a" // versioned MASQUE client, de-registration rotate
	BackendEngineB = "engine_b" // system CLI + supervised daemon, in-place rotate
)

// LocalNodeID is the fixed registry id of the local instance's node record.
const LocalNodeID = "local"
