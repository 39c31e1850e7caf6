// Package engine drives the external tunnel backends behind one adapter
// interface. Two variants exist: engine_a runs a versioned MASQUE client
// binary that serves the SOCKS bridge itself, engine_b drives a
// system-installed control CLI whose daemon exposes a fixed internal SOCKS
// port relayed onto the configured bridge port.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// DefaultProxyPort is the local SOCKS bridge port used when no proxy port
// has been configured.
const DefaultProxyPort = 40000

// RawStatus is the engine's self-reported state, normalized across
// variants. It is a point-in-time read; the connection state machine owns
// the canonical status record.
type RawStatus struct {
	Running  bool   // engine process (or daemon) is up
	Ready    bool   // bridge accepts traffic
	Protocol string // masque / wireguard
	Detail   string // variant-specific diagnostic text
}

// RotateOutcome reports how an identity rotation completed. Engines that
// rotate by de-registration set RequiresReconnect; the caller must then run
// a full stop/start cycle and tolerate a transient disconnect.
type RotateOutcome struct {
	RequiresReconnect bool
	Detail            string
}

// Adapter is the uniform control surface over one backend engine. At most
// one adapter is active (holding the bridge port) at any time; that
// exclusivity is enforced by the connection state machine, not here.
type Adapter interface {
	// ID returns the engine identifier (constants.BackendEngineA/B).
	ID() string

	// Available reports whether the engine can run on this host: its
	// binary resolves and any system prerequisites are present. Cheap
	// enough to call per status request.
	Available() bool

	// Start launches the engine and, if required, the local bridge. It
	// blocks only long enough to confirm the process accepted its
	// configuration; network readiness is polled separately via Query.
	Start(ctx context.Context) error

	// Stop terminates the engine and bridge. Idempotent: stopping an
	// already-stopped adapter succeeds.
	Stop(ctx context.Context) error

	// Query reads the engine's self-reported state without blocking beyond
	// a short probe. Transient failures (process not yet ready) are
	// reported as *NotReadyError so callers can retry; permanent failures
	// (binary missing, config invalid) surface as *StartupError.
	Query(ctx context.Context) (RawStatus, error)

	// Rotate forces a new egress identity.
	Rotate(ctx context.Context) (RotateOutcome, error)

	// ProxyAddress returns the local SOCKS endpoint exposed by the bridge.
	ProxyAddress() string
}

// StartupError is a permanent failure: missing binary, rejected
// configuration, failed spawn. Retrying without operator intervention will
// not help.
type StartupError struct {
	Engine string
	Op     string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// NotReadyError is a transient failure: the engine is launching or the
// bridge has not bound its port yet. Callers poll until the readiness
// budget expires.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return "engine not ready: " + e.Reason
}

// IsTransient reports whether err allows a retry within the readiness budget.
func IsTransient(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}
