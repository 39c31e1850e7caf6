package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration100Milliseconds = 100 * time.Millisecond
	Duration250Milliseconds = 250 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration3Seconds  = 3 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration15Seconds = 15 * time.Second
	Duration30Seconds = 30 * time.Second

	Duration2Minutes = 2 * time.Minute
)

// Domain-level timeout constants.
const (
	// EngineStartTimeout bounds the wait for an engine process to accept
	// its configuration during Start. Network readiness is polled separately.
	EngineStartTimeout = Duration10Seconds

	// ConnectReadinessBudget bounds the post-Start readiness poll; on expiry
	// the connection enters the error state with the process left running.
	ConnectReadinessBudget = Duration30Seconds

	// ConnectReadinessInterval is the poll period inside the budget.
	ConnectReadinessInterval = Duration1Second

	// ProxyPortReleaseTimeout bounds the wait for the SOCKS bridge port to
	// be released between a stop and the following start.
	ProxyPortReleaseTimeout = Duration15Seconds

	// FederationNodeTimeout is the per-node budget for overview fanout and
	// dispatch calls. One slow node must never stretch the whole overview.
	FederationNodeTimeout = Duration3Seconds

	// StatusCacheTTL absorbs UI polling between real engine queries.
	StatusCacheTTL = Duration3Seconds

	// IPInfoCacheTTL bounds how often the exit-IP probe hits the network.
	IPInfoCacheTTL = Duration2Minutes

	// ShutdownTimeout bounds graceful termination of engine processes and
	// the HTTP server during daemon shutdown.
	ShutdownTimeout = Duration5Seconds
)
