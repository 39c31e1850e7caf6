package constants

import "time"

const (
	// SessionTokenBytes is the entropy of a session token before hex encoding.
	SessionTokenBytes = 32

	// SessionIdleTimeout revokes sessions not seen for this long.
	SessionIdleTimeout = 7 * 24 * time.Hour

	// SessionTouchInterval throttles last_seen_at writes on hot paths.
	SessionTouchInterval = time.Minute

	// LoginRatePerMinute and LoginBurst bound login attempts per client IP.
	LoginRatePerMinute = 5
	LoginBurst         = 5
)
