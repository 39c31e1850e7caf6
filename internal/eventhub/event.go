package eventhub

import (
	"encoding/json"
	"time"
)

// Kind discriminates event payloads on the shared sequence.
type Kind string

const (
	// KindLog is a free-text log line captured from an engine process or an
	// internal component.
	KindLog Kind = "log"
	// KindStatus is a full connection-status snapshot emitted on every
	// state transition.
	KindStatus Kind = "status"
)

// Log levels. Free-form strings keep the wire format simple; these cover
// everything the panel renders.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one entry on the instance-wide ordered sequence. IDs are
// strictly increasing, assigned by the hub at publish time and never
// reused. Log lines and status snapshots share the same sequence so a
// client can interleave them correctly by id order.
type Event struct {
	ID        uint64          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Level     string          `json:"level,omitempty"`
	Source    string          `json:"source,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
