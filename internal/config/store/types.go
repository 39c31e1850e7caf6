package store

// Setting represents a simple key-value pair scoped to an instance.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt string
}

// Node is a persisted federation registry record. Token is the bearer
// secret used to authenticate against the remote node's API; it is stored
// encrypted and must never be echoed back through read responses.
type Node struct {
	ID        string
	Name      string
	BaseURL   string
	Token     string
	Enabled   bool
	IsLocal   bool
	CreatedAt string
	UpdatedAt string
}

// Session is a persisted auth session.
type Session struct {
	Token      string
	CreatedAt  string
	LastSeenAt string
}
