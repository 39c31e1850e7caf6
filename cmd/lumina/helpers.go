package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lumina-panel/lumina/internal/client"
)

// longCommandTimeout covers operations that ride through the daemon's
// readiness poll (connect, rotate, backend switch, kernel update).
const longCommandTimeout = 2 * time.Minute

func longCommandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), longCommandTimeout)
}

// newAuthedClient builds a daemon client and fails early with a usable
// hint when no session token is configured.
func newAuthedClient() (*client.Client, error) {
	c, err := client.New()
	if err != nil {
		return nil, err
	}
	if c.Token() == "" {
		return nil, fmt.Errorf("not logged in; run 'lumina login' first")
	}
	return c, nil
}
