package daemon

import (
	"context"
	"log"
	"time"

	"github.com/lumina-panel/lumina/internal/auth"
)

// sessionJanitor periodically removes expired auth sessions from the store.
type sessionJanitor struct {
	auth     *auth.Service
	interval time.Duration
	cancel   context.CancelFunc
}

func newSessionJanitor(authSvc *auth.Service, interval time.Duration) *sessionJanitor {
	return &sessionJanitor{auth: authSvc, interval: interval}
}

func (j *sessionJanitor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				purgeCtx, purgeCancel := context.WithTimeout(runCtx, storeQueryTimeout)
				if err := j.auth.PurgeExpired(purgeCtx); err != nil {
					log.Printf("[Daemon] purge expired sessions: %v", err)
				}
				purgeCancel()
			}
		}
	}()

	return nil
}

func (j *sessionJanitor) Shutdown(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}
