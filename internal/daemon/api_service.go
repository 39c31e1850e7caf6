package daemon

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/lumina-panel/lumina/internal/server"
)

// apiService runs the HTTP API server as a host-managed service. The
// factory creates a fresh instance per (re)start so a restart re-reads the
// panel transport settings from the store.
type apiService struct {
	srv    *server.APIServer
	errCh  chan error
	doneCh chan struct{}
}

func newAPIService(srv *server.APIServer) *apiService {
	return &apiService{
		srv:    srv,
		errCh:  make(chan error, 1),
		doneCh: make(chan struct{}),
	}
}

func (s *apiService) Start(ctx context.Context) error {
	prepared, err := s.srv.Prepare(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer close(s.doneCh)
		log.Printf("[Daemon] API listening on %s (%s)", prepared.Server.Addr, prepared.Scheme)

		var serveErr error
		if prepared.UseTLS {
			serveErr = prepared.Server.ListenAndServeTLS(prepared.CertPath, prepared.KeyPath)
		} else {
			serveErr = prepared.Server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.errCh <- serveErr
		}
		close(s.errCh)
	}()

	return nil
}

func (s *apiService) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *apiService) Errors() <-chan error {
	return s.errCh
}
