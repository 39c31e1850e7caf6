// Package auth guards the panel with a single password and bearer-token
// sessions. Passwords are stored as bcrypt hashes in the encrypted
// security settings; a plaintext value left behind by old installs is
// upgraded to a hash on the first successful login.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
)

var (
	// ErrInvalidCredentials is returned for a wrong password. Deliberately
	// indistinguishable from an unknown account.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrNotAuthenticated is returned for missing, unknown or expired
	// session tokens.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrRateLimited is returned when an IP exceeds the login budget.
	ErrRateLimited = errors.New("auth: too many login attempts")

	// ErrPasswordNotSet is returned by Login before first-run setup.
	ErrPasswordNotSet = errors.New("auth: no password configured")

	// ErrPasswordConfigured is returned by Setup once a password exists.
	ErrPasswordConfigured = errors.New("auth: password already configured")
)

const minPasswordLength = 8

// Service implements login, session checks and password management.
type Service struct {
	store *configstore.Store

	mu       sync.Mutex
	sessions map[string]sessionEntry // token -> cached session state
	loaded   bool
	limiters map[string]*limiterEntry // remote IP -> login limiter
}

type sessionEntry struct {
	lastSeen time.Time
	touched  time.Time // last write of last_seen to the store
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(store *configstore.Store) *Service {
	return &Service{
		store:    store,
		sessions: make(map[string]sessionEntry),
		limiters: make(map[string]*limiterEntry),
	}
}

// PasswordConfigured reports whether first-run setup has completed.
func (s *Service) PasswordConfigured(ctx context.Context) (bool, error) {
	stored, err := s.storedPassword(ctx)
	if err != nil {
		return false, err
	}
	return stored != "", nil
}

// Setup sets the initial panel password. Allowed exactly once; password
// changes afterwards go through ChangePassword.
func (s *Service) Setup(ctx context.Context, password string) error {
	configured, err := s.PasswordConfigured(ctx)
	if err != nil {
		return err
	}
	if configured {
		return ErrPasswordConfigured
	}
	return s.savePassword(ctx, password)
}

// Login verifies the password and mints a session token. Attempts are
// rate-limited per remote IP.
func (s *Service) Login(ctx context.Context, password, remoteIP string) (string, error) {
	if !s.allowAttempt(remoteIP) {
		return "", ErrRateLimited
	}

	stored, err := s.storedPassword(ctx)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", ErrPasswordNotSet
	}
	if err := s.verifyPassword(ctx, stored, password); err != nil {
		return "", err
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if err := s.store.InsertSession(ctx, token, now); err != nil {
		return "", fmt.Errorf("auth: persist session: %w", err)
	}

	s.mu.Lock()
	s.sessions[token] = sessionEntry{lastSeen: now, touched: now}
	s.mu.Unlock()
	return token, nil
}

// Check validates a session token, enforcing the idle timeout. Valid
// checks refresh the session's last-seen time, written through to the
// store at most once per touch interval.
func (s *Service) Check(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	entry, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	if now.Sub(entry.lastSeen) > constants.SessionIdleTimeout {
		delete(s.sessions, token)
		s.mu.Unlock()
		if err := s.store.DeleteSession(ctx, token); err != nil {
			log.Printf("[Auth] delete expired session: %v", err)
		}
		return ErrNotAuthenticated
	}
	entry.lastSeen = now
	persist := now.Sub(entry.touched) >= constants.SessionTouchInterval
	if persist {
		entry.touched = now
	}
	s.sessions[token] = entry
	s.mu.Unlock()

	if persist {
		if err := s.store.TouchSession(ctx, token, now); err != nil {
			log.Printf("[Auth] touch session: %v", err)
		}
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// invalidates every session except the caller's.
func (s *Service) ChangePassword(ctx context.Context, current, next, callerToken string) error {
	stored, err := s.storedPassword(ctx)
	if err != nil {
		return err
	}
	if stored == "" {
		return ErrPasswordNotSet
	}
	if err := s.verifyPassword(ctx, stored, current); err != nil {
		return err
	}
	if err := s.savePassword(ctx, next); err != nil {
		return err
	}

	if _, err := s.store.DeleteSessionsExcept(ctx, callerToken); err != nil {
		return fmt.Errorf("auth: invalidate sessions: %w", err)
	}
	s.mu.Lock()
	kept, ok := s.sessions[callerToken]
	s.sessions = make(map[string]sessionEntry)
	if ok {
		s.sessions[callerToken] = kept
	}
	s.mu.Unlock()
	return nil
}

// Logout invalidates one session. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return s.store.DeleteSession(ctx, token)
}

// LogoutAll invalidates every session. With keepCurrent the caller's own
// session survives, so "sign out everywhere else" does not drop the panel
// connection that requested it.
func (s *Service) LogoutAll(ctx context.Context, callerToken string, keepCurrent bool) error {
	keep := ""
	if keepCurrent {
		keep = callerToken
	}
	s.mu.Lock()
	kept, ok := s.sessions[keep]
	s.sessions = make(map[string]sessionEntry)
	if keep != "" && ok {
		s.sessions[keep] = kept
	}
	s.mu.Unlock()
	n, err := s.store.DeleteSessionsExcept(ctx, keep)
	if err != nil {
		return err
	}
	log.Printf("[Auth] invalidated %d session(s)", n)
	return nil
}

// PurgeExpired drops idle sessions from the store. Called periodically by
// the daemon.
func (s *Service) PurgeExpired(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-constants.SessionIdleTimeout)
	n, err := s.store.PurgeExpiredSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Auth] purged %d expired session(s)", n)
	}
	return nil
}

// --- internals ---

func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("auth: load sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	for _, sess := range sessions {
		last, err := time.Parse(time.RFC3339, sess.LastSeenAt)
		if err != nil {
			if last, err = time.Parse(time.RFC3339, sess.CreatedAt); err != nil {
				last = time.Now().UTC()
			}
		}
		s.sessions[sess.Token] = sessionEntry{lastSeen: last, touched: last}
	}
	s.loaded = true
	return nil
}

func (s *Service) storedPassword(ctx context.Context) (string, error) {
	values, err := s.store.LoadSecuritySettings(ctx, constants.SecurityPanelPassword)
	if err != nil {
		return "", fmt.Errorf("auth: load password: %w", err)
	}
	return strings.TrimSpace(values[constants.SecurityPanelPassword]), nil
}

func (s *Service) savePassword(ctx context.Context, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("auth: password must be at least %d characters", minPasswordLength)
	}
	return s.saveHashed(ctx, password)
}

// saveHashed hashes and persists a password without length validation.
// The legacy upgrade path uses it directly: an old plaintext password may
// be shorter than today's minimum but must still be migrated to a hash.
func (s *Service) saveHashed(ctx context.Context, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.store.SaveSecuritySettings(ctx, map[string]string{
		constants.SecurityPanelPassword: string(hash),
	}); err != nil {
		return fmt.Errorf("auth: save password: %w", err)
	}
	return nil
}

// verifyPassword checks the supplied password against the stored value and
// transparently upgrades a legacy plaintext record to a bcrypt hash.
func (s *Service) verifyPassword(ctx context.Context, stored, password string) error {
	if isBcryptHash(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	}

	// Legacy plaintext record.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	if err := s.saveHashed(ctx, password); err != nil {
		// Login still succeeds; the upgrade retries next time.
		log.Printf("[Auth] WARNING: plaintext password upgrade failed: %v", err)
	} else {
		log.Printf("[Auth] upgraded legacy plaintext password to bcrypt hash")
	}
	return nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// allowAttempt enforces the per-IP login rate limit. Stale limiters are
// evicted opportunistically so the map stays bounded.
func (s *Service) allowAttempt(remoteIP string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for ip, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > 10*time.Minute {
			delete(s.limiters, ip)
		}
	}

	entry, ok := s.limiters[remoteIP]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/constants.LoginRatePerMinute), constants.LoginBurst),
		}
		s.limiters[remoteIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func generateToken() (string, error) {
	buf := make([]byte, constants.SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
