package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// DefaultCleanupInterval is how often the background cleanup sweeps expired
// entries. Lazy expiry on lookup is what guarantees correctness; the sweep
// only bounds memory growth.
const DefaultCleanupInterval = 5 * time.Minute

// timedEntry wraps a value with its creation time for TTL tracking.
// A zero expiresAt means the entry never expires.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements GrantStore with in-memory maps.
// This implementation is thread-safe and suitable for development and testing.
// For production use, implement a persistent backend behind the same interface.
type MemoryStore struct {
	mu sync.RWMutex

	// codes maps code value -> AuthorizationCode. Codes are one-time-use;
	// ConsumeCode removes the entry whether or not the expiry check passes.
	codes map[string]*timedEntry[*AuthorizationCode]

	// accessTokens maps token value -> AccessToken for O(1) bearer lookup.
	accessTokens map[string]*timedEntry[*AccessToken]

	// refreshTokens maps token value -> RefreshToken. Refresh tokens carry
	// no expiry in this store.
	refreshTokens map[string]*timedEntry[*RefreshToken]

	// cleanupInterval is how often the background cleanup runs
	cleanupInterval time.Duration

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a new MemoryStore instance with initialized maps
// and starts the background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		codes:           make(map[string]*timedEntry[*AuthorizationCode]),
		accessTokens:    make(map[string]*timedEntry[*AccessToken]),
		refreshTokens:   make(map[string]*timedEntry[*RefreshToken]),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Start background cleanup goroutine
	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
// This should be called when the store is no longer needed.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries from the store.
// Uses collect-then-delete: expired keys are collected under the read lock,
// then deleted under the write lock. This minimizes write lock hold time.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredCodes []string
	for k, v := range s.codes {
		if v.expired(now) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredAccessTokens []string
	for k, v := range s.accessTokens {
		if v.expired(now) {
			expiredAccessTokens = append(expiredAccessTokens, k)
		}
	}

	var expiredRefreshTokens []string
	for k, v := range s.refreshTokens {
		if v.expired(now) {
			expiredRefreshTokens = append(expiredRefreshTokens, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredCodes) == 0 &&
		len(expiredAccessTokens) == 0 &&
		len(expiredRefreshTokens) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredAccessTokens {
		delete(s.accessTokens, k)
	}
	for _, k := range expiredRefreshTokens {
		delete(s.refreshTokens, k)
	}
}

// PutCode stores an authorization code keyed by its code value.
func (s *MemoryStore) PutCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	if code.Code == "" {
		return fmt.Errorf("authorization code value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[code.Code] = &timedEntry[*AuthorizationCode]{
		value:     &c,
		createdAt: time.Now(),
		expiresAt: code.ExpiresAt,
	}
	return nil
}

// ConsumeCode atomically retrieves and deletes an authorization code.
// The entry is removed under a single write lock, so at most one of any
// number of concurrent callers can ever observe the code. Expired codes are
// deleted too and reported as ErrNotFound.
func (s *MemoryStore) ConsumeCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		logger.Debugw("authorization code not found")
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.codes, code)

	if entry.expired(time.Now()) {
		logger.Debugw("authorization code expired", "client_id", entry.value.ClientID)
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}

	c := *entry.value
	return &c, nil
}

// PutAccessToken stores an access token keyed by its token value.
func (s *MemoryStore) PutAccessToken(_ context.Context, token *AccessToken) error {
	if token == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	if token.Token == "" {
		return fmt.Errorf("access token value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.accessTokens[token.Token] = &timedEntry[*AccessToken]{
		value:     &t,
		createdAt: time.Now(),
		expiresAt: token.ExpiresAt,
	}
	return nil
}

// GetAccessToken retrieves an access token by its value.
// Returns a defensive copy to prevent aliasing issues.
func (s *MemoryStore) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accessTokens[token]
	if !ok {
		logger.Debugw("access token not found")
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}
	if entry.expired(time.Now()) {
		logger.Debugw("access token expired", "client_id", entry.value.ClientID)
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}

	t := *entry.value
	return &t, nil
}

// RevokeAccessToken deletes an access token. Unknown tokens are a no-op.
func (s *MemoryStore) RevokeAccessToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	return nil
}

// PutRefreshToken stores a refresh token keyed by its token value,
// replacing any existing entry with the same value.
func (s *MemoryStore) PutRefreshToken(_ context.Context, token *RefreshToken) error {
	if token == nil {
		return fmt.Errorf("refresh token cannot be nil")
	}
	if token.Token == "" {
		return fmt.Errorf("refresh token value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.refreshTokens[token.Token] = &timedEntry[*RefreshToken]{
		value:     &t,
		createdAt: time.Now(),
	}
	return nil
}

// GetRefreshToken retrieves a refresh token by its value.
// Returns a defensive copy to prevent aliasing issues.
func (s *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		logger.Debugw("refresh token not found")
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}

	t := *entry.value
	return &t, nil
}

// RevokeRefreshToken deletes a refresh token and its currently linked access
// token. Unknown tokens are a no-op, which keeps revocation idempotent.
func (s *MemoryStore) RevokeRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		return nil
	}
	if entry.value.AccessToken != "" {
		delete(s.accessTokens, entry.value.AccessToken)
	}
	delete(s.refreshTokens, token)
	return nil
}

// Stats contains statistics about the store contents.
type Stats struct {
	Codes         int
	AccessTokens  int
	RefreshTokens int
}

// Stats returns current statistics about store contents.
// This is useful for testing and monitoring.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Codes:         len(s.codes),
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
	}
}

// Compile-time interface compliance check
var _ GrantStore = (*MemoryStore)(nil)
