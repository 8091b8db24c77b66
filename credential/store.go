// Package credential persists the session's access and refresh tokens.
//
// A Store owns the credential keys of one session on top of any Medium
// (memory, file, Redis, SQLite). Reads never fail: an unreadable medium is
// reported as an empty session so callers re-authenticate instead of trusting
// a value they could not read. A pair is written whole or not at all.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Keys owned by a Store.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIssuedAt     = "issued_at"
	KeyUserProfile  = "user_profile"
)

var ownedKeys = []string{KeyAccessToken, KeyRefreshToken, KeyIssuedAt, KeyUserProfile}

// Pair is a complete set of session credentials.
type Pair struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
}

// Store reads and writes session credentials on a Medium.
type Store struct {
	medium Medium
	log    zerolog.Logger
	now    func() time.Time

	mu sync.RWMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for degraded reads and failed writes.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// WithClock overrides the clock used for issued_at timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store backed by medium.
func NewStore(medium Medium, opts ...StoreOption) *Store {
	s := &Store{
		medium: medium,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists both tokens, replacing any previous pair. On a partial write
// every owned key is removed so no half pair survives.
func (s *Store) Save(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return errors.New("credential pair requires both tokens")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writes := []struct{ key, value string }{
		{KeyRefreshToken, refreshToken},
		{KeyAccessToken, accessToken},
		{KeyIssuedAt, s.now().UTC().Format(time.RFC3339)},
	}

	if batch, ok := s.medium.(BatchSetter); ok {
		values := make(map[string]string, len(writes))
		for _, w := range writes {
			values[w.key] = w.value
		}
		if err := batch.SetMany(ctx, values); err != nil {
			s.log.Warn().Err(err).Msg("credential write failed, clearing session")
			if clearErr := s.clearLocked(ctx); clearErr != nil {
				s.log.Error().Err(clearErr).Msg("failed to clear partial credentials")
			}
			return fmt.Errorf("%w: write pair: %v", ErrStorageUnavailable, err)
		}
		return nil
	}

	for _, w := range writes {
		if err := s.medium.Set(ctx, w.key, w.value); err != nil {
			s.log.Warn().Err(err).Str("key", w.key).Msg("credential write failed, clearing session")
			if clearErr := s.clearLocked(ctx); clearErr != nil {
				s.log.Error().Err(clearErr).Msg("failed to clear partial credentials")
			}
			return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, w.key, err)
		}
	}
	return nil
}

// Access returns the stored access token.
func (s *Store) Access(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, KeyAccessToken)
}

// Refresh returns the stored refresh token.
func (s *Store) Refresh(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, KeyRefreshToken)
}

// Pair returns a consistent snapshot of the stored credentials. It reports
// false unless both tokens are present.
func (s *Store) Pair(ctx context.Context) (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	access, ok := s.read(ctx, KeyAccessToken)
	if !ok {
		return Pair{}, false
	}
	refresh, ok := s.read(ctx, KeyRefreshToken)
	if !ok {
		return Pair{}, false
	}

	pair := Pair{AccessToken: access, RefreshToken: refresh}
	if raw, ok := s.read(ctx, KeyIssuedAt); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			pair.IssuedAt = ts
		}
	}
	return pair, true
}

// SaveProfile caches the user profile returned at login. The cache is
// advisory: it is never used for authorization decisions.
func (s *Store) SaveProfile(ctx context.Context, profile json.RawMessage) error {
	if !json.Valid(profile) {
		return errors.New("profile is not valid JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.medium.Set(ctx, KeyUserProfile, string(profile)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, KeyUserProfile, err)
	}
	return nil
}

// Profile returns the cached profile, if any.
func (s *Store) Profile(ctx context.Context) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.read(ctx, KeyUserProfile)
	if !ok {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// Clear removes the tokens and all derived session metadata. Clearing an
// empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	var errs []error
	for _, key := range ownedKeys {
		if err := s.medium.Remove(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, errors.Join(errs...))
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, err := s.medium.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("credential read failed, treating session as empty")
		}
		return "", false
	}
	if v == "" {
		return "", false
	}
	return v, true
}
