package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/servineo/client-go/pkg/types"
)

// recordID pins the single-row session table: one session per client.
const recordID = 1

// sessionRecord is the durable shape of the session. The identity snapshot
// is stored as JSON because it is replaced wholesale, never queried by field.
type sessionRecord struct {
	ID           int64  `gorm:"primaryKey"`
	AccessToken  string `gorm:"column:access_token"`
	RefreshToken string `gorm:"column:refresh_token"`
	ExpiresIn    int64  `gorm:"column:expires_in"`
	Identity     []byte `gorm:"column:identity"`
	UpdatedAt    time.Time
}

func (sessionRecord) TableName() string {
	return "session"
}

// Store owns the current token pair and identity snapshot. It is the only
// mutable shared state in the client: one writer role (the token lifecycle
// manager plus login/logout), many readers. Reads come from an in-memory
// copy; every write goes through SQLite first so the session survives
// process restarts.
type Store struct {
	db *gorm.DB

	mu         sync.RWMutex
	tokens     types.TokenPair
	identity   *types.IdentitySnapshot
	generation uint64
}

// Open loads (or creates) the session database at path and primes the cache.
// Use ":memory:" for throwaway stores.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating session db: %w", err)
	}

	s := &Store{db: db}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var rec sessionRecord
	err := s.db.First(&rec, "id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = types.TokenPair{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresIn:    rec.ExpiresIn,
	}
	if len(rec.Identity) > 0 {
		var snap types.IdentitySnapshot
		if err := json.Unmarshal(rec.Identity, &snap); err != nil {
			return fmt.Errorf("decoding identity snapshot: %w", err)
		}
		s.identity = &snap
	}
	return nil
}

// Tokens returns the current pair. Never returns a half-written pair: the
// whole value is swapped under the write lock.
func (s *Store) Tokens() types.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Identity returns a copy of the last-known snapshot, or nil when logged out.
func (s *Store) Identity() *types.IdentitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	snap := *s.identity
	if s.identity.Provider != nil {
		provider := *s.identity.Provider
		snap.Provider = &provider
	}
	return &snap
}

// Generation increments on every Clear. Callers that held work across an
// await can compare generations to detect a logout underneath them.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetTokens atomically replaces the stored pair, keeping the identity as is.
func (s *Store) SetTokens(ctx context.Context, pair types.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, pair, s.identity); err != nil {
		return err
	}
	s.tokens = pair
	return nil
}

// SetIdentity replaces the snapshot wholesale, keeping the tokens as is.
func (s *Store) SetIdentity(ctx context.Context, snap *types.IdentitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, s.tokens, snap); err != nil {
		return err
	}
	s.identity = snap
	return nil
}

// SetSession replaces both the pair and the snapshot in one write. Used by
// login, where both arrive together.
func (s *Store) SetSession(ctx context.Context, pair types.TokenPair, snap *types.IdentitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, pair, snap); err != nil {
		return err
	}
	s.tokens = pair
	s.identity = snap
	return nil
}

// Clear wipes the session, durable record included, and bumps the
// generation. Logout and irrecoverable refresh failure both land here.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithContext(ctx).
		Delete(&sessionRecord{}, "id = ?", recordID).Error
	if err != nil {
		return fmt.Errorf("clearing session record: %w", err)
	}
	s.tokens = types.TokenPair{}
	s.identity = nil
	s.generation++
	return nil
}

// persist upserts the single session row. Caller holds the write lock.
func (s *Store) persist(ctx context.Context, pair types.TokenPair, snap *types.IdentitySnapshot) error {
	var identityJSON []byte
	if snap != nil {
		encoded, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encoding identity snapshot: %w", err)
		}
		identityJSON = encoded
	}

	rec := sessionRecord{
		ID:           recordID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Identity:     identityJSON,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("persisting session record: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
