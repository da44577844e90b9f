// Package auth guards the administrative routes with API keys. Raw keys are
// generated with crypto/rand and only their SHA-256 digest is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

const Schema = `CREATE TABLE IF NOT EXISTS admin_keys (
    id         BIGSERIAL PRIMARY KEY,
    key_hash   TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ
)`

// KeyInfo describes a validated key.
type KeyInfo struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Validator resolves a raw key to its KeyInfo.
type Validator interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// Store keeps admin keys in the admin_keys table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "admin-keys"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.Exec(ctx, Schema)
}

// Validate returns ErrInvalidKey for unknown or revoked keys and
// ErrExpiredKey once expires_at has passed.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var info KeyInfo
	var expiresAt sql.NullTime
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, name, created_at, expires_at
		 FROM admin_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin key: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores a new key and returns the raw value, which cannot be
// recovered later.
func (s *Store) CreateKey(ctx context.Context, name string, expiresAt *time.Time) (string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO admin_keys (key_hash, name, expires_at) VALUES ($1, $2, $3)`,
		HashKey(rawKey), name, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating admin key: %w", err)
	}
	s.logger.Info("admin key created", "name", name)
	return rawKey, nil
}

func (s *Store) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := s.db.DB.ExecContext(ctx,
		`UPDATE admin_keys SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking admin key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	s.logger.Info("admin key revoked")
	return nil
}

// StaticValidator accepts a fixed set of keys; used when no database is
// available and in tests.
type StaticValidator struct {
	mu   sync.RWMutex
	keys map[string]KeyInfo
}

func NewStaticValidator() *StaticValidator {
	return &StaticValidator{keys: make(map[string]KeyInfo)}
}

// Add registers rawKey under name.
func (v *StaticValidator) Add(name, rawKey string, expiresAt *time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[HashKey(rawKey)] = KeyInfo{
		ID:        int64(len(v.keys) + 1),
		Name:      name,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
}

func (v *StaticValidator) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	v.mu.RLock()
	info, ok := v.keys[HashKey(rawKey)]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}
	if info.ExpiresAt != nil && info.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredKey
	}
	return &info, nil
}

// Any accepts a key when any of validators does. Expired keys and lookup
// errors win over ErrInvalidKey so the caller sees the more specific cause.
func Any(validators ...Validator) Validator {
	return anyValidator(validators)
}

type anyValidator []Validator

func (a anyValidator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	last := ErrInvalidKey
	for _, v := range a {
		info, err := v.Validate(ctx, rawKey)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrInvalidKey) {
			last = err
		}
	}
	return nil, last
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating admin key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
