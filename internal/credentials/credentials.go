// Package credentials stores provider API tokens encrypted at rest with
// XChaCha20-Poly1305. The installation key lives at a fixed path next to
// the database, created once with user-only permissions.
package credentials

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

// ErrCorrupt is returned when a stored ciphertext fails authentication.
// Callers must surface it rather than treating the credential as absent.
var ErrCorrupt = errors.New("credential ciphertext failed authentication")

// Store encrypts and persists provider tokens.
type Store struct {
	db   *store.DB
	aead cipher.AEAD
	now  func() time.Time
}

// Open loads (or generates) the installation key at keyPath and returns a
// credential store backed by db.
func Open(db *store.DB, keyPath string) (*Store, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initialize cipher: %w", err)
	}
	return &Store{db: db, aead: aead, now: time.Now}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, chacha20poly1305.KeySize, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// Put encrypts token and upserts the row for p. baseURL is an optional
// per-provider endpoint override; pass "" to clear it.
func (s *Store) Put(ctx context.Context, p providers.Provider, token, baseURL string) error {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nil, nonce, []byte(token), nil)

	var override any
	if baseURL != "" {
		override = baseURL
	}
	now := store.FormatTime(s.now())
	_, err := s.db.Exec(ctx, `
INSERT INTO credentials(provider, nonce, ciphertext, base_url, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	nonce = excluded.nonce,
	ciphertext = excluded.ciphertext,
	base_url = excluded.base_url,
	updated_at = excluded.updated_at`,
		string(p), nonce, ciphertext, override, now, now)
	if err != nil {
		return fmt.Errorf("store %s credential: %w", p, err)
	}
	return nil
}

// Token decrypts and returns the stored token for p. ok is false when no
// credential exists.
func (s *Store) Token(ctx context.Context, p providers.Provider) (token string, ok bool, err error) {
	var nonce, ciphertext []byte
	err = s.db.QueryRow(ctx,
		"SELECT nonce, ciphertext FROM credentials WHERE provider = ?", string(p),
	).Scan(&nonce, &ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s credential: %w", p, err)
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false, fmt.Errorf("decrypt %s credential: %w", p, ErrCorrupt)
	}
	return string(plaintext), true, nil
}

// Delete removes the credential for p. Deleting a missing credential is not
// an error.
func (s *Store) Delete(ctx context.Context, p providers.Provider) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM credentials WHERE provider = ?", string(p)); err != nil {
		return fmt.Errorf("delete %s credential: %w", p, err)
	}
	return nil
}

// List returns the providers with stored credentials, in enum order.
func (s *Store) List(ctx context.Context) ([]providers.Provider, error) {
	rows, err := s.db.Query(ctx, "SELECT provider FROM credentials")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stored := make(map[providers.Provider]bool)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		p, err := providers.Parse(tag)
		if err != nil {
			// Rows written by a newer build with providers this one does
			// not know about.
			continue
		}
		stored[p] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	var out []providers.Provider
	for _, p := range providers.All() {
		if stored[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// BaseURLOverride returns the per-row endpoint override for p, or "".
func (s *Store) BaseURLOverride(ctx context.Context, p providers.Provider) (string, error) {
	var override sql.NullString
	err := s.db.QueryRow(ctx,
		"SELECT base_url FROM credentials WHERE provider = ?", string(p),
	).Scan(&override)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s base URL: %w", p, err)
	}
	return override.String, nil
}

// ResolveBaseURL picks the endpoint for p: per-row override, then the
// config default, then "" (the adapter falls back to its vendor default).
func (s *Store) ResolveBaseURL(ctx context.Context, p providers.Provider, configDefault string) (string, error) {
	override, err := s.BaseURLOverride(ctx, p)
	if err != nil {
		return "", err
	}
	if override != "" {
		return override, nil
	}
	return configDefault, nil
}
