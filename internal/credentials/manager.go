// Package credentials exchanges a workspace's stored Dropbox credential for a
// short-lived access token. Refresh tokens are held encrypted at rest; the
// decryption key is injected through Config, never read from the environment
// at call time.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/framebooth/api/internal/client"
)

// ErrReauthRequired means the provider permanently rejected the stored
// refresh token and the integration must be reconnected by the user. Any
// other refresh failure is transient and propagates as an ordinary error.
var ErrReauthRequired = errors.New("credentials: reauthorization required")

// TokenRefresher is the provider-side exchange the manager delegates to
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Config holds the key material for stored-token decryption
type Config struct {
	// TokenKey is the base64-encoded 32-byte AES key refresh tokens are
	// sealed with.
	TokenKey string
}

// Manager decrypts stored refresh tokens and exchanges them for access tokens
type Manager struct {
	refresher TokenRefresher
	key       []byte
}

// NewManager creates a credential manager. The key is decoded once here so a
// malformed key fails at startup, not mid-export.
func NewManager(cfg Config, refresher TokenRefresher) (*Manager, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("invalid token key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(key))
	}
	return &Manager{refresher: refresher, key: key}, nil
}

// Refresh decrypts the stored refresh token and exchanges it for an access
// token. Returns ErrReauthRequired when the provider reports the grant as
// permanently invalid.
func (m *Manager) Refresh(ctx context.Context, encryptedRefreshToken string) (string, error) {
	refreshToken, err := m.decrypt(encryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	accessToken, err := m.refresher.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, client.ErrInvalidGrant) {
			return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	return accessToken, nil
}

// decrypt opens a base64(nonce || ciphertext) AES-GCM sealed token
func (m *Manager) decrypt(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid token encoding: %w", err)
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("sealed token too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed token: %w", err)
	}
	return string(plain), nil
}

// Seal encrypts a refresh token for storage. Used by the integration connect
// flow and by tests.
func (m *Manager) Seal(refreshToken string) (string, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(refreshToken), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}
