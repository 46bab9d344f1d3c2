package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "warrantynotify"

// ErrNoToken is returned when no token is stored for the backend.
var ErrNoToken = errors.New("no stored session token")

// TokenStore persists the session token per backend host in the system
// keyring.
type TokenStore struct {
	ring keyring.Keyring
}

// OpenTokenStore opens the platform keyring.
func OpenTokenStore() (*TokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/warrantynotify/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("warrantynotify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &TokenStore{ring: ring}, nil
}

// NewTokenStore wraps an existing keyring, e.g. keyring.NewArrayKeyring
// in tests.
func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

// tokenKey scopes the token to the API host so switching backends does
// not reuse a foreign session.
func tokenKey(apiBase string) string {
	host := apiBase
	if u, err := url.Parse(apiBase); err == nil && u.Host != "" {
		host = u.Host
	}
	return "auth_token:" + strings.ToLower(host)
}

// Get retrieves the token stored for apiBase.
func (s *TokenStore) Get(apiBase string) (string, error) {
	item, err := s.ring.Get(tokenKey(apiBase))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("getting session token: %w", err)
	}
	return string(item.Data), nil
}

// Set stores the token for apiBase.
func (s *TokenStore) Set(apiBase, token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   tokenKey(apiBase),
		Data:  []byte(token),
		Label: "Warranty portal session",
	})
	if err != nil {
		return fmt.Errorf("setting session token: %w", err)
	}
	return nil
}

// Delete removes the token stored for apiBase. A missing token is not
// an error.
func (s *TokenStore) Delete(apiBase string) error {
	err := s.ring.Remove(tokenKey(apiBase))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting session token: %w", err)
	}
	return nil
}
