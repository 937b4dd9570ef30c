package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/tjfontaine/feedfilter/internal/config"
)

var (
	ErrMissingKey = errors.New("missing room key")
	ErrInvalidKey = errors.New("invalid room key")
)

// Key is an accepted room key, identified by its hash.
type Key struct {
	Hash        string
	Description string
}

// Authenticator validates room keys against stored SHA-256 hashes.
type Authenticator struct {
	keys []Key
}

// NewAuthenticator accepts every key in cfg. A plain APIKey is hashed on
// load so only hashes are held.
func NewAuthenticator(cfg config.RoomConfig) *Authenticator {
	a := &Authenticator{}
	if cfg.APIKey != "" {
		a.keys = append(a.keys, Key{Hash: HashAPIKey(cfg.APIKey), Description: "room.api_key"})
	}
	for _, k := range cfg.APIKeys {
		a.keys = append(a.keys, Key{Hash: strings.ToLower(k.KeyHash), Description: k.Description})
	}
	return a
}

// Validate returns the matching key. Every stored hash is compared so the
// time taken does not depend on which key matched.
func (a *Authenticator) Validate(apiKey string) (Key, error) {
	if apiKey == "" {
		return Key{}, ErrMissingKey
	}
	hash := []byte(HashAPIKey(apiKey))

	var match Key
	found := 0
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(hash, []byte(k.Hash)) == 1 {
			match = k
			found = 1
		}
	}
	if found == 0 {
		return Key{}, ErrInvalidKey
	}
	return match, nil
}

// ExtractAPIKey reads the key from a Bearer Authorization header, or from
// the token query parameter for clients that cannot set headers on a
// WebSocket upgrade.
func ExtractAPIKey(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 {
			return "", errors.New("invalid Authorization header format")
		}
		if strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("unsupported authorization scheme")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingKey
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
