package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key types. Secret keys stay on the customer's backend; publishable keys are
// embedded in the capture app and may only drive the liveness challenge.
const (
	KeyTypeSecret = "sk"
	KeyTypePublic = "pk"
)

const (
	EnvTest = "test"
	EnvLive = "live"
)

const (
	keySecretLength  = 32
	keyDisplayLength = 14 // sk_live_A1b2C3
	base62Chars      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// largest multiple of 62 that fits in a byte; higher bytes are rejected
	base62Cutoff = 248
)

// APIKey representa uma chave de API para autenticação
type APIKey struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	Name        string     `json:"name"`
	KeyHash     string     `json:"-"`
	KeyPrefix   string     `json:"key_prefix"`
	Environment string     `json:"environment"`
	IsActive    bool       `json:"is_active"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// KeyParts is a plain key split as <type>_<env>_<secret>
type KeyParts struct {
	Type        string
	Environment string
	Secret      string
}

// ParseAPIKey validates the layout of a plain key without touching the database
func ParseAPIKey(key string) (KeyParts, error) {
	fields := strings.SplitN(key, "_", 3)
	if len(fields) != 3 {
		return KeyParts{}, ErrInvalidAPIKeyFormat
	}

	parts := KeyParts{Type: fields[0], Environment: fields[1], Secret: fields[2]}
	if err := checkTypeAndEnv(parts.Type, parts.Environment); err != nil {
		return KeyParts{}, ErrInvalidAPIKeyFormat.WithError(err)
	}
	if len(parts.Secret) != keySecretLength {
		return KeyParts{}, ErrInvalidAPIKeyFormat.WithError(
			fmt.Errorf("secret has %d characters, want %d", len(parts.Secret), keySecretLength))
	}
	if i := strings.IndexFunc(parts.Secret, func(r rune) bool { return !strings.ContainsRune(base62Chars, r) }); i >= 0 {
		return KeyParts{}, ErrInvalidAPIKeyFormat.WithError(fmt.Errorf("invalid character at position %d", i))
	}

	return parts, nil
}

// IsValidFormat reports whether key parses as an API key
func IsValidFormat(key string) bool {
	_, err := ParseAPIKey(key)
	return err == nil
}

// GenerateAPIKey returns (plainKey, hash, displayPrefix). Only the hash is stored.
func GenerateAPIKey(keyType, env string) (string, string, string, error) {
	if err := checkTypeAndEnv(keyType, env); err != nil {
		return "", "", "", err
	}

	secret, err := randomBase62(keySecretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}

	plainKey := keyType + "_" + env + "_" + secret
	return plainKey, HashAPIKey(plainKey), plainKey[:keyDisplayLength], nil
}

// HashAPIKey gera o hash SHA256 de uma API key
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Type returns sk or pk, read from the stored display prefix
func (a *APIKey) Type() string {
	keyType, _, _ := strings.Cut(a.KeyPrefix, "_")
	return keyType
}

// IsSecret reports whether the key may manage webhooks, usage and stored selfies
func (a *APIKey) IsSecret() bool {
	return a.Type() == KeyTypeSecret
}

// Validate checks the fields required before persisting a key
func (a *APIKey) Validate() error {
	switch {
	case a.TenantID == uuid.Nil:
		return errors.New("tenant_id cannot be empty")
	case a.Name == "":
		return errors.New("name cannot be empty")
	case a.KeyHash == "":
		return errors.New("key_hash cannot be empty")
	case a.KeyPrefix == "":
		return errors.New("key_prefix cannot be empty")
	}
	return checkTypeAndEnv(a.Type(), a.Environment)
}

func checkTypeAndEnv(keyType, env string) error {
	if keyType != KeyTypeSecret && keyType != KeyTypePublic {
		return fmt.Errorf("invalid key type %q: must be %q or %q", keyType, KeyTypeSecret, KeyTypePublic)
	}
	if env != EnvTest && env != EnvLive {
		return fmt.Errorf("invalid environment %q: must be %q or %q", env, EnvTest, EnvLive)
	}
	return nil
}

func randomBase62(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= base62Cutoff {
				continue
			}
			out = append(out, base62Chars[b%62])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}
