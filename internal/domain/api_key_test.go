package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		keyType string
		env     string
		wantErr bool
	}{
		{name: "secret test key", keyType: KeyTypeSecret, env: EnvTest},
		{name: "secret live key", keyType: KeyTypeSecret, env: EnvLive},
		{name: "publishable test key", keyType: KeyTypePublic, env: EnvTest},
		{name: "unknown key type", keyType: "rk", env: EnvTest, wantErr: true},
		{name: "unknown environment", keyType: KeyTypeSecret, env: "prod", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plainKey, hash, prefix, err := GenerateAPIKey(tt.keyType, tt.env)
			if tt.wantErr {
				if err == nil {
					t.Fatal("GenerateAPIKey() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateAPIKey() unexpected error: %v", err)
			}

			want := tt.keyType + "_" + tt.env + "_"
			if !strings.HasPrefix(plainKey, want) {
				t.Errorf("plainKey = %s, want prefix %s", plainKey, want)
			}
			if len(plainKey) != len(want)+keySecretLength {
				t.Errorf("plainKey length = %d, want %d", len(plainKey), len(want)+keySecretLength)
			}
			if hash != HashAPIKey(plainKey) {
				t.Errorf("hash does not match HashAPIKey(plainKey)")
			}
			if prefix != plainKey[:keyDisplayLength] {
				t.Errorf("prefix = %s, want %s", prefix, plainKey[:keyDisplayLength])
			}

			parts, err := ParseAPIKey(plainKey)
			if err != nil {
				t.Fatalf("generated key does not parse: %v", err)
			}
			if parts.Type != tt.keyType || parts.Environment != tt.env {
				t.Errorf("parts = %+v", parts)
			}
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	key := "sk_test_" + strings.Repeat("Z", keySecretLength)

	if HashAPIKey(key) != HashAPIKey(key) {
		t.Error("hash is not deterministic")
	}
	if len(HashAPIKey(key)) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA256 hex)", len(HashAPIKey(key)))
	}
	if HashAPIKey(key) == HashAPIKey("pk"+key[2:]) {
		t.Error("secret and publishable keys with the same secret must hash differently")
	}
}

func TestParseAPIKey(t *testing.T) {
	secret := strings.Repeat("A", keySecretLength)

	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{name: "secret live key", key: "sk_live_" + secret, ok: true},
		{name: "publishable test key", key: "pk_test_" + secret, ok: true},
		{name: "legacy rekko prefix", key: "rekko_test_" + secret},
		{name: "unknown environment", key: "sk_prod_" + secret},
		{name: "too short", key: "sk_test_ABC"},
		{name: "too long", key: "sk_test_" + secret + "BB"},
		{name: "invalid characters", key: "sk_test_" + strings.Repeat("!", keySecretLength)},
		{name: "underscore in secret", key: "sk_test_" + secret[:31] + "_"},
		{name: "missing parts", key: "sk_test"},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAPIKey(tt.key)
			if tt.ok {
				if err != nil {
					t.Errorf("ParseAPIKey() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidAPIKeyFormat) {
				t.Errorf("ParseAPIKey() error = %v, want ErrInvalidAPIKeyFormat", err)
			}
			if IsValidFormat(tt.key) {
				t.Errorf("IsValidFormat(%q) = true", tt.key)
			}
		})
	}
}

func TestAPIKey_Type(t *testing.T) {
	tests := []struct {
		prefix   string
		keyType  string
		isSecret bool
	}{
		{prefix: "sk_live_A1b2C3", keyType: KeyTypeSecret, isSecret: true},
		{prefix: "pk_test_A1b2C3", keyType: KeyTypePublic, isSecret: false},
		{prefix: "", keyType: "", isSecret: false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			key := &APIKey{KeyPrefix: tt.prefix}
			if got := key.Type(); got != tt.keyType {
				t.Errorf("Type() = %q, want %q", got, tt.keyType)
			}
			if got := key.IsSecret(); got != tt.isSecret {
				t.Errorf("IsSecret() = %v, want %v", got, tt.isSecret)
			}
		})
	}
}

func TestAPIKey_Validate(t *testing.T) {
	valid := func() APIKey {
		return APIKey{
			TenantID:    uuid.New(),
			Name:        "Mobile app",
			KeyHash:     "hash123",
			KeyPrefix:   "pk_test_ABCDEF",
			Environment: EnvTest,
		}
	}

	tests := []struct {
		name    string
		mutate  func(k *APIKey)
		wantErr bool
	}{
		{name: "valid api key", mutate: func(k *APIKey) {}},
		{name: "missing tenant_id", mutate: func(k *APIKey) { k.TenantID = uuid.Nil }, wantErr: true},
		{name: "missing name", mutate: func(k *APIKey) { k.Name = "" }, wantErr: true},
		{name: "missing key_hash", mutate: func(k *APIKey) { k.KeyHash = "" }, wantErr: true},
		{name: "missing key_prefix", mutate: func(k *APIKey) { k.KeyPrefix = "" }, wantErr: true},
		{name: "unknown key type", mutate: func(k *APIKey) { k.KeyPrefix = "xx_test_ABCDEF" }, wantErr: true},
		{name: "invalid environment", mutate: func(k *APIKey) { k.Environment = "invalid" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := valid()
			tt.mutate(&key)

			err := key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		plainKey, _, _, err := GenerateAPIKey(KeyTypePublic, EnvLive)
		if err != nil {
			t.Fatalf("GenerateAPIKey() failed: %v", err)
		}
		if seen[plainKey] {
			t.Fatalf("duplicate key generated: %s", plainKey)
		}
		seen[plainKey] = true
	}
}
