package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/database"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/repository"
)

// settingFlags collects repeated -set name=value pairs
type settingFlags map[string]interface{}

func (s settingFlags) String() string { return fmt.Sprint(map[string]interface{}(s)) }

// Set parses value as JSON, falling back to a plain string. An empty value
// removes the setting.
func (s settingFlags) Set(pair string) error {
	name, value, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", pair)
	}
	if value == "" {
		s[name] = nil
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	s[name] = v
	return nil
}

type options struct {
	public    bool
	test      bool
	tenant    string
	name      string
	newTenant string
	plan      string
	revoke    string
	settings  settingFlags
	noNewKey  bool
}

func main() {
	opts := options{settings: settingFlags{}}
	flag.BoolVar(&opts.public, "public", false, "Generate a publishable (pk) key instead of a secret one")
	flag.BoolVar(&opts.test, "test", false, "Generate a test environment key")
	flag.StringVar(&opts.tenant, "tenant", "", "Tenant ID or slug; when set the key is stored using DATABASE_URL")
	flag.StringVar(&opts.name, "name", "default", "Key name when storing")
	flag.StringVar(&opts.newTenant, "create-tenant", "", "Create a tenant with this name; -tenant is its slug")
	flag.StringVar(&opts.plan, "plan", domain.PlanStarter, "Plan of the created tenant")
	flag.StringVar(&opts.revoke, "revoke", "", "Revoke the key with this ID instead of generating one")
	flag.Var(opts.settings, "set", "Merge a tenant setting, name=value (repeatable, empty value removes)")
	flag.BoolVar(&opts.noNewKey, "no-key", false, "Only create the tenant or change settings")
	flag.Parse()

	// Positional form kept for scripts: genkey [pk] [test]
	args := flag.Args()
	if len(args) > 0 && args[0] == "pk" {
		opts.public = true
	}
	if len(args) > 1 && args[1] == "test" {
		opts.test = true
	}

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.tenant == "" {
		if opts.revoke != "" || opts.newTenant != "" || len(opts.settings) > 0 {
			return errors.New("-tenant is required")
		}
		_, err := generate(opts)
		return err
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}
	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(dsn))
	if err != nil {
		return err
	}
	defer pool.Close()

	tenants := repository.NewTenantRepository(pool)
	keys := repository.NewAPIKeyRepository(pool)

	tenant, err := resolveTenant(ctx, tenants, opts)
	if err != nil {
		return err
	}
	fmt.Printf("TENANT=%s\n", tenant.ID)

	if opts.revoke != "" {
		keyID, err := uuid.Parse(opts.revoke)
		if err != nil {
			return fmt.Errorf("invalid key id: %w", err)
		}
		if err := keys.Revoke(ctx, tenant.ID, keyID); err != nil {
			return fmt.Errorf("revoke key: %w", err)
		}
		fmt.Printf("REVOKED=%s\n", keyID)
		return nil
	}

	if len(opts.settings) > 0 {
		merged, err := tenants.MergeSettings(ctx, tenant.ID, opts.settings)
		if err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		out, _ := json.Marshal(merged)
		fmt.Printf("SETTINGS=%s\n", out)
	}

	if opts.noNewKey {
		return nil
	}

	apiKey, err := generate(opts)
	if err != nil {
		return err
	}
	apiKey.TenantID = tenant.ID
	if err := keys.Create(ctx, apiKey); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	fmt.Printf("ID=%s\n", apiKey.ID)

	return nil
}

// resolveTenant accepts an ID or a slug, creating the tenant when asked to
func resolveTenant(ctx context.Context, tenants *repository.TenantRepository, opts options) (*domain.Tenant, error) {
	if opts.newTenant != "" {
		tenant := &domain.Tenant{
			Name:     opts.newTenant,
			Slug:     opts.tenant,
			Plan:     opts.plan,
			IsActive: true,
		}
		if err := tenants.Create(ctx, tenant); err != nil {
			return nil, fmt.Errorf("create tenant: %w", err)
		}
		return tenant, nil
	}

	if id, err := uuid.Parse(opts.tenant); err == nil {
		return tenants.GetByID(ctx, id)
	}
	return tenants.GetBySlug(ctx, opts.tenant)
}

func generate(opts options) (*domain.APIKey, error) {
	keyType := domain.KeyTypeSecret
	if opts.public {
		keyType = domain.KeyTypePublic
	}
	env := domain.EnvLive
	if opts.test {
		env = domain.EnvTest
	}

	key, hash, prefix, err := domain.GenerateAPIKey(keyType, env)
	if err != nil {
		return nil, err
	}
	fmt.Printf("KEY=%s\nHASH=%s\nPREFIX=%s\n", key, hash, prefix)

	return &domain.APIKey{
		Name:        opts.name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Environment: env,
		IsActive:    true,
	}, nil
}
