package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

// Plan types
const (
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

const maxSlugLength = 63

var (
	plans = []string{PlanStarter, PlanPro, PlanEnterprise}

	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// Tenant representa um cliente B2B do sistema
type Tenant struct {
	ID        uuid.UUID              `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	IsActive  bool                   `json:"is_active"`
	Plan      string                 `json:"plan"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// TenantSettings is the typed view of Tenant.Settings. Zero values mean
// "use the server default" wherever a default exists.
type TenantSettings struct {
	LivenessCooldownMs     int     `json:"liveness_cooldown_ms"`
	LivenessSmileThreshold float64 `json:"liveness_smile_threshold"`
	// RequireSelfieCheck executa a checagem passiva na selfie capturada
	RequireSelfieCheck bool    `json:"require_selfie_check"`
	SelfieThreshold    float64 `json:"selfie_threshold"`
	SessionsPerMinute  int     `json:"sessions_per_minute"`
	// ServerSideDetection habilita o envio de frames para detecção no servidor
	ServerSideDetection bool `json:"server_side_detection"`
}

// DefaultTenantSettings retorna configurações padrão
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		RequireSelfieCheck:  true,
		SelfieThreshold:     0.5,
		ServerSideDetection: true,
	}
}

// GetSettings overlays the stored settings on the defaults. Values of the
// wrong type or out of range fall back to the default for that field.
func (t *Tenant) GetSettings() TenantSettings {
	settings := DefaultTenantSettings()
	if len(t.Settings) == 0 {
		return settings
	}

	for key, value := range t.Settings {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		_ = settings.set(key, raw)
	}

	return settings
}

func (s *TenantSettings) set(key string, raw json.RawMessage) error {
	switch key {
	case "liveness_cooldown_ms":
		return decodeIf(raw, &s.LivenessCooldownMs, func(v int) bool { return v >= 0 })
	case "liveness_smile_threshold":
		return decodeIf(raw, &s.LivenessSmileThreshold, inUnitRange)
	case "require_selfie_check":
		return decodeIf(raw, &s.RequireSelfieCheck, nil)
	case "selfie_threshold":
		return decodeIf(raw, &s.SelfieThreshold, inUnitRange)
	case "sessions_per_minute":
		return decodeIf(raw, &s.SessionsPerMinute, func(v int) bool { return v >= 0 })
	case "server_side_detection":
		return decodeIf(raw, &s.ServerSideDetection, nil)
	}
	return nil
}

func decodeIf[T any](raw json.RawMessage, dst *T, ok func(T) bool) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if ok != nil && !ok(v) {
		return fmt.Errorf("value %s out of range", raw)
	}
	*dst = v
	return nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// ApplyLiveness aplica os overrides do tenant sobre a configuração global
func (s TenantSettings) ApplyLiveness(cfg liveness.Config) liveness.Config {
	if s.LivenessCooldownMs > 0 {
		cfg.Cooldown = time.Duration(s.LivenessCooldownMs) * time.Millisecond
	}
	if s.LivenessSmileThreshold > 0 && s.LivenessSmileThreshold <= 1 {
		cfg.SmileThreshold = s.LivenessSmileThreshold
	}
	return cfg
}

// Validate reports every problem of the tenant at once
func (t *Tenant) Validate() error {
	var errs []error

	if t.Name == "" {
		errs = append(errs, errors.New("tenant name cannot be empty"))
	}

	switch {
	case t.Slug == "":
		errs = append(errs, errors.New("tenant slug cannot be empty"))
	case len(t.Slug) > maxSlugLength:
		errs = append(errs, fmt.Errorf("tenant slug longer than %d characters", maxSlugLength))
	case !slugRegex.MatchString(t.Slug):
		errs = append(errs, errors.New("tenant slug must contain only lowercase letters, numbers and hyphens"))
	}

	if !IsValidPlan(t.Plan) {
		errs = append(errs, fmt.Errorf("invalid plan type %q", t.Plan))
	}

	return errors.Join(errs...)
}

// IsValidPlan verifica se o plano é válido
func IsValidPlan(plan string) bool {
	return slices.Contains(plans, plan)
}
