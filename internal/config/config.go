package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/tracking"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`
	DBMaxConns  int32  `envconfig:"DATABASE_MAX_CONNS" default:"25"`

	// Provider
	FaceProvider string `envconfig:"FACE_PROVIDER" default:"mock"`
	DeepFaceURL  string `envconfig:"DEEPFACE_URL" default:"http://localhost:5005"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Security
	// APIKeySecret also signs the per-session stream tokens
	APIKeySecret   string        `envconfig:"API_KEY_SECRET" required:"true"`
	StreamTokenTTL time.Duration `envconfig:"LIVENESS_STREAM_TOKEN_TTL" default:"10m"`
	TenantCacheTTL time.Duration `envconfig:"TENANT_CACHE_TTL" default:"5m"`

	// Liveness challenge
	FrontToleranceDegrees float64       `envconfig:"LIVENESS_FRONT_TOLERANCE_DEGREES" default:"12"`
	TurnThresholdDegrees  float64       `envconfig:"LIVENESS_TURN_THRESHOLD_DEGREES" default:"36"`
	SmileThreshold        float64       `envconfig:"LIVENESS_SMILE_THRESHOLD" default:"0.6"`
	Cooldown              time.Duration `envconfig:"LIVENESS_COOLDOWN" default:"2s"`
	SessionTTL            time.Duration `envconfig:"LIVENESS_SESSION_TTL" default:"10m"`
	SessionsPerMinute     int           `envconfig:"LIVENESS_SESSIONS_PER_MINUTE" default:"60"`
	// InvertYaw flips the yaw sign for providers whose convention is mirrored
	InvertYaw bool `envconfig:"LIVENESS_INVERT_YAW" default:"false"`
	// FramesPerSecond limits frame ingestion per WebSocket stream
	FramesPerSecond float64 `envconfig:"LIVENESS_FRAMES_PER_SECOND" default:"15"`
	// SessionIdleEviction drops in-memory state of idle sessions, reloaded from postgres on the next frame
	SessionIdleEviction time.Duration `envconfig:"LIVENESS_SESSION_IDLE_EVICTION" default:"5m"`
	JanitorInterval     time.Duration `envconfig:"JANITOR_INTERVAL" default:"1m"`

	// Usage
	UsageFlushInterval time.Duration `envconfig:"USAGE_FLUSH_INTERVAL" default:"30s"`
	QuotaCheckInterval time.Duration `envconfig:"QUOTA_CHECK_INTERVAL" default:"1h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Liveness().Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.FramesPerSecond <= 0 {
		return nil, fmt.Errorf("load config: LIVENESS_FRAMES_PER_SECOND must be positive")
	}
	return &cfg, nil
}

// Liveness returns the challenge thresholds as a liveness.Config
func (c *Config) Liveness() liveness.Config {
	return liveness.Config{
		FrontToleranceDegrees: c.FrontToleranceDegrees,
		TurnThresholdDegrees:  c.TurnThresholdDegrees,
		SmileThreshold:        c.SmileThreshold,
		Cooldown:              c.Cooldown,
	}
}

// Tracking returns the matching parameters of the server-side face tracker
func (c *Config) Tracking() tracking.Config {
	cfg := tracking.DefaultConfig()
	cfg.InvertYaw = c.InvertYaw
	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
