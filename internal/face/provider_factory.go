// Package face picks the face analysis backend used for server-side frame
// analysis and the passive selfie check.
package face

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/audit"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/config"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider/rekognition"
)

// ProviderType is the value of FACE_PROVIDER
type ProviderType string

const (
	// ProviderTypeMock returns scripted faces (local dev, tests)
	ProviderTypeMock ProviderType = "mock"
	// ProviderTypeDeepFace is the self-hosted DeepFace API
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeRekognition is AWS Rekognition (prod)
	ProviderTypeRekognition ProviderType = "rekognition"
)

type options struct {
	auditLogger audit.Logger
}

type Option func(*options)

// WithAuditLogger attaches an audit logger to providers that support it
func WithAuditLogger(logger audit.Logger) Option {
	return func(o *options) {
		o.auditLogger = logger
	}
}

type builder func(ctx context.Context, cfg *config.Config, o options) (provider.FaceProvider, error)

var builders = map[ProviderType]builder{
	ProviderTypeMock: func(context.Context, *config.Config, options) (provider.FaceProvider, error) {
		return mock.New(), nil
	},
	ProviderTypeDeepFace: func(_ context.Context, cfg *config.Config, _ options) (provider.FaceProvider, error) {
		return deepface.NewProvider(deepfaceConfig(cfg)), nil
	},
	ProviderTypeRekognition: func(ctx context.Context, cfg *config.Config, o options) (provider.FaceProvider, error) {
		var popts []rekognition.ProviderOption
		if o.auditLogger != nil {
			popts = append(popts, rekognition.WithAuditLogger(o.auditLogger))
		}
		p, err := rekognition.NewProvider(ctx, rekognitionConfig(cfg), popts...)
		if err != nil {
			return nil, fmt.Errorf("create rekognition provider: %w", err)
		}
		return p, nil
	},
}

// NewFaceProvider builds the provider named by cfg.FaceProvider; empty means
// mock. A single instance serves every tenant, tenant attribution travels in
// the context (see provider.WithTenant).
func NewFaceProvider(ctx context.Context, cfg *config.Config, opts ...Option) (provider.FaceProvider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	kind := ProviderType(cfg.FaceProvider)
	if kind == "" {
		kind = ProviderTypeMock
	}

	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s)", cfg.FaceProvider, strings.Join(supported(), ", "))
	}
	return build(ctx, cfg, o)
}

func supported() []string {
	names := make([]string, 0, len(builders))
	for k := range builders {
		names = append(names, string(k))
	}
	slices.Sort(names)
	return names
}

func deepfaceConfig(cfg *config.Config) deepface.Config {
	c := deepface.DefaultConfig()
	if cfg.DeepFaceURL != "" {
		c.BaseURL = cfg.DeepFaceURL
	}
	if cfg.FrontToleranceDegrees > 0 {
		c.FrontToleranceDegrees = cfg.FrontToleranceDegrees
	}
	return c
}

func rekognitionConfig(cfg *config.Config) rekognition.Config {
	c := rekognition.DefaultConfig()
	if cfg.AWSRegion != "" {
		c.Region = cfg.AWSRegion
	}
	if cfg.FrontToleranceDegrees > 0 {
		c.FrontToleranceDegrees = cfg.FrontToleranceDegrees
	}
	return c
}
