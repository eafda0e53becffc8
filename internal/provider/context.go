package provider

import (
	"context"

	"github.com/google/uuid"
)

type tenantKey struct{}

// WithTenant attaches the tenant whose frame is being analyzed, for audit records
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant set by WithTenant, or uuid.Nil
func TenantFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(tenantKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
