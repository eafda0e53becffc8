package rekognition

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/audit"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	// minImageSize is the minimum image size for valid processing
	minImageSize = 100
)

// Provider implements the provider.FaceProvider interface using AWS Rekognition.
// It is shared by all tenants; the tenant for audit records comes from the context.
type Provider struct {
	client      *Client
	auditLogger audit.Logger
}

// ProviderOption defines optional configuration for Provider
type ProviderOption func(*Provider)

// WithAuditLogger sets the audit logger for the provider
func WithAuditLogger(logger audit.Logger) ProviderOption {
	return func(p *Provider) {
		p.auditLogger = logger
	}
}

// Ensure Provider implements provider.FaceProvider interface at compile time
var _ provider.FaceProvider = (*Provider)(nil)

// NewProvider creates a new Rekognition provider
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create rekognition client: %w", err)
	}

	return newProvider(client, opts...), nil
}

func newProvider(client *Client, opts ...ProviderOption) *Provider {
	p := &Provider{client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// logAudit logs an audit event if an audit logger is configured
// Audit failure does not affect the operation (fire-and-forget)
func (p *Provider) logAudit(ctx context.Context, eventType audit.EventType, success bool, err error, metadata map[string]string) {
	if p.auditLogger == nil {
		return
	}

	event := audit.Event{
		TenantID:  provider.TenantFromContext(ctx),
		EventType: eventType,
		Provider:  "rekognition",
		Success:   success,
		Metadata:  metadata,
	}

	if err != nil {
		event.Error = err.Error()
	}

	_ = p.auditLogger.Log(ctx, event)
}

// validateImage checks if image data is valid for Rekognition processing
func validateImage(image []byte) error {
	if len(image) == 0 {
		return ErrInvalidImage
	}
	if len(image) < minImageSize {
		return fmt.Errorf("%w: image too small (%d bytes, minimum %d)", ErrInvalidImage, len(image), minImageSize)
	}
	if len(image) > maxImageSize {
		return fmt.Errorf("%w: image too large (%d bytes, maximum %d)", ErrInvalidImage, len(image), maxImageSize)
	}
	return nil
}

// DetectFaces detects faces in a frame using AWS Rekognition DetectFaces API.
// Returns an empty slice if no faces are detected (not an error).
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	tenantID := provider.TenantFromContext(ctx)

	if err := validateImage(image); err != nil {
		p.logAudit(ctx, audit.EventFaceDetected, false, err, map[string]string{
			"image_size": strconv.Itoa(len(image)),
		})
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	input := &rekognition.DetectFacesInput{
		Image: &types.Image{
			Bytes: image,
		},
		Attributes: []types.Attribute{types.AttributeAll},
	}

	output, err := p.client.rekognition.DetectFaces(ctx, input)
	if err != nil {
		parsed := parseAPIError(err)
		p.logAudit(ctx, audit.EventFaceDetected, false, parsed, map[string]string{
			"image_size": strconv.Itoa(len(image)),
		})
		return nil, fmt.Errorf("tenant %s: detect faces: %w", tenantID, parsed)
	}

	faces := make([]provider.DetectedFace, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		face, ok := p.convertFaceDetail(detail)
		if !ok {
			continue
		}
		faces = append(faces, face)
	}

	p.logAudit(ctx, audit.EventFaceDetected, true, nil, map[string]string{
		"faces_count": strconv.Itoa(len(faces)),
		"image_size":  strconv.Itoa(len(image)),
	})

	return faces, nil
}

// CheckLiveness runs passive checks on the captured selfie
func (p *Provider) CheckLiveness(ctx context.Context, image []byte, threshold float64) (*provider.LivenessResult, error) {
	faces, err := p.DetectFaces(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("check liveness: %w", err)
	}

	result := provider.EvaluateSelfie(faces, threshold, p.client.config.FrontToleranceDegrees)

	p.logAudit(ctx, audit.EventSelfieChecked, result.IsLive, nil, map[string]string{
		"confidence":  fmt.Sprintf("%.4f", result.Confidence),
		"faces_count": strconv.Itoa(len(faces)),
	})

	return result, nil
}

// convertFaceDetail maps a Rekognition face to provider.DetectedFace.
// Confidence is normalized to 0-1; detections without a box or below
// MinConfidence are skipped.
func (p *Provider) convertFaceDetail(detail types.FaceDetail) (provider.DetectedFace, bool) {
	if detail.BoundingBox == nil {
		return provider.DetectedFace{}, false
	}

	confidence := float64(deref(detail.Confidence))
	if confidence < p.client.config.MinConfidence {
		return provider.DetectedFace{}, false
	}

	face := provider.DetectedFace{
		BoundingBox: provider.BoundingBox{
			X:      float64(deref(detail.BoundingBox.Left)),
			Y:      float64(deref(detail.BoundingBox.Top)),
			Width:  float64(deref(detail.BoundingBox.Width)),
			Height: float64(deref(detail.BoundingBox.Height)),
		},
		Confidence:   confidence / 100.0,
		QualityScore: calculateQualityScore(detail.Quality),
	}

	if detail.Pose != nil {
		face.Pose = &provider.Pose{
			Pitch: float64(deref(detail.Pose.Pitch)),
			Roll:  float64(deref(detail.Pose.Roll)),
			Yaw:   float64(deref(detail.Pose.Yaw)),
		}
	}

	if detail.Smile != nil && detail.Smile.Confidence != nil {
		smile := smileProbability(detail.Smile.Value, float64(*detail.Smile.Confidence))
		face.SmileProbability = &smile
	}

	if detail.EyesOpen != nil {
		open := detail.EyesOpen.Value
		face.EyesOpen = &open
	}

	return face, true
}

// smileProbability converts Rekognition's (value, confidence) pair into a
// probability that the subject is smiling
func smileProbability(smiling bool, confidence float64) float64 {
	c := confidence / 100.0
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	if smiling {
		return c
	}
	return 1 - c
}

// calculateQualityScore computes an overall quality score from Rekognition quality metrics
// Returns a score between 0.0 (poor quality) and 1.0 (excellent quality)
func calculateQualityScore(quality *types.ImageQuality) float64 {
	if quality == nil {
		return 0.0
	}

	brightness := float64(deref(quality.Brightness)) / 100.0
	sharpness := float64(deref(quality.Sharpness)) / 100.0

	// Weight sharpness more heavily, blur hides head turns
	return brightness*0.3 + sharpness*0.7
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
