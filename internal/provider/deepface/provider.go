package deepface

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
)

const (
	// minFaceArea is the minimum face area (in pixels²) for reliable detection
	minFaceArea = 2500 // 50x50 pixels
	// maxFaceArea is used for confidence scaling
	maxFaceArea = 250000 // 500x500 pixels
)

// Provider implements provider.FaceProvider using DeepFace API
type Provider struct {
	client *Client
}

// NewProvider creates a new DeepFace provider
func NewProvider(config Config) *Provider {
	return &Provider{
		client: NewClient(config),
	}
}

// DetectFaces detects faces in the frame. DeepFace has no head pose model,
// so yaw is estimated from the eye landmarks and the smile probability is
// the "happy" emotion score.
func (p *Provider) DetectFaces(ctx context.Context, img []byte) ([]provider.DetectedFace, error) {
	imageBase64 := base64.StdEncoding.EncodeToString(img)

	resp, err := p.client.Analyze(ctx, imageBase64)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	frameWidth := imageWidth(img)

	faces := make([]provider.DetectedFace, 0, len(resp.Results))
	for _, result := range resp.Results {
		area := result.Region
		if area.W <= 0 || area.H <= 0 {
			continue
		}

		// Calculate confidence based on face area when the backend does not report one
		faceArea := float64(area.W * area.H)
		confidence := result.FaceConfidence
		if confidence <= 0 {
			confidence = calculateConfidence(faceArea)
		}

		face := provider.DetectedFace{
			BoundingBox: provider.BoundingBox{
				X:      float64(area.X),
				Y:      float64(area.Y),
				Width:  float64(area.W),
				Height: float64(area.H),
			},
			Confidence:   confidence,
			QualityScore: calculateQuality(faceArea),
			FrameWidth:   frameWidth,
		}

		if yaw, ok := estimateYaw(area, p.client.config.YawGain); ok {
			face.Pose = &provider.Pose{Yaw: yaw}
		}

		if happy, ok := result.Emotion["happy"]; ok {
			smile := math.Max(0, math.Min(1, happy/100.0))
			face.SmileProbability = &smile
		}

		faces = append(faces, face)
	}

	return faces, nil
}

// estimateYaw approximates the head yaw from how far the eye midpoint sits
// from the horizontal center of the face box. Positive when the subject
// turned to their left (eyes shift towards the image right).
func estimateYaw(area FacialArea, gain float64) (float64, bool) {
	if area.LeftEye == nil || area.RightEye == nil || area.W <= 0 {
		return 0, false
	}
	if gain <= 0 {
		gain = 1
	}

	midX := float64(area.LeftEye[0]+area.RightEye[0]) / 2
	centerX := float64(area.X) + float64(area.W)/2
	ratio := (midX - centerX) / (float64(area.W) / 2)

	ratio = math.Max(-1, math.Min(1, ratio*gain))
	return math.Asin(ratio) * 180 / math.Pi, true
}

// imageWidth reads the frame width from the image header, 0 when unknown
func imageWidth(img []byte) float64 {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return 0
	}
	return float64(cfg.Width)
}

// calculateConfidence estimates confidence based on face area
// Larger faces are more likely to be accurately detected
func calculateConfidence(faceArea float64) float64 {
	if faceArea < minFaceArea {
		return 0.5 // Low confidence for very small faces
	}
	// Scale from 0.7 to 0.99 based on face area
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return 0.7 + (normalized * 0.29)
}

// calculateQuality estimates quality score based on face area
// DeepFace doesn't return quality, so we estimate based on face size
func calculateQuality(faceArea float64) float64 {
	if faceArea < minFaceArea {
		return 0.4 // Low quality for very small faces
	}
	// Scale from 0.6 to 0.95 based on face area
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return 0.6 + (normalized * 0.35)
}

// CheckLiveness runs passive checks on the captured selfie
func (p *Provider) CheckLiveness(ctx context.Context, img []byte, threshold float64) (*provider.LivenessResult, error) {
	faces, err := p.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("check liveness: %w", err)
	}

	return provider.EvaluateSelfie(faces, threshold, p.client.config.FrontToleranceDegrees), nil
}

// Ensure Provider implements provider.FaceProvider
var _ provider.FaceProvider = (*Provider)(nil)
