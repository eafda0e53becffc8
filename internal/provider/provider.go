package provider

import "context"

// DefaultMinFaceSize é a fração mínima da largura do frame que uma face deve ocupar
const DefaultMinFaceSize = 0.3

// FaceProvider define a interface para provedores de detecção facial
type FaceProvider interface {
	// DetectFaces detecta faces no frame e retorna pose e sorriso de cada uma
	DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error)

	// CheckLiveness performs passive checks on the selfie taken after the challenge
	CheckLiveness(ctx context.Context, image []byte, threshold float64) (*LivenessResult, error)
}

// DetectedFace represents a detected face in the image
type DetectedFace struct {
	BoundingBox  BoundingBox `json:"bounding_box"`
	Confidence   float64     `json:"confidence"`
	QualityScore float64     `json:"quality_score"`
	EyesOpen     *bool       `json:"eyes_open,omitempty"`
	Pose         *Pose       `json:"pose,omitempty"`
	// SmileProbability is nil when the provider cannot tell
	SmileProbability *float64 `json:"smile_probability,omitempty"`
	// FrameWidth is the width of the analyzed image in the same unit as BoundingBox
	FrameWidth float64 `json:"frame_width,omitempty"`
}

// Pose represents face orientation angles
type Pose struct {
	Pitch float64 `json:"pitch"` // up/down rotation
	Roll  float64 `json:"roll"`  // tilted rotation
	Yaw   float64 `json:"yaw"`   // left/right rotation, positive towards the subject's left
}

// BoundingBox represents the face area in the image
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IoU returns the intersection over union of two boxes, in [0,1]
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := max(b.X, other.X)
	y1 := max(b.Y, other.Y)
	x2 := min(b.X+b.Width, other.X+other.Width)
	y2 := min(b.Y+b.Height, other.Y+other.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// RelativeWidth returns the face width as a fraction of the frame width.
// Boxes from providers that report normalized coordinates have no FrameWidth
// and are already relative.
func (f DetectedFace) RelativeWidth() float64 {
	if f.FrameWidth > 0 {
		return f.BoundingBox.Width / f.FrameWidth
	}
	return f.BoundingBox.Width
}

// FilterSmallFaces drops faces narrower than minSize of the frame width
func FilterSmallFaces(faces []DetectedFace, minSize float64) []DetectedFace {
	if minSize <= 0 {
		return faces
	}

	kept := faces[:0:0]
	for _, f := range faces {
		if f.RelativeWidth() >= minSize {
			kept = append(kept, f)
		}
	}
	return kept
}

// LivenessResult represents the result of a liveness check
type LivenessResult struct {
	IsLive     bool           `json:"is_live"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons,omitempty"`
	Checks     LivenessChecks `json:"checks"`
}

// LivenessChecks contains individual liveness check results
type LivenessChecks struct {
	EyesOpen     bool `json:"eyes_open"`
	FacingCamera bool `json:"facing_camera"`
	QualityOK    bool `json:"quality_ok"`
	SingleFace   bool `json:"single_face"`
}

// EvaluateSelfie derives a passive liveness result from detected faces.
// frontTolerance is the maximum |yaw| still considered facing the camera.
func EvaluateSelfie(faces []DetectedFace, threshold, frontTolerance float64) *LivenessResult {
	singleFace := len(faces) == 1

	var face DetectedFace
	if singleFace {
		face = faces[0]
	}

	eyesOpen := singleFace && (face.EyesOpen == nil || *face.EyesOpen)
	facing := singleFace && (face.Pose == nil || (face.Pose.Yaw >= -frontTolerance && face.Pose.Yaw <= frontTolerance))
	qualityOK := singleFace && face.QualityScore >= 0.6

	confidence := 0.0
	if singleFace {
		confidence = face.Confidence * face.QualityScore
	}

	result := &LivenessResult{
		Confidence: confidence,
		Checks: LivenessChecks{
			EyesOpen:     eyesOpen,
			FacingCamera: facing,
			QualityOK:    qualityOK,
			SingleFace:   singleFace,
		},
	}
	result.IsLive = singleFace && eyesOpen && facing && qualityOK && confidence >= threshold

	if result.IsLive {
		return result
	}

	switch {
	case len(faces) == 0:
		result.Reasons = append(result.Reasons, "no face detected")
	case !singleFace:
		result.Reasons = append(result.Reasons, "multiple faces detected")
	}
	if singleFace && !eyesOpen {
		result.Reasons = append(result.Reasons, "eyes closed")
	}
	if singleFace && !facing {
		result.Reasons = append(result.Reasons, "face not turned to the camera")
	}
	if singleFace && !qualityOK {
		result.Reasons = append(result.Reasons, "image quality too low")
	}
	if confidence < threshold {
		result.Reasons = append(result.Reasons, "confidence below threshold")
	}

	return result
}
