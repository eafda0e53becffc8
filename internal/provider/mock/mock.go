package mock

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
)

const minImageSize = 1000

// Hint descreve as faces que o mock deve "detectar" quando o frame é um
// documento JSON em vez de uma imagem. Útil para exercitar o desafio sem câmera.
type Hint struct {
	Faces []HintFace `json:"faces"`
}

// HintFace is one scripted face
type HintFace struct {
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Width float64  `json:"width"`
	Yaw   float64  `json:"yaw"`
	Smile *float64 `json:"smile,omitempty"`
}

// Provider implementa provider.FaceProvider para testes e desenvolvimento
type Provider struct{}

// New cria uma nova instância do MockProvider
func New() *Provider {
	return &Provider{}
}

// DetectFaces simula detecção de faces. Frames com hint JSON retornam as
// faces descritas; qualquer outro frame retorna uma face frontal centralizada.
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	if hint, ok := parseHint(image); ok {
		return hint.faces(), nil
	}

	if len(image) < minImageSize {
		return nil, domain.ErrInvalidImage
	}

	smile := 0.1
	return []provider.DetectedFace{
		{
			BoundingBox: provider.BoundingBox{
				X:      0.1,
				Y:      0.1,
				Width:  0.8,
				Height: 0.8,
			},
			Confidence:       0.99,
			QualityScore:     0.95,
			Pose:             &provider.Pose{},
			SmileProbability: &smile,
		},
	}, nil
}

// CheckLiveness performs passive liveness detection (mock returns live)
func (p *Provider) CheckLiveness(ctx context.Context, image []byte, threshold float64) (*provider.LivenessResult, error) {
	if len(image) < minImageSize {
		return nil, domain.ErrInvalidImage
	}

	return &provider.LivenessResult{
		IsLive:     true,
		Confidence: 0.95,
		Checks: provider.LivenessChecks{
			EyesOpen:     true,
			FacingCamera: true,
			QualityOK:    true,
			SingleFace:   true,
		},
	}, nil
}

// EncodeHint serializes a hint as a frame accepted by DetectFaces
func EncodeHint(h Hint) []byte {
	data, _ := json.Marshal(h)
	return data
}

func parseHint(image []byte) (Hint, bool) {
	trimmed := bytes.TrimSpace(image)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Hint{}, false
	}

	var h Hint
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return Hint{}, false
	}
	return h, true
}

func (h Hint) faces() []provider.DetectedFace {
	faces := make([]provider.DetectedFace, 0, len(h.Faces))
	for _, f := range h.Faces {
		width := f.Width
		if width == 0 {
			width = 0.5
		}
		faces = append(faces, provider.DetectedFace{
			BoundingBox: provider.BoundingBox{
				X:      f.X,
				Y:      f.Y,
				Width:  width,
				Height: width,
			},
			Confidence:       0.99,
			QualityScore:     0.95,
			Pose:             &provider.Pose{Yaw: f.Yaw},
			SmileProbability: f.Smile,
		})
	}
	return faces
}

var _ provider.FaceProvider = (*Provider)(nil)
