package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_IoU(t *testing.T) {
	tests := []struct {
		name string
		a, b BoundingBox
		want float64
	}{
		{
			name: "identical",
			a:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			b:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			want: 1,
		},
		{
			name: "disjoint",
			a:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			b:    BoundingBox{X: 20, Y: 20, Width: 10, Height: 10},
			want: 0,
		},
		{
			name: "touching edges",
			a:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			b:    BoundingBox{X: 10, Y: 0, Width: 10, Height: 10},
			want: 0,
		},
		{
			name: "half overlap",
			a:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			b:    BoundingBox{X: 5, Y: 0, Width: 10, Height: 10},
			want: 50.0 / 150.0,
		},
		{
			name: "degenerate box",
			a:    BoundingBox{X: 0, Y: 0, Width: 0, Height: 10},
			b:    BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.a.IoU(tt.b), 1e-9)
			assert.InDelta(t, tt.want, tt.b.IoU(tt.a), 1e-9)
		})
	}
}

func TestFilterSmallFaces(t *testing.T) {
	faces := []DetectedFace{
		{BoundingBox: BoundingBox{Width: 0.5}},
		{BoundingBox: BoundingBox{Width: 0.1}},
		{BoundingBox: BoundingBox{Width: 200}, FrameWidth: 640},
		{BoundingBox: BoundingBox{Width: 100}, FrameWidth: 640},
	}

	kept := FilterSmallFaces(faces, DefaultMinFaceSize)

	assert.Len(t, kept, 2)
	assert.Equal(t, 0.5, kept[0].BoundingBox.Width)
	assert.Equal(t, 200.0, kept[1].BoundingBox.Width)
	assert.Len(t, faces, 4, "input must not be modified")

	assert.Len(t, FilterSmallFaces(faces, 0), 4)
}

func TestEvaluateSelfie(t *testing.T) {
	closed := false
	good := DetectedFace{Confidence: 0.99, QualityScore: 0.9, Pose: &Pose{Yaw: 3}}

	tests := []struct {
		name        string
		faces       []DetectedFace
		wantLive    bool
		wantReasons []string
	}{
		{
			name:     "single frontal face",
			faces:    []DetectedFace{good},
			wantLive: true,
		},
		{
			name:        "no face",
			faces:       nil,
			wantReasons: []string{"no face detected", "confidence below threshold"},
		},
		{
			name:        "two faces",
			faces:       []DetectedFace{good, good},
			wantReasons: []string{"multiple faces detected", "confidence below threshold"},
		},
		{
			name:        "turned away",
			faces:       []DetectedFace{{Confidence: 0.99, QualityScore: 0.9, Pose: &Pose{Yaw: 40}}},
			wantReasons: []string{"face not turned to the camera"},
		},
		{
			name:        "eyes closed",
			faces:       []DetectedFace{{Confidence: 0.99, QualityScore: 0.9, EyesOpen: &closed}},
			wantReasons: []string{"eyes closed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EvaluateSelfie(tt.faces, 0.5, 12)
			assert.Equal(t, tt.wantLive, result.IsLive)
			assert.Equal(t, tt.wantReasons, result.Reasons)
		})
	}
}
