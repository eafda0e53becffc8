package mock

import (
	"context"
	"testing"
)

func TestProvider_DetectFaces(t *testing.T) {
	p := New()
	ctx := context.Background()
	smile := 0.8

	tests := []struct {
		name      string
		image     []byte
		wantFaces int
		wantErr   bool
	}{
		{
			name:      "valid image",
			image:     make([]byte, 5000),
			wantFaces: 1,
			wantErr:   false,
		},
		{
			name:      "image too small",
			image:     make([]byte, 100),
			wantFaces: 0,
			wantErr:   true,
		},
		{
			name:      "hint with two faces",
			image:     EncodeHint(Hint{Faces: []HintFace{{Yaw: 40}, {X: 0.5, Yaw: 0, Smile: &smile}}}),
			wantFaces: 2,
			wantErr:   false,
		},
		{
			name:      "hint with no faces",
			image:     []byte(`{"faces":[]}`),
			wantFaces: 0,
			wantErr:   false,
		},
		{
			name:      "malformed hint is treated as an image",
			image:     []byte(`{"faces":`),
			wantFaces: 0,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := p.DetectFaces(ctx, tt.image)
			if (err != nil) != tt.wantErr {
				t.Errorf("DetectFaces() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if len(faces) != tt.wantFaces {
				t.Errorf("DetectFaces() got %d faces, want %d", len(faces), tt.wantFaces)
			}
		})
	}
}

func TestProvider_DetectFaces_HintPose(t *testing.T) {
	p := New()
	smile := 0.7

	faces, err := p.DetectFaces(context.Background(), EncodeHint(Hint{Faces: []HintFace{{Yaw: -42, Smile: &smile}}}))
	if err != nil {
		t.Fatalf("DetectFaces() error = %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("DetectFaces() got %d faces, want 1", len(faces))
	}

	face := faces[0]
	if face.Pose == nil || face.Pose.Yaw != -42 {
		t.Errorf("DetectFaces() pose = %+v, want yaw -42", face.Pose)
	}
	if face.SmileProbability == nil || *face.SmileProbability != 0.7 {
		t.Errorf("DetectFaces() smile = %v, want 0.7", face.SmileProbability)
	}
	if face.BoundingBox.Width != 0.5 {
		t.Errorf("DetectFaces() default width = %v, want 0.5", face.BoundingBox.Width)
	}
}

func TestProvider_CheckLiveness(t *testing.T) {
	p := New()
	ctx := context.Background()

	result, err := p.CheckLiveness(ctx, make([]byte, 5000), 0.8)
	if err != nil {
		t.Fatalf("CheckLiveness() error = %v", err)
	}
	if !result.IsLive {
		t.Error("CheckLiveness() expected live result")
	}

	if _, err := p.CheckLiveness(ctx, make([]byte, 10), 0.8); err == nil {
		t.Error("CheckLiveness() expected error for tiny image")
	}
}
