package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
)

func face(x, width, yaw float64) provider.DetectedFace {
	return provider.DetectedFace{
		BoundingBox: provider.BoundingBox{X: x, Y: 0.1, Width: width, Height: width},
		Confidence:  0.99,
		Pose:        &provider.Pose{Yaw: yaw},
	}
}

func ids(obs []liveness.Observation) []uint64 {
	out := make([]uint64, 0, len(obs))
	for _, o := range obs {
		out = append(out, *o.TrackingID)
	}
	return out
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_StableIDAcrossFrames(t *testing.T) {
	tr := New(DefaultConfig())

	first := tr.Update([]provider.DetectedFace{face(0.20, 0.4, 0)}, t0)
	require.Len(t, first, 1)

	// small drift keeps overlap high
	second := tr.Update([]provider.DetectedFace{face(0.23, 0.4, 40)}, t0.Add(100*time.Millisecond))
	require.Len(t, second, 1)

	assert.Equal(t, *first[0].TrackingID, *second[0].TrackingID)
	assert.Equal(t, 40.0, second[0].YawDegrees)
	assert.Equal(t, t0.Add(100*time.Millisecond), second[0].CapturedAt)
}

func TestTracker_NewFaceGetsNewID(t *testing.T) {
	tr := New(DefaultConfig())

	first := tr.Update([]provider.DetectedFace{face(0.0, 0.4, 0)}, t0)
	// no overlap with the previous box
	second := tr.Update([]provider.DetectedFace{face(0.6, 0.4, 0)}, t0)

	assert.Equal(t, []uint64{1}, ids(first))
	assert.Equal(t, []uint64{2}, ids(second))
}

func TestNewFrom(t *testing.T) {
	tests := []struct {
		name string
		next uint64
		want uint64
	}{
		{"resumes above a lock", 8, 8},
		{"zero starts at one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewFrom(DefaultConfig(), tt.next)

			first := tr.Update([]provider.DetectedFace{face(0.0, 0.4, 0)}, t0)
			second := tr.Update([]provider.DetectedFace{face(0.6, 0.4, 0)}, t0)

			assert.Equal(t, []uint64{tt.want}, ids(first))
			assert.Equal(t, []uint64{tt.want + 1}, ids(second))
		})
	}
}

func TestTracker_IDsIncreaseAfterReset(t *testing.T) {
	tr := New(DefaultConfig())

	tr.Update([]provider.DetectedFace{face(0.2, 0.4, 0)}, t0)
	tr.Reset()
	assert.Equal(t, 0, tr.Len())

	obs := tr.Update([]provider.DetectedFace{face(0.2, 0.4, 0)}, t0)
	assert.Equal(t, []uint64{2}, ids(obs))
}

func TestTracker_LargestFaceFirst(t *testing.T) {
	tr := New(DefaultConfig())

	obs := tr.Update([]provider.DetectedFace{
		face(0.0, 0.3, 10),
		face(0.5, 0.45, -10),
	}, t0)

	require.Len(t, obs, 2)
	assert.Equal(t, -10.0, obs[0].YawDegrees, "largest face comes first")
	assert.Equal(t, uint64(2), *obs[0].TrackingID)
	assert.Equal(t, uint64(1), *obs[1].TrackingID)
}

func TestTracker_TwoFacesKeepTheirIDs(t *testing.T) {
	tr := New(DefaultConfig())

	tr.Update([]provider.DetectedFace{face(0.0, 0.35, 0), face(0.6, 0.35, 0)}, t0)
	obs := tr.Update([]provider.DetectedFace{face(0.62, 0.35, 0), face(0.02, 0.35, 0)}, t0)

	assert.ElementsMatch(t, []uint64{1, 2}, ids(obs))
	assert.Equal(t, 2, tr.Len())
}

func TestTracker_MaxMisses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMisses = 2
	tr := New(cfg)

	tr.Update([]provider.DetectedFace{face(0.2, 0.4, 0)}, t0)

	// face briefly lost, then back within the miss budget
	tr.Update(nil, t0)
	tr.Update(nil, t0)
	obs := tr.Update([]provider.DetectedFace{face(0.2, 0.4, 0)}, t0)
	assert.Equal(t, []uint64{1}, ids(obs))

	// lost for longer than the budget
	tr.Update(nil, t0)
	tr.Update(nil, t0)
	tr.Update(nil, t0)
	assert.Equal(t, 0, tr.Len())

	obs = tr.Update([]provider.DetectedFace{face(0.2, 0.4, 0)}, t0)
	assert.Equal(t, []uint64{2}, ids(obs))
}

func TestTracker_FiltersSmallFaces(t *testing.T) {
	tr := New(DefaultConfig())

	obs := tr.Update([]provider.DetectedFace{face(0.1, 0.1, 0), face(0.4, 0.4, 0)}, t0)

	require.Len(t, obs, 1)
	assert.Equal(t, uint64(1), *obs[0].TrackingID)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_UnknownPoseAndSmile(t *testing.T) {
	tr := New(DefaultConfig())

	smile := 0.8
	f := face(0.2, 0.4, 0)
	f.Pose = nil
	f.SmileProbability = &smile

	obs := tr.Update([]provider.DetectedFace{f}, t0)

	require.Len(t, obs, 1)
	assert.True(t, math.IsNaN(obs[0].YawDegrees))
	assert.Equal(t, liveness.PoseNeither, liveness.Classify(obs[0].YawDegrees))
	require.NotNil(t, obs[0].SmileProbability)
	assert.Equal(t, 0.8, *obs[0].SmileProbability)
}

func TestTracker_InvertYaw(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InvertYaw = true
	tr := New(cfg)

	obs := tr.Update([]provider.DetectedFace{face(0.2, 0.4, 40)}, t0)

	require.Len(t, obs, 1)
	assert.Equal(t, -40.0, obs[0].YawDegrees)
}

// TestTracker_DrivesMachine runs tracked frames through the challenge
func TestTracker_DrivesMachine(t *testing.T) {
	m, err := liveness.New(liveness.DefaultConfig())
	require.NoError(t, err)

	tr := New(DefaultConfig())
	s := m.StartSession()

	smile := 0.9
	smiling := face(0.2, 0.4, 0)
	smiling.SmileProbability = &smile

	frames := []provider.DetectedFace{
		face(0.2, 0.4, 0),
		face(0.21, 0.4, 40),
		face(0.22, 0.4, -40),
		smiling,
	}

	var kinds []liveness.OutcomeKind
	for i, f := range frames {
		at := t0.Add(time.Duration(i) * 3 * time.Second)
		out := m.ProcessFrame(s, tr.Update([]provider.DetectedFace{f}, at))
		kinds = append(kinds, out.Kind)
	}

	assert.Equal(t, []liveness.OutcomeKind{
		liveness.StepCompleted,
		liveness.StepCompleted,
		liveness.StepCompleted,
		liveness.CaptureRequested,
	}, kinds)
	assert.True(t, s.Captured)
}
