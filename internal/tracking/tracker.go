// Package tracking assigns stable tracking ids to faces detected on
// consecutive frames of one liveness session. Server-side detectors analyze
// each frame on its own, so identity across frames is recovered by matching
// bounding boxes.
package tracking

import (
	"math"
	"sort"
	"time"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/provider"
)

// Config controls how detections are matched to tracks
type Config struct {
	// IoUThreshold is the minimum overlap for a detection to continue a track
	IoUThreshold float64
	// MaxMisses is how many consecutive frames a track survives without a match
	MaxMisses int
	// MinFaceSize drops faces narrower than this fraction of the frame
	MinFaceSize float64
	// InvertYaw flips the yaw sign for providers with a mirrored convention
	InvertYaw bool
}

// DefaultConfig returns the matching parameters used by the service
func DefaultConfig() Config {
	return Config{
		IoUThreshold: 0.3,
		MaxMisses:    5,
		MinFaceSize:  provider.DefaultMinFaceSize,
	}
}

type track struct {
	id     uint64
	box    provider.BoundingBox
	misses int
}

// Tracker is not safe for concurrent use; each session owns one.
type Tracker struct {
	config Config
	nextID uint64
	tracks []*track
}

// New creates a tracker. Ids start at 1 and only grow.
func New(config Config) *Tracker {
	return NewFrom(config, 1)
}

// NewFrom creates a tracker whose first id is next. A session reloaded from
// postgres resumes above its locked id so no new face can be handed the lock.
func NewFrom(config Config, next uint64) *Tracker {
	if next == 0 {
		next = 1
	}
	return &Tracker{
		config: config,
		nextID: next,
	}
}

type candidate struct {
	face  int
	track int
	iou   float64
}

// Update matches the faces of one frame against the live tracks and returns
// one observation per kept face, largest face first.
func (t *Tracker) Update(faces []provider.DetectedFace, capturedAt time.Time) []liveness.Observation {
	faces = provider.FilterSmallFaces(faces, t.config.MinFaceSize)

	// greedy assignment, best overlap first
	var candidates []candidate
	for fi, f := range faces {
		for ti, tr := range t.tracks {
			iou := f.BoundingBox.IoU(tr.box)
			if iou >= t.config.IoUThreshold && iou > 0 {
				candidates = append(candidates, candidate{face: fi, track: ti, iou: iou})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	faceTrack := make([]*track, len(faces))
	matched := make([]bool, len(t.tracks))
	for _, c := range candidates {
		if faceTrack[c.face] != nil || matched[c.track] {
			continue
		}
		faceTrack[c.face] = t.tracks[c.track]
		matched[c.track] = true
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !matched[i] {
			tr.misses++
			if tr.misses > t.config.MaxMisses {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for fi, f := range faces {
		tr := faceTrack[fi]
		if tr == nil {
			tr = &track{id: t.nextID}
			t.nextID++
			t.tracks = append(t.tracks, tr)
		}
		tr.box = f.BoundingBox
		tr.misses = 0
		faceTrack[fi] = tr
	}

	order := make([]int, len(faces))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return faces[order[i]].BoundingBox.Area() > faces[order[j]].BoundingBox.Area()
	})

	observations := make([]liveness.Observation, 0, len(faces))
	for _, fi := range order {
		observations = append(observations, t.observe(faces[fi], faceTrack[fi].id, capturedAt))
	}
	return observations
}

func (t *Tracker) observe(f provider.DetectedFace, id uint64, capturedAt time.Time) liveness.Observation {
	// unknown pose classifies as neither front nor turned
	yaw := math.NaN()
	if f.Pose != nil {
		yaw = f.Pose.Yaw
		if t.config.InvertYaw {
			yaw = -yaw
		}
	}

	return liveness.Observation{
		TrackingID:       liveness.TrackingID(id),
		YawDegrees:       yaw,
		SmileProbability: f.SmileProbability,
		CapturedAt:       capturedAt,
	}
}

// Reset forgets every track. Ids keep growing so a face seen after a reset
// never reuses an id from before it.
func (t *Tracker) Reset() {
	t.tracks = nil
}

// Len returns the number of live tracks
func (t *Tracker) Len() int {
	return len(t.tracks)
}
