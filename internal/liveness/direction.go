// Package liveness implements the active liveness challenge: a subject must
// face the camera, turn left, turn right and smile, in that order, while the
// detector keeps tracking the same face. Only then is a selfie capture
// requested.
//
// The package is pure decision logic. It consumes per-frame face observations
// and returns outcomes; camera handling, detection and image storage belong to
// the caller.
package liveness

import "math"

const (
	// DefaultFrontToleranceDegrees is the maximum |yaw| still considered facing the camera.
	DefaultFrontToleranceDegrees = 12.0
	// DefaultTurnThresholdDegrees is the |yaw| that must be exceeded to count as a turn.
	DefaultTurnThresholdDegrees = 36.0
)

// PoseBucket is the coarse head direction derived from a yaw angle.
type PoseBucket int

const (
	PoseNeither PoseBucket = iota
	PoseFront
	PoseLeft
	PoseRight
)

func (p PoseBucket) String() string {
	switch p {
	case PoseFront:
		return "front"
	case PoseLeft:
		return "left"
	case PoseRight:
		return "right"
	default:
		return "neither"
	}
}

// Classifier maps yaw angles to pose buckets.
// Positive yaw means the subject turned to their left.
type Classifier struct {
	FrontToleranceDegrees float64
	TurnThresholdDegrees  float64
}

// DefaultClassifier returns a Classifier with the default thresholds.
func DefaultClassifier() Classifier {
	return Classifier{
		FrontToleranceDegrees: DefaultFrontToleranceDegrees,
		TurnThresholdDegrees:  DefaultTurnThresholdDegrees,
	}
}

// Classify returns the pose bucket for yaw. Angles between the front
// tolerance and the turn threshold fall in a dead zone and classify as
// PoseNeither, as do non-finite values.
func (c Classifier) Classify(yaw float64) PoseBucket {
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		return PoseNeither
	}

	switch {
	case yaw >= -c.FrontToleranceDegrees && yaw <= c.FrontToleranceDegrees:
		return PoseFront
	case yaw > c.TurnThresholdDegrees:
		return PoseLeft
	case yaw < -c.TurnThresholdDegrees:
		return PoseRight
	default:
		return PoseNeither
	}
}

// Classify classifies yaw with the default thresholds.
func Classify(yaw float64) PoseBucket {
	return DefaultClassifier().Classify(yaw)
}
