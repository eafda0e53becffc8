package liveness

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSmileThreshold is the smile probability that must be exceeded at the smile step.
const DefaultSmileThreshold = 0.6

// Config holds the tunable thresholds of the challenge.
type Config struct {
	FrontToleranceDegrees float64       `json:"front_tolerance_degrees"`
	TurnThresholdDegrees  float64       `json:"turn_threshold_degrees"`
	SmileThreshold        float64       `json:"smile_threshold"`
	Cooldown              time.Duration `json:"cooldown"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FrontToleranceDegrees: DefaultFrontToleranceDegrees,
		TurnThresholdDegrees:  DefaultTurnThresholdDegrees,
		SmileThreshold:        DefaultSmileThreshold,
		Cooldown:              DefaultCooldown,
	}
}

var ErrInvalidConfig = errors.New("invalid liveness config")

// Validate checks that the thresholds describe a usable challenge.
func (c Config) Validate() error {
	if math.IsNaN(c.FrontToleranceDegrees) || c.FrontToleranceDegrees < 0 {
		return fmt.Errorf("%w: front tolerance must be >= 0, got %v", ErrInvalidConfig, c.FrontToleranceDegrees)
	}
	// the dead zone between front and turned must not be empty
	if math.IsNaN(c.TurnThresholdDegrees) || c.TurnThresholdDegrees <= c.FrontToleranceDegrees {
		return fmt.Errorf("%w: turn threshold %v must exceed front tolerance %v",
			ErrInvalidConfig, c.TurnThresholdDegrees, c.FrontToleranceDegrees)
	}
	if math.IsNaN(c.SmileThreshold) || c.SmileThreshold < 0 || c.SmileThreshold > 1 {
		return fmt.Errorf("%w: smile threshold must be in [0,1], got %v", ErrInvalidConfig, c.SmileThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be >= 0, got %s", ErrInvalidConfig, c.Cooldown)
	}
	return nil
}

// Classifier returns the pose classifier for c.
func (c Config) Classifier() Classifier {
	return Classifier{
		FrontToleranceDegrees: c.FrontToleranceDegrees,
		TurnThresholdDegrees:  c.TurnThresholdDegrees,
	}
}
