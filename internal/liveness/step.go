package liveness

import (
	"encoding/json"
	"fmt"
)

// Step is a stage of the challenge. Steps only move forward, in declaration order.
type Step int

const (
	StepFront Step = iota
	StepLeft
	StepRight
	StepSmile
	StepDone
)

var stepNames = map[Step]string{
	StepFront: "front",
	StepLeft:  "left",
	StepRight: "right",
	StepSmile: "smile",
	StepDone:  "done",
}

// prompts tell the subject what to do once the keyed step is completed.
var prompts = map[Step]string{
	StepFront: "Front face detected, please show your left face.",
	StepLeft:  "Left face detected, please show your right face.",
	StepRight: "Right face detected, please smile to the camera for selfie capture.",
	StepSmile: "Captured !",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Next returns the step that follows s. StepDone is terminal.
func (s Step) Next() Step {
	if s >= StepDone {
		return StepDone
	}
	return s + 1
}

// Prompt returns the message shown after s is completed, naming the next expected pose.
func (s Step) Prompt() string {
	return prompts[s]
}

// ParseStep parses the lowercase name produced by String.
func ParseStep(name string) (Step, error) {
	for step, n := range stepNames {
		if n == name {
			return step, nil
		}
	}
	return StepFront, fmt.Errorf("unknown challenge step %q", name)
}

// MarshalJSON encodes the step by name.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a step name.
func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	step, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = step
	return nil
}
