// Command replay feeds a recorded challenge through the liveness state machine.
//
// Input is NDJSON, one frame per line:
//
//	{"observations":[{"tracking_id":1,"yaw":0,"captured_at":"2026-01-02T10:00:00Z"}]}
//
// Observations should carry captured_at so the cooldown runs on the recorded
// clock. One outcome per frame is written to stdout as NDJSON.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

type frame struct {
	Observations []liveness.Observation `json:"observations"`
}

type result struct {
	Frame   int              `json:"frame"`
	Outcome liveness.Outcome `json:"outcome"`
	Step    liveness.Step    `json:"current_step"`
	Prompt  string           `json:"prompt,omitempty"`
}

func main() {
	cfg := liveness.DefaultConfig()
	flag.Float64Var(&cfg.FrontToleranceDegrees, "front", cfg.FrontToleranceDegrees, "Front tolerance in degrees")
	flag.Float64Var(&cfg.TurnThresholdDegrees, "turn", cfg.TurnThresholdDegrees, "Turn threshold in degrees")
	flag.Float64Var(&cfg.SmileThreshold, "smile", cfg.SmileThreshold, "Smile probability threshold")
	flag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Minimum time between transitions")
	input := flag.String("in", "-", "Input file, - for stdin")
	flag.Parse()

	if err := run(*input, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(input string, cfg liveness.Config) error {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	return replay(r, os.Stdout, cfg)
}

func replay(r io.Reader, w io.Writer, cfg liveness.Config) error {
	machine, err := liveness.New(cfg)
	if err != nil {
		return err
	}
	session := machine.StartSession()

	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n++

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}

		out := machine.ProcessFrame(session, f.Observations)
		if err := enc.Encode(result{
			Frame:   n,
			Outcome: out,
			Step:    session.Step,
			Prompt:  out.Prompt(),
		}); err != nil {
			return err
		}
	}

	return scanner.Err()
}
