package bp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

// ComputationEngine turns one frame batch into a structured engine reply.
// An error means the engine could not be reached or its reply could not
// be read at all.
type ComputationEngine interface {
	Compute(ctx context.Context, batch []models.RawSampleFrame) (models.EngineResult, error)
}

// waitDelay bounds how long a killed engine may keep its output pipes open.
const waitDelay = 2 * time.Second

// ProcessEngine runs an external program per batch. The batch is written to
// stdin as a JSON array and the program prints one JSON object on stdout.
type ProcessEngine struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func NewProcessEngine(command string, args []string, timeout time.Duration) *ProcessEngine {
	return &ProcessEngine{Command: command, Args: args, Timeout: timeout}
}

func (e *ProcessEngine) Compute(ctx context.Context, batch []models.RawSampleFrame) (models.EngineResult, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return models.EngineResult{}, fmt.Errorf("encode batch: %w", err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return models.EngineResult{}, fmt.Errorf("engine %s: %w", e.Command, ctx.Err())
		}
		return models.EngineResult{}, fmt.Errorf("engine %s: %w (stderr: %s)", e.Command, err, strings.TrimSpace(stderr.String()))
	}
	return DecodeEngineOutput(stdout.Bytes())
}

// DecodeEngineOutput parses an engine reply. Only the last non-empty line
// counts, so engines may print diagnostics before their result.
func DecodeEngineOutput(out []byte) (models.EngineResult, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return models.EngineResult{}, errors.New("engine produced no output")
	}
	var res models.EngineResult
	if err := json.Unmarshal([]byte(last), &res); err != nil {
		return models.EngineResult{}, fmt.Errorf("unparseable engine output: %w", err)
	}
	return res, nil
}

// Interpret checks a reply against the success/failure contract and
// returns the PTT. Every failure is a ComputationError.
func Interpret(res models.EngineResult) (float64, error) {
	if res.Success == nil {
		return 0, apperror.Computation(errors.New("missing success flag"), "Malformed engine output")
	}
	if !*res.Success {
		reason := res.Error
		if reason == "" {
			reason = "no reason given"
		}
		return 0, apperror.Computation(errors.New(reason), "PTT computation failed")
	}
	if res.PTT == nil {
		return 0, apperror.Computation(errors.New("success without PTT"), "Malformed engine output")
	}
	if math.IsNaN(*res.PTT) || math.IsInf(*res.PTT, 0) {
		return 0, apperror.Computation(fmt.Errorf("PTT %v", *res.PTT), "Malformed engine output")
	}
	return *res.PTT, nil
}
