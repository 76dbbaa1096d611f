package bp

import (
	"context"
	"errors"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
	"vitalsync/internal/session"
)

// BatchSize is the number of frames that triggers a PTT computation.
const BatchSize = 200

// Computer computes PTT for a full batch. *Bridge is the production one.
type Computer interface {
	Compute(ctx context.Context, batch []models.RawSampleFrame) (float64, error)
}

// FrameOutcome describes what happened to an appended frame.
type FrameOutcome struct {
	Buffered  int
	Triggered bool
	PTT       float64
}

// Pipeline buffers frames for the active blood-pressure session and hands
// every full batch to the computer. The buffer is dropped as soon as it is
// handed over, whatever the computation's outcome.
type Pipeline struct {
	registry *session.Registry
	computer Computer
	log      *zap.Logger

	mu       sync.Mutex
	buffer   []models.RawSampleFrame
	inFlight bool
}

func NewPipeline(registry *session.Registry, computer Computer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		computer: computer,
		log:      log,
		buffer:   make([]models.RawSampleFrame, 0, BatchSize),
	}
}

// Start arms the BP slot and discards frames left over from an earlier
// session.
func (p *Pipeline) Start(owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.registry.RequestStart(models.BloodPressure, owner); err != nil {
		return err
	}
	if dropped := len(p.buffer); dropped > 0 {
		p.log.Info("Discarding stale BP frames", zap.Int("frames", dropped))
	}
	p.buffer = make([]models.RawSampleFrame, 0, BatchSize)
	return nil
}

// ValidateFrame checks that every required field is present.
func ValidateFrame(payload models.FramePayload) (models.RawSampleFrame, error) {
	err := validation.ValidateStruct(&payload,
		validation.Field(&payload.Timestamp, validation.NotNil),
		validation.Field(&payload.ChannelA, validation.NotNil),
		validation.Field(&payload.ChannelB, validation.NotNil),
	)
	if err != nil {
		return models.RawSampleFrame{}, apperror.FromValidation(err)
	}
	return models.RawSampleFrame{
		Timestamp: *payload.Timestamp,
		ChannelA:  *payload.ChannelA,
		ChannelB:  *payload.ChannelB,
		Red:       payload.Red,
	}, nil
}

// AppendFrame adds a frame in arrival order. The call that completes a
// batch blocks until the computation has finished and the BP session has
// either its result or has been released.
func (p *Pipeline) AppendFrame(ctx context.Context, payload models.FramePayload) (FrameOutcome, error) {
	frame, err := ValidateFrame(payload)
	if err != nil {
		return FrameOutcome{}, err
	}

	p.mu.Lock()
	if _, active := p.registry.Owner(models.BloodPressure); !active {
		p.mu.Unlock()
		return FrameOutcome{}, apperror.NotActive("No blood pressure measurement has been started.")
	}
	if p.inFlight {
		p.mu.Unlock()
		return FrameOutcome{}, apperror.Conflict("A PTT computation is already in progress.")
	}

	p.buffer = append(p.buffer, frame)
	if len(p.buffer) < BatchSize {
		n := len(p.buffer)
		p.mu.Unlock()
		return FrameOutcome{Buffered: n}, nil
	}

	batch := p.buffer
	p.buffer = make([]models.RawSampleFrame, 0, BatchSize)
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	p.log.Info("BP batch ready", zap.Int("frames", len(batch)))

	// The session runs to completion even if the device hangs up.
	workCtx := context.WithoutCancel(ctx)
	ptt, err := p.computer.Compute(workCtx, batch)
	if err != nil {
		p.registry.Release(models.BloodPressure, err.Error())
		var ae *apperror.Error
		if !errors.As(err, &ae) {
			err = apperror.Computation(err, "PTT computation failed")
		}
		return FrameOutcome{Triggered: true}, err
	}

	if err := p.registry.SubmitResult(workCtx, models.BloodPressure, models.Reading{Value: ptt}); err != nil {
		return FrameOutcome{Triggered: true}, err
	}
	return FrameOutcome{Triggered: true, PTT: ptt}, nil
}

// Buffered reports how many frames are waiting for the next batch.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
