package bp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

type job struct {
	ctx   context.Context
	batch []models.RawSampleFrame
	reply chan outcome
}

type outcome struct {
	ptt float64
	err error
}

// Bridge runs engine calls on a dedicated worker so request goroutines
// never execute the engine themselves. The queue holds a single job since
// only one BP session can be active.
type Bridge struct {
	engine ComputationEngine
	jobs   chan job
	done   chan struct{}
	log    *zap.Logger
}

func NewBridge(engine ComputationEngine, log *zap.Logger) *Bridge {
	return &Bridge{
		engine: engine,
		jobs:   make(chan job, 1),
		done:   make(chan struct{}),
		log:    log,
	}
}

var errWorkerStopped = errors.New("computation worker stopped")

// Run serves jobs until ctx is cancelled. It must be called at most once;
// after it returns every pending and future Compute fails.
func (b *Bridge) Run(ctx context.Context) {
	b.log.Info("PTT computation worker started")
	defer b.stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("PTT computation worker stopping")
			return
		case j := <-b.jobs:
			ptt, err := b.execute(j.ctx, j.batch)
			j.reply <- outcome{ptt: ptt, err: err}
		}
	}
}

// stop closes done and fails whatever is still queued.
func (b *Bridge) stop() {
	close(b.done)
	for {
		select {
		case j := <-b.jobs:
			j.reply <- outcome{err: apperror.Computation(errWorkerStopped, "PTT computation abandoned")}
		default:
			return
		}
	}
}

// Compute queues the batch and waits for the worker's answer.
func (b *Bridge) Compute(ctx context.Context, batch []models.RawSampleFrame) (float64, error) {
	select {
	case <-b.done:
		return 0, apperror.Computation(errWorkerStopped, "PTT computation unavailable")
	default:
	}

	reply := make(chan outcome, 1)
	select {
	case b.jobs <- job{ctx: ctx, batch: batch, reply: reply}:
	default:
		return 0, apperror.Conflict("A PTT computation is already queued.")
	}

	select {
	case out := <-reply:
		return out.ptt, out.err
	case <-ctx.Done():
		return 0, apperror.Computation(ctx.Err(), "PTT computation abandoned")
	case <-b.done:
		// The worker may have answered just before exiting.
		select {
		case out := <-reply:
			return out.ptt, out.err
		default:
			return 0, apperror.Computation(errWorkerStopped, "PTT computation abandoned")
		}
	}
}

func (b *Bridge) execute(ctx context.Context, batch []models.RawSampleFrame) (ptt float64, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = apperror.Computation(fmt.Errorf("panic: %v", r), "PTT engine crashed")
		}
		if err != nil {
			b.log.Warn("PTT computation failed", zap.Int("frames", len(batch)), zap.Duration("took", time.Since(start)), zap.Error(err))
			return
		}
		b.log.Info("PTT computed", zap.Int("frames", len(batch)), zap.Float64("ptt", ptt), zap.Duration("took", time.Since(start)))
	}()

	res, err := b.engine.Compute(ctx, batch)
	if err != nil {
		return 0, apperror.Computation(err, "PTT engine unavailable")
	}
	return Interpret(res)
}
