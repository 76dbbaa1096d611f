package bp_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/bp"
	"vitalsync/internal/models"
	"vitalsync/internal/session"
)

type memoryStore struct {
	mu    sync.Mutex
	saved map[models.Modality][]models.Reading
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[models.Modality][]models.Reading)}
}

func (s *memoryStore) SaveReading(_ context.Context, m models.Modality, r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[m] = append(s.saved[m], r)
	return nil
}

// fakeComputer records batches and the pipeline's buffer size at call time.
type fakeComputer struct {
	pipeline       *bp.Pipeline
	calls          [][]models.RawSampleFrame
	bufferedAtCall []int
	ptt            float64
	err            error
}

func (f *fakeComputer) Compute(_ context.Context, batch []models.RawSampleFrame) (float64, error) {
	f.calls = append(f.calls, batch)
	if f.pipeline != nil {
		f.bufferedAtCall = append(f.bufferedAtCall, f.pipeline.Buffered())
	}
	return f.ptt, f.err
}

func frame(i int) models.FramePayload {
	ts, a, b := float64(i), float64(1000+i), float64(i)/1000
	return models.FramePayload{Timestamp: &ts, ChannelA: &a, ChannelB: &b}
}

func setup(t *testing.T, computer bp.Computer) (*bp.Pipeline, *session.Registry, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	reg := session.NewRegistry(store, zap.NewNop())
	p := bp.NewPipeline(reg, computer, zap.NewNop())
	return p, reg, store
}

func TestAppendFrame_TriggersExactlyAtBatchSize(t *testing.T) {
	computer := &fakeComputer{ptt: 231.5}
	p, reg, store := setup(t, computer)
	computer.pipeline = p
	require.NoError(t, p.Start("tag-7"))

	for i := 0; i < bp.BatchSize-1; i++ {
		out, err := p.AppendFrame(context.Background(), frame(i))
		require.NoError(t, err)
		assert.False(t, out.Triggered)
		assert.Equal(t, i+1, out.Buffered)
	}
	assert.Empty(t, computer.calls)

	out, err := p.AppendFrame(context.Background(), frame(bp.BatchSize-1))
	require.NoError(t, err)
	assert.True(t, out.Triggered)
	assert.Equal(t, 231.5, out.PTT)

	require.Len(t, computer.calls, 1)
	batch := computer.calls[0]
	require.Len(t, batch, bp.BatchSize)
	for i, f := range batch {
		assert.Equal(t, float64(i), f.Timestamp, "frames keep arrival order")
	}
	assert.Equal(t, []int{0}, computer.bufferedAtCall, "buffer is emptied before the computation runs")
	assert.Equal(t, 0, p.Buffered())

	require.Len(t, store.saved[models.BloodPressure], 1)
	saved := store.saved[models.BloodPressure][0]
	assert.Equal(t, "tag-7", saved.Owner)
	assert.Equal(t, 231.5, saved.Value)

	res, ok := reg.PollForResult(models.BloodPressure)
	require.True(t, ok)
	assert.Equal(t, 231.5, res.Value)
	_, ok = reg.PollForResult(models.BloodPressure)
	assert.False(t, ok)
}

func TestAppendFrame_ComputationFailureReleasesSession(t *testing.T) {
	computer := &fakeComputer{err: apperror.Computation(errors.New("Not enough peaks"), "PTT computation failed")}
	p, reg, store := setup(t, computer)
	computer.pipeline = p
	require.NoError(t, p.Start("tag-7"))

	var lastErr error
	for i := 0; i < bp.BatchSize; i++ {
		_, lastErr = p.AppendFrame(context.Background(), frame(i))
	}
	require.Error(t, lastErr)
	assert.True(t, apperror.Is(lastErr, apperror.KindComputation))
	assert.Equal(t, 0, p.Buffered())

	_, active := reg.Owner(models.BloodPressure)
	assert.False(t, active)
	_, ok := reg.PollForResult(models.BloodPressure)
	assert.False(t, ok)
	assert.Empty(t, store.saved[models.BloodPressure])

	assert.NoError(t, p.Start("tag-7"), "a fresh start is not busy after a failure")
}

func TestAppendFrame_PlainErrorBecomesComputationError(t *testing.T) {
	computer := &fakeComputer{err: errors.New("exec: python3 not found")}
	p, _, _ := setup(t, computer)
	require.NoError(t, p.Start("tag-1"))

	var err error
	for i := 0; i < bp.BatchSize; i++ {
		_, err = p.AppendFrame(context.Background(), frame(i))
	}
	assert.True(t, apperror.Is(err, apperror.KindComputation))
}

func TestAppendFrame_MalformedEngineOutputViaBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := bp.NewBridge(engineFunc(func(context.Context, []models.RawSampleFrame) (models.EngineResult, error) {
		return models.EngineResult{Error: "garbled"}, nil
	}), zap.NewNop())
	go bridge.Run(ctx)

	p, reg, _ := setup(t, bridge)
	require.NoError(t, p.Start("tag-3"))

	var err error
	for i := 0; i < bp.BatchSize; i++ {
		_, err = p.AppendFrame(context.Background(), frame(i))
	}
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindComputation))

	_, ok := reg.PollForResult(models.BloodPressure)
	assert.False(t, ok)
	assert.NoError(t, p.Start("tag-3"))
}

func TestAppendFrame_RejectsMissingFields(t *testing.T) {
	computer := &fakeComputer{}
	p, _, _ := setup(t, computer)
	require.NoError(t, p.Start("tag-1"))

	ts := 1.0
	_, err := p.AppendFrame(context.Background(), models.FramePayload{Timestamp: &ts})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Contains(t, err.Error(), "max30102_ir")
	assert.Equal(t, 0, p.Buffered())
}

func TestAppendFrame_RequiresActiveSession(t *testing.T) {
	p, _, _ := setup(t, &fakeComputer{})
	_, err := p.AppendFrame(context.Background(), frame(0))
	assert.True(t, apperror.Is(err, apperror.KindNotActive))
}

func TestStart_DiscardsStaleFrames(t *testing.T) {
	p, reg, _ := setup(t, &fakeComputer{})
	require.NoError(t, p.Start("tag-1"))
	for i := 0; i < 5; i++ {
		_, err := p.AppendFrame(context.Background(), frame(i))
		require.NoError(t, err)
	}

	err := p.Start("tag-2")
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.Equal(t, 5, p.Buffered(), "busy start leaves the running session alone")

	reg.Release(models.BloodPressure, "test")
	require.NoError(t, p.Start("tag-2"))
	assert.Equal(t, 0, p.Buffered())
}

type engineFunc func(context.Context, []models.RawSampleFrame) (models.EngineResult, error)

func (f engineFunc) Compute(ctx context.Context, batch []models.RawSampleFrame) (models.EngineResult, error) {
	return f(ctx, batch)
}
