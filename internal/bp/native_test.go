package bp_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/bp"
	"vitalsync/internal/models"
)

// syntheticBatch builds a 50 Hz recording whose second channel lags the
// infrared channel by lagSamples.
func syntheticBatch(n, lagSamples int) []models.RawSampleFrame {
	frames := make([]models.RawSampleFrame, n)
	for i := range frames {
		frames[i] = models.RawSampleFrame{
			Timestamp: 1000 + 20*float64(i),
			ChannelA:  50000 + 100*math.Cos(2*math.Pi*float64(i)/50),
			ChannelB:  0.5 + 0.01*math.Cos(2*math.Pi*float64(i-lagSamples)/50),
		}
	}
	return frames
}

func TestNativeEngine_ComputesLag(t *testing.T) {
	res, err := bp.NewNativeEngine().Compute(context.Background(), syntheticBatch(bp.BatchSize, 10))
	require.NoError(t, err)

	ptt, err := bp.Interpret(res)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, ptt, 1e-9)
}

func TestNativeEngine_Failures(t *testing.T) {
	flat := make([]models.RawSampleFrame, bp.BatchSize)
	for i := range flat {
		flat[i] = models.RawSampleFrame{Timestamp: float64(i) * 20, ChannelA: 1000, ChannelB: 0.3}
	}

	// Lag of 2 samples is 40 ms, below the plausible PTT range.
	tooClose := syntheticBatch(bp.BatchSize, 2)

	cases := map[string]struct {
		batch  []models.RawSampleFrame
		reason string
	}{
		"short":     {syntheticBatch(9, 10), "Not enough data"},
		"flat":      {flat, "Sensor data too flat, no peaks detected"},
		"few peaks": {syntheticBatch(60, 10), "Not enough peaks"},
		"range":     {tooClose, "PTT Calculation Failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := bp.NewNativeEngine().Compute(context.Background(), tc.batch)
			require.NoError(t, err)
			require.NotNil(t, res.Success)
			assert.False(t, *res.Success)
			assert.Equal(t, tc.reason, res.Error)
		})
	}
}
