package bp

import (
	"context"
	"math"
	"sort"

	"vitalsync/internal/models"
)

const (
	minFrames    = 10
	minIRStd     = 0.5
	minICQStd    = 0.0001
	minPeaks     = 3
	minPTTMillis = 100
	maxPTTMillis = 1500
)

type peakParams struct {
	distance   int
	prominence float64
}

var (
	irPeaks         = peakParams{distance: 15, prominence: 0.5}
	irPeaksRelaxed  = peakParams{distance: 10, prominence: 0.2}
	icqPeaks        = peakParams{distance: 20, prominence: 0.0001}
	icqPeaksRelaxed = peakParams{distance: 15, prominence: 0.00005}
)

// NativeEngine derives PTT in-process: it pairs the last three infrared
// peaks with the nearest second-channel peaks and averages the timestamp
// gaps that fall in a plausible range.
type NativeEngine struct{}

func NewNativeEngine() *NativeEngine { return &NativeEngine{} }

func (NativeEngine) Compute(_ context.Context, batch []models.RawSampleFrame) (models.EngineResult, error) {
	return computePTT(batch), nil
}

func computePTT(batch []models.RawSampleFrame) models.EngineResult {
	if len(batch) < minFrames {
		return failure("Not enough data")
	}

	ts := make([]float64, len(batch))
	ir := make([]float64, len(batch))
	icq := make([]float64, len(batch))
	for i, f := range batch {
		ts[i], ir[i], icq[i] = f.Timestamp, f.ChannelA, f.ChannelB
	}

	if stddev(ir) < minIRStd || stddev(icq) < minICQStd {
		return failure("Sensor data too flat, no peaks detected")
	}

	pIR := findPeaks(ir, irPeaks)
	pICQ := findPeaks(icq, icqPeaks)
	if len(pIR) < minPeaks {
		pIR = findPeaks(ir, irPeaksRelaxed)
	}
	if len(pICQ) < minPeaks {
		pICQ = findPeaks(icq, icqPeaksRelaxed)
	}
	if len(pIR) < minPeaks || len(pICQ) < minPeaks {
		return failure("Not enough peaks")
	}

	var sum float64
	var n int
	for _, t1 := range pIR[len(pIR)-minPeaks:] {
		t2 := nearest(pICQ, t1)
		diff := math.Abs(ts[t1] - ts[t2])
		if diff >= minPTTMillis && diff <= maxPTTMillis {
			sum += diff
			n++
		}
	}
	if n == 0 {
		return failure("PTT Calculation Failed")
	}

	ok := true
	ptt := sum / float64(n)
	return models.EngineResult{Success: &ok, PTT: &ptt}
}

func failure(reason string) models.EngineResult {
	ok := false
	return models.EngineResult{Success: &ok, Error: reason}
}

// stddev is the population standard deviation.
func stddev(x []float64) float64 {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}

// nearest returns the first peak index closest to target.
func nearest(peaks []int, target int) int {
	best := peaks[0]
	for _, p := range peaks[1:] {
		if absInt(p-target) < absInt(best-target) {
			best = p
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// findPeaks returns local maxima (flat tops resolved to their middle),
// thinned to the given minimum distance (higher peaks win) and then
// filtered by topographic prominence. Indices are ascending.
func findPeaks(x []float64, params peakParams) []int {
	peaks := localMaxima(x)
	if params.distance > 1 {
		peaks = selectByDistance(x, peaks, params.distance)
	}
	kept := peaks[:0]
	for _, p := range peaks {
		if prominence(x, p) >= params.prominence {
			kept = append(kept, p)
		}
	}
	return kept
}

func localMaxima(x []float64) []int {
	var peaks []int
	i := 1
	last := len(x) - 1
	for i < last {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < last && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}

	// Visit peaks from highest to lowest; ties go to the later peak.
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	for k := len(order) - 1; k >= 0; k-- {
		j := order[k]
		if !keep[j] {
			continue
		}
		for l := j - 1; l >= 0 && peaks[j]-peaks[l] < distance; l-- {
			keep[l] = false
		}
		for l := j + 1; l < len(peaks) && peaks[l]-peaks[j] < distance; l++ {
			keep[l] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func prominence(x []float64, peak int) float64 {
	leftMin := x[peak]
	for i := peak; i >= 0 && x[i] <= x[peak]; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := x[peak]
	for i := peak; i < len(x) && x[i] <= x[peak]; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}
	return x[peak] - math.Max(leftMin, rightMin)
}
