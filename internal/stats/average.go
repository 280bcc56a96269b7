package stats

// RunningAverage is an exponentially weighted moving average with a
// smoothing factor of 1/windowSize. It is owned by a single destination
// handle and needs no locking.
type RunningAverage struct {
	smoothing float64
	value     float64
	hasSample bool
}

// NewRunningAverage creates an estimator whose decay is derived from the
// configured window size. A window of 1 degenerates to "last sample wins".
func NewRunningAverage(windowSize int) *RunningAverage {
	if windowSize < 1 {
		windowSize = 1
	}
	return &RunningAverage{
		smoothing: 1.0 / float64(windowSize),
	}
}

// InsertSample folds one sample into the average. The first sample is
// taken as-is so the estimate does not start biased toward zero.
func (a *RunningAverage) InsertSample(sample float64) {
	if !a.hasSample {
		a.value = sample
		a.hasSample = true
		return
	}
	a.value = a.value*(1-a.smoothing) + sample*a.smoothing
}

// Value returns the current estimate, or 0 before any sample arrived.
func (a *RunningAverage) Value() float64 {
	return a.value
}
