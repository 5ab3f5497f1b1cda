package types

import "time"

// TrainingStatus is the coarse lifecycle state of a run, derived from
// marker strings anywhere in the log.
type TrainingStatus string

const (
	StatusUnknown   TrainingStatus = "unknown"
	StatusRunning   TrainingStatus = "running"
	StatusCompleted TrainingStatus = "completed"
	StatusFailed    TrainingStatus = "failed"
)

// System info keys, in the order the parser looks for them.
const (
	InfoOS          = "os"
	InfoPython      = "python"
	InfoCUDADevices = "cuda_devices"
)

// Facts is a string mapping that remembers insertion order.
type Facts struct {
	keys   []string
	values map[string]string
}

func (f *Facts) Set(key, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

func (f Facts) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns a copy of the keys in insertion order.
func (f Facts) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f Facts) Len() int {
	return len(f.keys)
}

// Each calls fn for every pair in insertion order.
func (f Facts) Each(fn func(key, value string)) {
	for _, k := range f.keys {
		fn(k, f.values[k])
	}
}

// TrainingRecord is everything extracted from one training log.
//
// Steps, TrainLosses, LearningRates, Epochs and Timestamps are index aligned:
// element i of each describes the same metric event. EvalLosses has its own
// cadence and shares no index with them.
type TrainingRecord struct {
	Steps         []int
	TrainLosses   []float64
	LearningRates []float64
	Epochs        []float64
	Timestamps    []time.Time

	EvalLosses []float64

	SystemInfo Facts
	ConfigInfo Facts

	Status TrainingStatus
}

// MetricEvent is one aligned row of a TrainingRecord.
type MetricEvent struct {
	Step         int
	TrainLoss    float64
	LearningRate float64
	Epoch        float64
	Timestamp    time.Time
}

// AddEvent appends one metric event to all aligned series.
func (r *TrainingRecord) AddEvent(e MetricEvent) {
	r.Steps = append(r.Steps, e.Step)
	r.TrainLosses = append(r.TrainLosses, e.TrainLoss)
	r.LearningRates = append(r.LearningRates, e.LearningRate)
	r.Epochs = append(r.Epochs, e.Epoch)
	r.Timestamps = append(r.Timestamps, e.Timestamp)
}

// Len is the number of metric events.
func (r *TrainingRecord) Len() int {
	return len(r.Steps)
}

// Event returns the i-th metric event.
func (r *TrainingRecord) Event(i int) MetricEvent {
	return MetricEvent{
		Step:         r.Steps[i],
		TrainLoss:    r.TrainLosses[i],
		LearningRate: r.LearningRates[i],
		Epoch:        r.Epochs[i],
		Timestamp:    r.Timestamps[i],
	}
}

// Aligned reports whether the five event series have equal length.
func (r *TrainingRecord) Aligned() bool {
	n := len(r.Steps)
	return len(r.TrainLosses) == n &&
		len(r.LearningRates) == n &&
		len(r.Epochs) == n &&
		len(r.Timestamps) == n
}
