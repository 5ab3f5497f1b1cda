package types

import (
	"gonum.org/v1/gonum/floats"
)

// LossSummary describes the training loss curve.
type LossSummary struct {
	Initial   float64
	Final     float64
	Best      float64
	Reduction float64
	// ReductionPct is only meaningful when ReductionDefined is true; a zero
	// initial loss leaves the percentage undefined.
	ReductionPct     float64
	ReductionDefined bool
}

type EvalSummary struct {
	Best   float64
	Latest float64
}

type LRSummary struct {
	Initial float64
	Final   float64
	Max     float64
	Min     float64
}

// Summary holds the headline figures shared by the report and notifications.
// Pointer sections are nil when the backing series is empty.
type Summary struct {
	Status      TrainingStatus
	TotalSteps  int
	TotalEpochs float64
	Loss        *LossSummary
	Eval        *EvalSummary
	LR          *LRSummary
}

func Summarize(r *TrainingRecord) Summary {
	s := Summary{
		Status:     r.Status,
		TotalSteps: len(r.Steps),
	}
	if s.Status == "" {
		s.Status = StatusUnknown
	}

	if len(r.Epochs) > 0 {
		s.TotalEpochs = floats.Max(r.Epochs)
	}

	if n := len(r.TrainLosses); n > 0 {
		first, last := r.TrainLosses[0], r.TrainLosses[n-1]
		l := &LossSummary{
			Initial:   first,
			Final:     last,
			Best:      floats.Min(r.TrainLosses),
			Reduction: first - last,
		}
		if first != 0 {
			l.ReductionPct = (first - last) / first * 100
			l.ReductionDefined = true
		}
		s.Loss = l
	}

	if n := len(r.EvalLosses); n > 0 {
		s.Eval = &EvalSummary{
			Best:   floats.Min(r.EvalLosses),
			Latest: r.EvalLosses[n-1],
		}
	}

	if n := len(r.LearningRates); n > 0 {
		s.LR = &LRSummary{
			Initial: r.LearningRates[0],
			Final:   r.LearningRates[n-1],
			Max:     floats.Max(r.LearningRates),
			Min:     floats.Min(r.LearningRates),
		}
	}

	return s
}
