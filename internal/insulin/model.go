package insulin

import (
	"fmt"
	"math"
	"time"
)

// DefaultPeakActivity is the peak used for rapid-acting insulin when the
// action duration allows it.
const DefaultPeakActivity = 75 * time.Minute

// ExponentialModel describes insulin activity as a scaled exponential
// decay that peaks at PeakActivity and reaches zero at ActionDuration.
type ExponentialModel struct {
	ActionDuration time.Duration
	PeakActivity   time.Duration

	tau float64
	a   float64
	s   float64
}

// NewExponentialModel returns a model for the given action duration with
// the peak at DefaultPeakActivity, capped at a third of the duration.
func NewExponentialModel(actionDuration time.Duration) (*ExponentialModel, error) {
	peak := DefaultPeakActivity
	if third := actionDuration / 3; third < peak {
		peak = third
	}
	return NewExponentialModelWithPeak(actionDuration, peak)
}

// NewExponentialModelWithPeak returns a model with an explicit peak. The
// peak must be positive and less than half the action duration.
func NewExponentialModelWithPeak(actionDuration, peak time.Duration) (*ExponentialModel, error) {
	if actionDuration <= 0 {
		return nil, fmt.Errorf("action duration must be positive, got %s", actionDuration)
	}
	if peak <= 0 || 2*peak >= actionDuration {
		return nil, fmt.Errorf("peak %s must be in (0, %s)", peak, actionDuration/2)
	}

	td := actionDuration.Minutes()
	tp := peak.Minutes()
	tau := tp * (1 - tp/td) / (1 - 2*tp/td)
	a := 2 * tau / td
	s := 1 / (1 - a + (1+a)*math.Exp(-td/tau))

	return &ExponentialModel{
		ActionDuration: actionDuration,
		PeakActivity:   peak,
		tau:            tau,
		a:              a,
		s:              s,
	}, nil
}

// PercentEffectRemaining returns the fraction of a dose still active t
// after delivery, from 1 at t <= 0 down to 0 at the action duration.
func (m *ExponentialModel) PercentEffectRemaining(t time.Duration) float64 {
	if t <= 0 {
		return 1
	}
	if t >= m.ActionDuration {
		return 0
	}

	td := m.ActionDuration.Minutes()
	x := t.Minutes()
	return 1 - m.s*(1-m.a)*((x*x/(m.tau*td*(1-m.a))-x/m.tau-1)*math.Exp(-x/m.tau)+1)
}
