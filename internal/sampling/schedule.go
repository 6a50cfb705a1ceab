package sampling

import "math"

// #region schedule
// Schedule moves sampling from pure diversity toward uncertainty as the
// run progresses.
type Schedule struct {
	Warmup    int     // rounds of coreset-only sampling
	Decay     float64 // lambda lost per round after warm-up
	MinLambda float64 // lambda never drops below this
}

// DefaultSchedule is two warm-up rounds followed by a 0.15 decay to zero.
func DefaultSchedule() Schedule {
	return Schedule{Warmup: 2, Decay: 0.15, MinLambda: 0}
}

// Lambda returns max(MinLambda, 1-(t-Warmup)*Decay), clamped to [0,1].
func (s Schedule) Lambda(t int) float64 {
	l := 1 - float64(t-s.Warmup)*s.Decay
	l = math.Max(s.MinLambda, l)
	return math.Max(0, math.Min(1, l))
}

// ForIteration returns the strategy and lambda for round t (1-based).
// Rounds up to and including Warmup use coreset alone.
func (s Schedule) ForIteration(t int) (Kind, Params) {
	if t <= s.Warmup {
		return KindCoreset, Params{Lambda: 1}
	}
	return KindHybrid, Params{Lambda: s.Lambda(t)}
}

// #endregion schedule
