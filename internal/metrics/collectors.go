package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Oracle call outcomes.
const (
	OutcomeLabeled    = "labeled"
	OutcomeParseError = "parse_error"
	OutcomeTimeout    = "timeout"
	OutcomeError      = "error"
)

// #region collectors
// Collectors are the Prometheus series exported by a curation run. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	Rounds        prometheus.Counter
	Labeled       prometheus.Gauge
	OracleCalls   *prometheus.CounterVec
	OracleLatency *prometheus.HistogramVec
	StopKappa     *prometheus.GaugeVec
	MacroScore    prometheus.Gauge
}

// NewCollectors registers every series on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		// rounds counts completed curation rounds.
		Rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: "curate",
			Name:      "rounds_total",
			Help:      "Completed curation rounds",
		}),
		Labeled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "curate",
			Name:      "labeled_items",
			Help:      "Items currently labeled",
		}),
		// Labels: result (labeled, parse_error, timeout, error)
		OracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curate",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Oracle calls by outcome",
		}, []string{"result"}),
		OracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curate",
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Oracle call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		// Labels: dimension
		StopKappa: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "curate",
			Subsystem: "stopping",
			Name:      "kappa",
			Help:      "Most recent per-dimension stop-set kappa",
		}, []string{"dimension"}),
		MacroScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "curate",
			Subsystem: "eval",
			Name:      "macro_f1",
			Help:      "Most recent macro F1 on the test set",
		}),
	}
}

// #endregion collectors

// #region observe
// ObserveOracle counts one oracle call.
func (c *Collectors) ObserveOracle(result string, seconds float64) {
	if c == nil {
		return
	}
	c.OracleCalls.WithLabelValues(result).Inc()
	c.OracleLatency.WithLabelValues(result).Observe(seconds)
}

// ObserveRound records the end-of-round values. NaN values leave the
// previous reading in place.
func (c *Collectors) ObserveRound(numLabeled int, macro float64, kappa map[string]float64) {
	if c == nil {
		return
	}
	c.Rounds.Inc()
	c.Labeled.Set(float64(numLabeled))
	if !math.IsNaN(macro) {
		c.MacroScore.Set(macro)
	}
	for dim, k := range kappa {
		if !math.IsNaN(k) {
			c.StopKappa.WithLabelValues(dim).Set(k)
		}
	}
}

// #endregion observe
