package eval

import (
	"math"
	"testing"
)

func strs(vals ...string) []*string {
	out := make([]*string, len(vals))
	for i, v := range vals {
		if v != "" {
			s := v
			out[i] = &s
		}
	}
	return out
}

func TestCohenKappaPerfectAgreement(t *testing.T) {
	k := CohenKappa([]string{"low", "high", "low"}, []string{"low", "high", "low"})
	if k != 1.0 {
		t.Fatalf("expected 1.0, got %f", k)
	}
}

func TestCohenKappaTotalDisagreement(t *testing.T) {
	k := CohenKappa([]string{"low", "high"}, []string{"high", "low"})
	if k != -1.0 {
		t.Fatalf("expected -1.0, got %f", k)
	}
}

func TestCohenKappaKnownValue(t *testing.T) {
	// po = 0.75, pe = 0.5 -> kappa = 0.5
	k := CohenKappa([]string{"a", "a", "b", "b"}, []string{"a", "b", "b", "b"})
	if math.Abs(k-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %f", k)
	}
}

func TestCohenKappaDegenerate(t *testing.T) {
	cases := map[string][2][]string{
		"length mismatch": {{"a", "b"}, {"a"}},
		"single item":     {{"a"}, {"b"}},
		"single label":    {{"a", "a", "a"}, {"a", "a", "a"}},
	}
	for name, c := range cases {
		if k := CohenKappa(c[0], c[1]); !math.IsNaN(k) {
			t.Fatalf("%s: expected NaN, got %f", name, k)
		}
	}
}

func TestCohenKappaPlaceholderIsACategory(t *testing.T) {
	a := Normalize(strs("low", "", "low"))
	b := Normalize(strs("low", "", "low"))
	if k := CohenKappa(a, b); k != 1.0 {
		t.Fatalf("expected 1.0 with placeholder category, got %f", k)
	}
}

func TestMacroF1(t *testing.T) {
	// low: tp=1 fp=0 fn=1 -> 2/3; high: tp=1 fp=1 fn=0 -> 2/3
	f1 := MacroF1([]string{"low", "low", "high"}, []string{"low", "high", "high"})
	if math.Abs(f1-2.0/3.0) > 1e-9 {
		t.Fatalf("expected 0.6667, got %f", f1)
	}
	if got := MacroF1([]string{"a"}, []string{"a", "b"}); got != 0 {
		t.Fatalf("expected 0 on mismatch, got %f", got)
	}
}

func TestMacroF1ZeroDivision(t *testing.T) {
	// "medium" only predicted, never true: precision 0, recall undefined -> 0.
	f1 := MacroF1([]string{"low", "low"}, []string{"low", "medium"})
	want := (2.0 / 3.0) / 2
	if math.Abs(f1-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, f1)
	}
}

func TestEvalPassesOnPerfectPredictions(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	truth := map[string][]*string{"severity": strs("low", "high"), "impact": strs("high", "medium")}

	result := h.Run(truth, truth, []string{"severity", "impact"})

	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if result.MacroF1 != 1.0 {
		t.Fatalf("expected macro f1 1.0, got %f", result.MacroF1)
	}
	if len(result.Metrics) != 5 {
		t.Fatalf("expected 5 metrics, got %d", len(result.Metrics))
	}
}

func TestEvalUnfittedDimensionScoresPlaceholder(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	truth := map[string][]*string{"impact": strs("high", "medium")}
	preds := map[string][]*string{"impact": {nil, nil}}

	result := h.Run(truth, preds, nil)

	if result.PerDimF1["impact"] != 0 {
		t.Fatalf("expected f1 0 for missing predictions, got %f", result.PerDimF1["impact"])
	}
	if result.Passed {
		t.Fatal("expected macro f1 check to fail")
	}
}

func TestEvalFailsOnLengthMismatch(t *testing.T) {
	config := DefaultEvalConfig()
	config.MinMacroF1 = 0
	h := NewEvalHarness(config)
	result := h.Run(map[string][]*string{"severity": strs("low", "high")},
		map[string][]*string{"severity": strs("low")}, []string{"severity"})
	if result.Passed {
		t.Fatal("expected fail on length mismatch")
	}
}

func TestMeanIgnoringNaN(t *testing.T) {
	m := map[string]float64{"a": 1, "b": math.NaN(), "c": 0.5}
	if got := MeanIgnoringNaN(m); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}
	if got := MeanIgnoringNaN(map[string]float64{"a": math.NaN()}); !math.IsNaN(got) {
		t.Fatalf("expected NaN, got %f", got)
	}
}

func TestCohenKappaOneSideConstant(t *testing.T) {
	if k := CohenKappa([]string{"low", "low"}, []string{"low", "high"}); !math.IsNaN(k) {
		t.Fatalf("expected NaN when one labeling is constant, got %f", k)
	}
}

func TestMeanIgnoringNaNSumsInKeyOrder(t *testing.T) {
	// 1e16+1 rounds back to 1e16, so only the a,b,c order yields exactly 0.
	m := map[string]float64{"a": 1e16, "b": 1, "c": -1e16, "d": math.NaN()}
	for i := 0; i < 50; i++ {
		if got := MeanIgnoringNaN(m); got != 0 {
			t.Fatalf("run %d: expected 0, got %v", i, got)
		}
	}
}
