package sampling

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

func rec(i int, labeled bool) state.Record {
	r := state.Record{Index: i, Labeled: labeled, Confidences: map[string]float64{}}
	if labeled {
		r.Labels = map[string]state.LabelValue{"severity": "low"}
	}
	return r
}

func withConf(r state.Record, c ...float64) state.Record {
	for i, v := range c {
		r.Confidences[state.DefaultDimensions[i]] = v
	}
	return r
}

func withEmb(r state.Record, v ...float32) state.Record {
	r.Embedding = v
	return r
}

func withMC(r state.Record, samples ...[]float64) state.Record {
	r.MCSamples = map[string][][]float64{"severity": samples}
	return r
}

func TestLeastConfidenceBasic(t *testing.T) {
	records := []state.Record{
		withConf(rec(0, false), 0.9),
		withConf(rec(1, false), 0.1),
		withConf(rec(2, false), 0.5),
	}
	assert.Equal(t, []int{1, 2}, LeastConfidence(records, 2))
}

func TestLeastConfidenceUsesWeakestDimension(t *testing.T) {
	records := []state.Record{
		withConf(rec(0, false), 0.9, 0.2),
		withConf(rec(1, false), 0.3, 0.3),
	}
	assert.Equal(t, []int{0, 1}, LeastConfidence(records, 2))
}

func TestLeastConfidenceColdItemsFirst(t *testing.T) {
	records := []state.Record{
		withConf(rec(0, false), 0.05),
		rec(1, false),
	}
	assert.Equal(t, []int{1, 0}, LeastConfidence(records, 2))
}

func TestLeastConfidenceIgnoresLabeled(t *testing.T) {
	records := []state.Record{
		withConf(rec(0, true), 0.0),
		withConf(rec(1, false), 0.2),
	}
	assert.Equal(t, []int{1}, LeastConfidence(records, 1))
}

func TestSeedsExcludedAfterColdStart(t *testing.T) {
	st, err := state.New([]string{"a", "b", "c", "d", "e"}, []int{0, 1}, func(i int, _ string) state.Proposal {
		return state.Proposal{Labels: map[string]state.LabelValue{"severity": []state.LabelValue{"A", "B"}[i]}, Source: state.SourceSeed}
	})
	require.NoError(t, err)
	_, err = st.LabelSeeds()
	require.NoError(t, err)

	got := LeastConfidence(st.Records(), 2)
	require.Len(t, got, 2)
	for _, idx := range got {
		assert.Contains(t, []int{2, 3, 4}, idx)
	}
}

func TestBALDPrefersDisagreement(t *testing.T) {
	records := []state.Record{
		withMC(rec(0, false), []float64{0.9, 0.1}, []float64{0.9, 0.1}),
		withMC(rec(1, false), []float64{0.9, 0.1}, []float64{0.1, 0.9}),
		rec(2, false),
		withMC(rec(3, true), []float64{0.5, 0.5}, []float64{0.0, 1.0}),
	}
	assert.Equal(t, []int{1, 0, 2}, BALD(records, 5))
}

func TestBALDNoSamplesFallsBackToIndexOrder(t *testing.T) {
	records := []state.Record{rec(0, false), rec(1, true), rec(2, false)}
	assert.Equal(t, []int{0, 2}, BALD(records, 2))
}

func TestCoresetFarthestFirst(t *testing.T) {
	records := []state.Record{
		withEmb(rec(0, true), 0, 0),
		withEmb(rec(1, false), 1, 0),
		withEmb(rec(2, false), 5, 0),
		withEmb(rec(3, false), 3, 0),
		rec(4, false),
	}
	assert.Equal(t, []int{2, 3, 1, 4}, Coreset(records, 4))
}

func TestCoresetColdStart(t *testing.T) {
	records := []state.Record{
		withEmb(rec(0, false), 9, 9),
		withEmb(rec(1, false), 0, 0),
		withEmb(rec(2, false), 1, 1),
	}
	assert.Equal(t, []int{0, 1}, Coreset(records, 2))
}

func TestHybridLambdaClamped(t *testing.T) {
	records := []state.Record{
		withEmb(rec(0, true), 0, 0),
		withMC(withEmb(rec(1, false), 1, 0), []float64{0.5, 0.5}, []float64{0.5, 0.5}),
		withMC(withEmb(rec(2, false), 9, 0), []float64{1, 0}, []float64{1, 0}),
	}
	assert.Equal(t, Coreset(records, 2), Hybrid(records, 2, 7))
	assert.Equal(t, BALD(records, 2), Hybrid(records, 2, -3))
}

func TestSelectUnknownKind(t *testing.T) {
	_, err := Select("random", nil, 1, Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	k, err := ParseKind(" Hybrid ")
	require.NoError(t, err)
	assert.Equal(t, KindHybrid, k)
}

func TestScheduleLambda(t *testing.T) {
	s := DefaultSchedule()
	kind, p := s.ForIteration(1)
	assert.Equal(t, KindCoreset, kind)
	assert.Equal(t, 1.0, p.Lambda)

	kind, _ = s.ForIteration(2)
	assert.Equal(t, KindCoreset, kind)

	kind, p = s.ForIteration(3)
	assert.Equal(t, KindHybrid, kind)
	assert.InDelta(t, 0.85, p.Lambda, 1e-9)

	assert.Equal(t, 0.0, s.Lambda(100))
	assert.Equal(t, 0.3, Schedule{Warmup: 0, Decay: 1, MinLambda: 0.3}.Lambda(5))
}

func TestSelectSeedsSpreadsOut(t *testing.T) {
	emb := [][]float32{{0, 0}, {0.1, 0}, {10, 0}, {-10, 0}, nil}
	got := SelectSeeds(emb, 3)
	require.Len(t, got, 3)
	sorted := append([]int(nil), got...)
	sort.Ints(sorted)
	assert.Equal(t, []int{0, 2, 3}, sorted)

	all := SelectSeeds(emb, 10)
	assert.Len(t, all, 5)
	assert.Equal(t, 4, all[4])
}

// genRecords draws a pool with a random mix of signals.
func genRecords(rt *rapid.T) []state.Record {
	n := rapid.IntRange(1, 25).Draw(rt, "n")
	records := make([]state.Record, n)
	for i := range records {
		r := rec(i, rapid.Bool().Draw(rt, "labeled"))
		if rapid.Bool().Draw(rt, "conf") {
			r.Confidences["severity"] = rapid.Float64Range(0, 1).Draw(rt, "c")
		}
		if rapid.Bool().Draw(rt, "emb") {
			r.Embedding = []float32{
				float32(rapid.IntRange(-5, 5).Draw(rt, "x")),
				float32(rapid.IntRange(-5, 5).Draw(rt, "y")),
			}
		}
		if rapid.Bool().Draw(rt, "mc") {
			a := rapid.Float64Range(0, 1).Draw(rt, "a")
			b := rapid.Float64Range(0, 1).Draw(rt, "b")
			r.MCSamples = map[string][][]float64{"severity": {{a, 1 - a}, {b, 1 - b}}}
		}
		records[i] = r
	}
	return records
}

func unlabeledCount(records []state.Record) int {
	c := 0
	for _, r := range records {
		if !r.Labeled {
			c++
		}
	}
	return c
}

func TestStrategiesNeverReturnLabeledProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		records := genRecords(rt)
		n := rapid.IntRange(0, 30).Draw(rt, "batch")
		lambda := rapid.Float64Range(0, 1).Draw(rt, "lambda")
		want := n
		if u := unlabeledCount(records); u < want {
			want = u
		}
		for _, kind := range Kinds {
			got, err := Select(kind, records, n, Params{Lambda: lambda})
			if err != nil {
				rt.Fatalf("%s: %v", kind, err)
			}
			if len(got) != want {
				rt.Fatalf("%s: expected %d indices, got %d", kind, want, len(got))
			}
			seen := map[int]bool{}
			for _, idx := range got {
				if records[idx].Labeled {
					rt.Fatalf("%s returned labeled index %d", kind, idx)
				}
				if seen[idx] {
					rt.Fatalf("%s returned %d twice", kind, idx)
				}
				seen[idx] = true
			}
		}
	})
}

func TestLeastConfidenceAscendingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		records := genRecords(rt)
		got := LeastConfidence(records, len(records))
		for i := 1; i < len(got); i++ {
			prev := minConfidence(records[got[i-1]].Confidences)
			cur := minConfidence(records[got[i]].Confidences)
			if prev > cur {
				rt.Fatalf("not ascending at %d: %f > %f", i, prev, cur)
			}
		}
	})
}

func TestHybridEndpointsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		records := genRecords(rt)
		n := rapid.IntRange(0, 10).Draw(rt, "batch")
		if got, want := Hybrid(records, n, 1), Coreset(records, n); !equalInts(got, want) {
			rt.Fatalf("lambda=1: hybrid %v != coreset %v", got, want)
		}
		if got, want := Hybrid(records, n, 0), BALD(records, n); !equalInts(got, want) {
			rt.Fatalf("lambda=0: hybrid %v != bald %v", got, want)
		}
	})
}

func TestDeterministicProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		records := genRecords(rt)
		for _, kind := range Kinds {
			a, _ := Select(kind, records, 5, Params{Lambda: 0.5})
			b, _ := Select(kind, records, 5, Params{Lambda: 0.5})
			if !equalInts(a, b) {
				rt.Fatalf("%s not deterministic: %v vs %v", kind, a, b)
			}
		}
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
