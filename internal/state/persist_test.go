package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	st, err := New([]string{"crash", "typo", "slow"}, []int{0}, seedFactory("high"))
	require.NoError(t, err)
	_, err = st.LabelSeeds()
	require.NoError(t, err)

	dist := 0.25
	require.NoError(t, st.ApplyLabels(2,
		map[string]LabelValue{"severity": "low", "urgency": "medium"},
		map[string]float64{"severity": 0.7, "urgency": 0.6},
		map[string]string{"severity": "cosmetic"},
		[]Example{{Text: "crash", Labels: map[string]string{"severity": "high"}, Priority: 0.8, Distance: &dist}},
		"weak_llm", "qwen"))
	require.NoError(t, st.SetEmbedding(1, []float32{0.5, 0.25}))
	_, err = st.SetConfidence(1, "severity", 0.33)
	require.NoError(t, err)
	v := "low"
	st.AddSnapshot(Snapshot{0: {"severity": &v, "impact": nil}})

	path := filepath.Join(t.TempDir(), "state", "curation_state.json")
	require.NoError(t, st.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(st.Records(), loaded.Records()); diff != "" {
		t.Fatalf("records differ after round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(st.History(), loaded.History()); diff != "" {
		t.Fatalf("history differs after round trip (-want +got):\n%s", diff)
	}
}

func TestLoadLegacyList(t *testing.T) {
	legacy := `[
	  {"index": 0, "text": "a", "labeled": true, "labels": {"severity": "low"}},
	  {"index": 1, "text": "b", "labeled": false}
	]`
	st, err := Decode([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, st.LabeledIndices())
	rec, _ := st.Record(1)
	assert.NotNil(t, rec.Labels)
	assert.Equal(t, 0, st.History().Len())
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	data := `{"format_version": 1, "records": [{"index": 0, "text": "a", "labeled": false, "added_later": 3}], "prediction_history": []}`
	_, err := Decode([]byte(data))
	assert.NoError(t, err)
}

func TestDecodeRejectsCorruptState(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"bad json":         `{"records": [`,
		"index gap":        `{"records": [{"index": 1, "text": "a"}]}`,
		"labeled no label": `{"records": [{"index": 0, "text": "a", "labeled": true}]}`,
		"future version":   `{"format_version": 99, "records": []}`,
		"null snapshot":    `{"records": [], "prediction_history": [null]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptState), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, _ := New([]string{"a"}, nil, nil)
	require.NoError(t, st.Save(filepath.Join(dir, "s.json")))
	require.NoError(t, st.Save(filepath.Join(dir, "s.json")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRoundTripPartitionProperty(t *testing.T) {
	labels := []LabelValue{"low", "medium", "high"}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		texts := make([]string, n)
		for i := range texts {
			texts[i] = rapid.String().Draw(rt, "text")
		}
		st, _ := New(texts, nil, nil)
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, "label") {
				l := rapid.SampledFrom(labels).Draw(rt, "value")
				if err := st.ApplyLabels(i, map[string]LabelValue{"severity": l}, nil, nil, nil, "weak_llm", "m"); err != nil {
					rt.Fatalf("ApplyLabels: %v", err)
				}
			}
		}

		data, err := st.Encode()
		if err != nil {
			rt.Fatalf("Encode: %v", err)
		}
		loaded, err := Decode(data)
		if err != nil {
			rt.Fatalf("Decode: %v", err)
		}
		if diff := cmp.Diff(st.LabeledIndices(), loaded.LabeledIndices()); diff != "" {
			rt.Fatalf("labeled partition differs: %s", diff)
		}
		for _, idx := range st.LabeledIndices() {
			want, _ := st.GetLabelsAsDict(idx)
			got, _ := loaded.GetLabelsAsDict(idx)
			if diff := cmp.Diff(want, got); diff != "" {
				rt.Fatalf("labels of %d differ: %s", idx, diff)
			}
		}
	})
}
