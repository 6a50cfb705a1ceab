package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Dimensions      []string                `json:"dimensions"`
	Config          FixtureConfig           `json:"config"`
	Snapshots       []state.Snapshot        `json:"snapshots"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	ExpectedStop    int                     `json:"expected_stop_round"`
}

// FixtureConfig mirrors stopping.Config with JSON tags.
type FixtureConfig struct {
	MinIterations       int     `json:"min_iterations"`
	Patience            int     `json:"patience"`
	WindowSize          int     `json:"window_size"`
	MeanKappaThreshold  float64 `json:"mean_kappa_threshold"`
	FloorKappaThreshold float64 `json:"floor_kappa_threshold"`
}

// FixtureExpectedResult captures the expected action per round.
type FixtureExpectedResult struct {
	Round  int    `json:"round"`
	Action string `json:"action"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToStoppingConfig converts a FixtureConfig to a stopping.Config.
func (fc *FixtureConfig) ToStoppingConfig() stopping.Config {
	return stopping.Config{
		MinIterations:       fc.MinIterations,
		Patience:            fc.Patience,
		WindowSize:          fc.WindowSize,
		MeanKappaThreshold:  fc.MeanKappaThreshold,
		FloorKappaThreshold: fc.FloorKappaThreshold,
	}
}

// History converts the fixture snapshots to a prediction history.
func (f *Fixture) History() state.PredictionHistory {
	var h state.PredictionHistory
	for _, s := range f.Snapshots {
		h.Add(s)
	}
	return h
}

// ExportFixture builds a fixture from a saved history, recording the actions
// the given config produces so later changes to the controller are caught.
func ExportFixture(description string, history state.PredictionHistory, dims []string, config stopping.Config) (*Fixture, error) {
	results, err := Replay(history, dims, config)
	if err != nil {
		return nil, err
	}
	f := &Fixture{
		Description: description,
		Dimensions:  dims,
		Config: FixtureConfig{
			MinIterations:       config.MinIterations,
			Patience:            config.Patience,
			WindowSize:          config.WindowSize,
			MeanKappaThreshold:  config.MeanKappaThreshold,
			FloorKappaThreshold: config.FloorKappaThreshold,
		},
		Snapshots:    history.Snapshots,
		ExpectedStop: Summarize(results).StoppedAt,
	}
	for _, r := range results {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{Round: r.Round, Action: r.Action})
	}
	return f, nil
}

// #endregion fixture-loader
