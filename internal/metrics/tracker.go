package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// #region record
// Record is one line of the metrics log.
type Record struct {
	Iteration         int                 `json:"iteration"`
	BatchIndices      []int               `json:"batch_indices"`
	Strategy          string              `json:"strategy"`
	Lambda            *float64            `json:"lambda"`
	PerDimensionF1    map[string]*float64 `json:"per_dimension_f1"`
	PerDimensionKappa map[string]*float64 `json:"per_dimension_kappa"`
	MacroScore        *float64            `json:"macro_score"`
	NumLabeled        int                 `json:"num_labeled"`
	StopKappa         map[string]*float64 `json:"stop_kappa"`
	Timestamp         string              `json:"timestamp"`
}

// Round is the in-memory form of a record; NaN marks missing values.
type Round struct {
	Iteration    int
	BatchIndices []int
	Strategy     string
	Lambda       float64
	PerDimF1     map[string]float64
	PerDimKappa  map[string]float64
	MacroScore   float64
	NumLabeled   int
	StopKappa    map[string]float64
	Timestamp    time.Time
}

// #endregion record

// #region tracker
// Tracker appends one JSON line per round to a metrics log.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker creates the log's directory. The file itself is created on the
// first write.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	return &Tracker{path: path}, nil
}

// Path returns the log location.
func (t *Tracker) Path() string {
	return t.path
}

// Log appends a round.
func (t *Tracker) Log(r Round) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(toRecord(r))
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write metrics log: %w", err)
	}
	return nil
}

// ReadAll parses every line of a metrics log. A missing file yields no rounds.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metrics log: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("metrics line %d: %w", line, err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

// #endregion tracker

// #region nan-helpers
func toRecord(r Round) Record {
	batch := r.BatchIndices
	if batch == nil {
		batch = []int{}
	}
	return Record{
		Iteration:         r.Iteration,
		BatchIndices:      batch,
		Strategy:          r.Strategy,
		Lambda:            finite(r.Lambda),
		PerDimensionF1:    finiteMap(r.PerDimF1),
		PerDimensionKappa: finiteMap(r.PerDimKappa),
		MacroScore:        finite(r.MacroScore),
		NumLabeled:        r.NumLabeled,
		StopKappa:         finiteMap(r.StopKappa),
		Timestamp:         r.Timestamp.Format(time.RFC3339Nano),
	}
}

// finite maps NaN and infinities to JSON null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func finiteMap(m map[string]float64) map[string]*float64 {
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		out[k] = finite(v)
	}
	return out
}

// #endregion nan-helpers
