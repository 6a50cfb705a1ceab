package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FormatVersion is written into every saved state file. Newer versions may
// only add optional fields.
const FormatVersion = 1

// #region payload
type statePayload struct {
	FormatVersion     int        `json:"format_version"`
	Records           []Record   `json:"records"`
	PredictionHistory []Snapshot `json:"prediction_history"`
}

// #endregion payload

// #region encode
// Encode serializes the full state, including provenance and history.
func (s *CurationState) Encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload := statePayload{
		FormatVersion:     FormatVersion,
		Records:           s.records,
		PredictionHistory: s.history.Snapshots,
	}
	if payload.PredictionHistory == nil {
		payload.PredictionHistory = []Snapshot{}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// Save writes the state to path atomically: a crash mid-write leaves the
// previous file intact.
func (s *CurationState) Save(path string) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// #endregion encode

// #region decode
// Decode rebuilds a state from its serialized form. Both the current object
// form and the legacy bare record list are accepted.
func Decode(data []byte) (*CurationState, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrCorruptState)
	}

	var payload statePayload
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payload.Records); err != nil {
			return nil, fmt.Errorf("decode legacy records: %v: %w", err, ErrCorruptState)
		}
	} else {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("decode state: %v: %w", err, ErrCorruptState)
		}
		if payload.FormatVersion > FormatVersion {
			return nil, fmt.Errorf("format version %d newer than %d: %w",
				payload.FormatVersion, FormatVersion, ErrCorruptState)
		}
	}

	for i := range payload.Records {
		rec := &payload.Records[i]
		if rec.Index != i {
			return nil, fmt.Errorf("record at position %d has index %d: %w", i, rec.Index, ErrCorruptState)
		}
		if rec.Labeled && len(rec.Labels) == 0 {
			return nil, fmt.Errorf("record %d labeled without labels: %w", i, ErrCorruptState)
		}
		if rec.Labels == nil {
			rec.Labels = map[string]LabelValue{}
		}
		if rec.Confidences == nil {
			rec.Confidences = map[string]float64{}
		}
		if rec.Rationale == nil {
			rec.Rationale = map[string]string{}
		}
		if rec.Evidence == nil {
			rec.Evidence = []Example{}
		}
	}

	st := &CurationState{records: payload.Records}
	if st.records == nil {
		st.records = []Record{}
	}
	for _, snap := range payload.PredictionHistory {
		if snap == nil {
			return nil, fmt.Errorf("null snapshot in history: %w", ErrCorruptState)
		}
		st.history.Add(snap)
	}
	return st, nil
}

// Load reads a state file written by Save.
func Load(path string) (*CurationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return st, nil
}

// #endregion decode

// #region atomic-write
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// #endregion atomic-write
