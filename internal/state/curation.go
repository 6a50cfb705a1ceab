package state

import (
	"fmt"
	"sync"
)

// #region prediction-history
// PredictionHistory is the append-only sequence of stop-set snapshots,
// one per completed round.
type PredictionHistory struct {
	Snapshots []Snapshot `json:"snapshots"`
}

// Add appends a copy of the snapshot.
func (h *PredictionHistory) Add(s Snapshot) {
	h.Snapshots = append(h.Snapshots, s.Clone())
}

// Len returns the number of recorded rounds.
func (h PredictionHistory) Len() int {
	return len(h.Snapshots)
}

// LastK returns the most recent k snapshots, oldest first.
func (h PredictionHistory) LastK(k int) ([]Snapshot, error) {
	if k > len(h.Snapshots) {
		return nil, fmt.Errorf("requested %d snapshots, only %d available", k, len(h.Snapshots))
	}
	return h.Snapshots[len(h.Snapshots)-k:], nil
}

// #endregion prediction-history

// #region curation-state
// CurationState owns every Record plus the prediction history. Records are
// addressed by their stable index; callers outside the package only ever see
// copies. Writes are serialized through mu so the labeled flag is never
// observed half-updated.
type CurationState struct {
	mu      sync.RWMutex
	records []Record
	history PredictionHistory
}

// New builds a state for the given pool. Records listed in seedIndices carry
// a seed proposal from factory but stay unlabeled until LabelSeeds runs.
func New(texts []string, seedIndices []int, factory SeedFactory) (*CurationState, error) {
	seeds := make(map[int]bool, len(seedIndices))
	for _, idx := range seedIndices {
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("seed %d: %w", idx, ErrIndexOutOfRange)
		}
		seeds[idx] = true
	}

	records := make([]Record, len(texts))
	for i, text := range texts {
		rec := Record{
			Index:       i,
			Text:        text,
			Labels:      map[string]LabelValue{},
			Confidences: map[string]float64{},
			Rationale:   map[string]string{},
			Evidence:    []Example{},
		}
		if factory != nil && seeds[i] {
			p := factory(i, text)
			rec.SeedProposal = &p
		}
		records[i] = rec
	}
	return &CurationState{records: records}, nil
}

// Len returns the pool size.
func (s *CurationState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// #endregion curation-state

// #region accessors
// UnlabeledIndices returns the indices of unlabeled records in ascending order.
func (s *CurationState) UnlabeledIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []int{}
	for _, r := range s.records {
		if !r.Labeled {
			out = append(out, r.Index)
		}
	}
	return out
}

// LabeledIndices returns the indices of labeled records in ascending order.
func (s *CurationState) LabeledIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []int{}
	for _, r := range s.records {
		if r.Labeled {
			out = append(out, r.Index)
		}
	}
	return out
}

// Done reports whether every record is labeled.
func (s *CurationState) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if !r.Labeled {
			return false
		}
	}
	return true
}

// Record returns a copy of the record at idx.
func (s *CurationState) Record(idx int) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.records) {
		return Record{}, fmt.Errorf("record %d: %w", idx, ErrIndexOutOfRange)
	}
	return cloneRecord(s.records[idx]), nil
}

// Records returns a read-only copy of every record, in index order.
func (s *CurationState) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// Texts returns the text of every record, in index order.
func (s *CurationState) Texts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Text
	}
	return out
}

// GetLabelsAsDict returns the labels of a record as plain strings.
func (s *CurationState) GetLabelsAsDict(idx int) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.records) {
		return nil, fmt.Errorf("record %d: %w", idx, ErrIndexOutOfRange)
	}
	out := make(map[string]string, len(s.records[idx].Labels))
	for k, v := range s.records[idx].Labels {
		out[k] = string(v)
	}
	return out, nil
}

// #endregion accessors

// #region mutation
// ApplyLabels sets every labeling field of one record and flips it to
// labeled. Calling it again on the same index overwrites.
func (s *CurationState) ApplyLabels(
	idx int,
	labels map[string]LabelValue,
	confidences map[string]float64,
	rationale map[string]string,
	evidence []Example,
	source, modelID string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(idx, Proposal{
		Labels:      labels,
		Confidences: confidences,
		Rationale:   rationale,
		Evidence:    evidence,
		Source:      source,
		ModelID:     modelID,
	})
}

// MarkAsLabeled is the batch form of ApplyLabels. The whole batch is
// validated before any record changes.
func (s *CurationState) MarkAsLabeled(indices []int, proposals []Proposal) error {
	if len(indices) != len(proposals) {
		return fmt.Errorf("mark as labeled: %d indices, %d proposals: %w",
			len(indices), len(proposals), ErrLengthMismatch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.records) {
			return fmt.Errorf("mark as labeled %d: %w", idx, ErrIndexOutOfRange)
		}
		if len(proposals[i].Labels) == 0 {
			return fmt.Errorf("mark as labeled %d: %w", idx, ErrEmptyLabels)
		}
	}
	for i, idx := range indices {
		if err := s.applyLocked(idx, proposals[i]); err != nil {
			return err
		}
	}
	return nil
}

// LabelSeeds labels every record that carries a seed proposal and returns
// the indices it labeled.
func (s *CurationState) LabelSeeds() ([]int, error) {
	s.mu.RLock()
	var indices []int
	var proposals []Proposal
	for _, r := range s.records {
		if r.SeedProposal != nil && !r.Labeled {
			indices = append(indices, r.Index)
			proposals = append(proposals, *r.SeedProposal)
		}
	}
	s.mu.RUnlock()
	if len(indices) == 0 {
		return nil, nil
	}
	if err := s.MarkAsLabeled(indices, proposals); err != nil {
		return nil, fmt.Errorf("label seeds: %w", err)
	}
	return indices, nil
}

// SetConfidence writes a model confidence for an unlabeled record. Labeled
// records keep the confidence they were labeled with; the call reports
// false for them.
func (s *CurationState) SetConfidence(idx int, dim string, v float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.records) {
		return false, fmt.Errorf("set confidence %d: %w", idx, ErrIndexOutOfRange)
	}
	rec := &s.records[idx]
	if rec.Labeled {
		return false, nil
	}
	if rec.Confidences == nil {
		rec.Confidences = map[string]float64{}
	}
	rec.Confidences[dim] = v
	return true, nil
}

// SetEmbedding attaches an externally computed embedding to a record.
func (s *CurationState) SetEmbedding(idx int, v []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.records) {
		return fmt.Errorf("set embedding %d: %w", idx, ErrIndexOutOfRange)
	}
	s.records[idx].Embedding = append([]float32(nil), v...)
	return nil
}

// SetMCSamples replaces the stochastic probability samples of one dimension.
func (s *CurationState) SetMCSamples(idx int, dim string, samples [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.records) {
		return fmt.Errorf("set mc samples %d: %w", idx, ErrIndexOutOfRange)
	}
	rec := &s.records[idx]
	if rec.MCSamples == nil {
		rec.MCSamples = map[string][][]float64{}
	}
	rec.MCSamples[dim] = samples
	return nil
}

// ClearMCSamples drops every record's stochastic samples.
func (s *CurationState) ClearMCSamples() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		s.records[i].MCSamples = nil
	}
}

func (s *CurationState) applyLocked(idx int, p Proposal) error {
	if idx < 0 || idx >= len(s.records) {
		return fmt.Errorf("apply labels %d: %w", idx, ErrIndexOutOfRange)
	}
	if len(p.Labels) == 0 {
		return fmt.Errorf("apply labels %d: %w", idx, ErrEmptyLabels)
	}
	rec := &s.records[idx]
	rec.Labels = copyLabels(p.Labels)
	rec.Confidences = copyFloats(p.Confidences)
	rec.Rationale = copyStrings(p.Rationale)
	rec.Evidence = append([]Example{}, p.Evidence...)
	rec.Source = p.Source
	rec.ModelID = p.ModelID
	rec.LabelSource = p.Source
	rec.Labeled = true
	return nil
}

// #endregion mutation

// #region history
// AddSnapshot appends one round's stop-set predictions.
func (s *CurationState) AddSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Add(snap)
}

// History returns a copy of the prediction history.
func (s *CurationState) History() PredictionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := PredictionHistory{Snapshots: make([]Snapshot, len(s.history.Snapshots))}
	for i, snap := range s.history.Snapshots {
		out.Snapshots[i] = snap.Clone()
	}
	return out
}

// #endregion history

// #region clone-helpers
func cloneRecord(r Record) Record {
	out := r
	out.Labels = copyLabels(r.Labels)
	out.Confidences = copyFloats(r.Confidences)
	out.Rationale = copyStrings(r.Rationale)
	out.Evidence = append([]Example{}, r.Evidence...)
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.SeedProposal != nil {
		p := *r.SeedProposal
		out.SeedProposal = &p
	}
	if r.MCSamples != nil {
		out.MCSamples = make(map[string][][]float64, len(r.MCSamples))
		for dim, samples := range r.MCSamples {
			out.MCSamples[dim] = samples
		}
	}
	return out
}

func copyLabels(m map[string]LabelValue) map[string]LabelValue {
	out := make(map[string]LabelValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion clone-helpers
