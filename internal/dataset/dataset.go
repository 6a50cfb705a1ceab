package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingColumn is returned when the text column is absent.
var ErrMissingColumn = errors.New("missing column")

// #region split
// Split is one loaded data file: item texts plus, for labeled splits, one
// label column per dimension. Labels[dim][i] is nil when row i has no label
// for dim.
type Split struct {
	Texts  []string
	Labels map[string][]*string
}

// Len returns the number of rows.
func (s *Split) Len() int {
	return len(s.Texts)
}

// HasLabels reports whether every dimension has a label column.
func (s *Split) HasLabels(dims []string) bool {
	for _, d := range dims {
		if _, ok := s.Labels[d]; !ok {
			return false
		}
	}
	return true
}

// #endregion split

// #region load
// Load reads a .tsv, .csv or .jsonl file. textColumn names the item text;
// columns named after dims become labels.
func Load(path, textColumn string, dims []string) (*Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var s *Split
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		s, err = readJSONL(f, textColumn, dims)
	case ".csv":
		s, err = readDelimited(f, ',', textColumn, dims)
	default:
		s, err = readDelimited(f, '\t', textColumn, dims)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

func readDelimited(r io.Reader, sep rune, textColumn string, dims []string) (*Split, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))] = i
	}
	textIdx, ok := cols[textColumn]
	if !ok {
		return nil, fmt.Errorf("%q: %w", textColumn, ErrMissingColumn)
	}

	s := &Split{Labels: map[string][]*string{}}
	labelIdx := map[string]int{}
	for _, d := range dims {
		if i, ok := cols[d]; ok {
			labelIdx[d] = i
			s.Labels[d] = nil
		}
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if textIdx >= len(row) || strings.TrimSpace(row[textIdx]) == "" {
			continue
		}
		s.Texts = append(s.Texts, row[textIdx])
		for d, i := range labelIdx {
			var v *string
			if i < len(row) {
				if l := strings.ToLower(strings.TrimSpace(row[i])); l != "" {
					v = &l
				}
			}
			s.Labels[d] = append(s.Labels[d], v)
		}
	}
	return s, nil
}

func readJSONL(r io.Reader, textColumn string, dims []string) (*Split, error) {
	s := &Split{Labels: map[string][]*string{}}
	seen := map[string]bool{}
	var rows []map[string]any

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		text, _ := row[textColumn].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, d := range dims {
			if _, ok := row[d]; ok {
				seen[d] = true
			}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) > 0 && len(seen) == 0 {
		if _, ok := rows[0][textColumn]; !ok {
			return nil, fmt.Errorf("%q: %w", textColumn, ErrMissingColumn)
		}
	}

	for _, row := range rows {
		s.Texts = append(s.Texts, row[textColumn].(string))
		for d := range seen {
			var v *string
			if l, ok := row[d].(string); ok {
				if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
					v = &l
				}
			}
			s.Labels[d] = append(s.Labels[d], v)
		}
	}
	return s, nil
}

// #endregion load
