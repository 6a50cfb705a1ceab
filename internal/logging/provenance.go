package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-event
// LogEvent writes a provenance entry to the label_events table.
func LogEvent(db *sql.DB, ev LabelEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Attempts <= 0 {
		ev.Attempts = 1
	}

	_, err := db.Exec(
		`INSERT INTO label_events (run_id, iteration, item_index, decision, source, model_id, labels_json, reason, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID,
		ev.Iteration,
		ev.ItemIndex,
		ev.Decision,
		nullIfEmpty(ev.Source),
		nullIfEmpty(ev.ModelID),
		nullIfEmpty(ev.LabelsJSON),
		nullIfEmpty(ev.Reason),
		ev.Attempts,
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region list-events
// ListEvents returns a run's events in insertion order.
func ListEvents(db *sql.DB, runID string) ([]LabelEvent, error) {
	rows, err := db.Query(
		`SELECT run_id, iteration, item_index, decision, source, model_id, labels_json, reason, attempts, created_at
		 FROM label_events WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []LabelEvent
	for rows.Next() {
		var ev LabelEvent
		var source, modelID, labels, reason sql.NullString
		var created string
		if err := rows.Scan(&ev.RunID, &ev.Iteration, &ev.ItemIndex, &ev.Decision,
			&source, &modelID, &labels, &reason, &ev.Attempts, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Source = source.String
		ev.ModelID = modelID.String
		ev.LabelsJSON = labels.String
		ev.Reason = reason.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// #endregion list-events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
