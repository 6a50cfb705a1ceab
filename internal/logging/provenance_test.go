package logging

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE label_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL,
		iteration     INTEGER NOT NULL,
		item_index    INTEGER NOT NULL,
		decision      TEXT NOT NULL,
		source        TEXT,
		model_id      TEXT,
		labels_json   TEXT,
		reason        TEXT,
		attempts      INTEGER NOT NULL DEFAULT 1,
		created_at    TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-event-tests
func TestLogEvent_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	ev := LabelEvent{
		RunID:      "r1",
		Iteration:  2,
		ItemIndex:  7,
		Decision:   DecisionLabeled,
		Source:     "weak_llm",
		ModelID:    "gpt-4o-mini",
		LabelsJSON: `{"severity":"high"}`,
		Attempts:   2,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogEvent(db, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := ListEvents(db, "r1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ItemIndex != 7 || got.Attempts != 2 || got.ModelID != "gpt-4o-mini" {
		t.Errorf("unexpected event: %+v", got)
	}
	if !got.CreatedAt.Equal(ev.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", ev.CreatedAt, got.CreatedAt)
	}
}

func TestLogEvent_NullableFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogEvent(db, LabelEvent{RunID: "r1", ItemIndex: 3, Decision: DecisionSkipped, Reason: "parse failed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var source, labels sql.NullString
	var attempts int
	db.QueryRow("SELECT source, labels_json, attempts FROM label_events").Scan(&source, &labels, &attempts)
	if source.Valid {
		t.Error("expected source to be NULL")
	}
	if labels.Valid {
		t.Error("expected labels_json to be NULL")
	}
	if attempts != 1 {
		t.Errorf("expected default attempts 1, got %d", attempts)
	}
}

func TestLogEvent_MissingTable(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := LogEvent(db, LabelEvent{RunID: "r1", Decision: DecisionLabeled}); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestListEvents_FiltersByRun(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for i, run := range []string{"a", "b", "a"} {
		if err := LogEvent(db, LabelEvent{RunID: run, ItemIndex: i, Decision: DecisionLabeled}); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}
	events, err := ListEvents(db, "a")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].ItemIndex != 0 || events[1].ItemIndex != 2 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// #endregion log-event-tests

// #region logger-tests
func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("hello", "component", "test")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q", buf.String())
	}
	if line["msg"] != "hello" || line["component"] != "test" {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected level error")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected format error")
	}
}

// #endregion logger-tests
