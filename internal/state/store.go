package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	config_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state_versions (
	version_id    TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	parent_id     TEXT,
	iteration     INTEGER NOT NULL,
	num_labeled   INTEGER NOT NULL,
	state_json    BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id),
	FOREIGN KEY (parent_id) REFERENCES state_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES state_versions(version_id)
);

CREATE TABLE IF NOT EXISTS label_events (
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
);

CREATE TABLE IF NOT EXISTS round_metrics (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL,
	iteration         INTEGER NOT NULL,
	batch_json        TEXT NOT NULL,
	strategy          TEXT NOT NULL,
	lambda            REAL,
	macro_score       REAL,
	num_labeled       INTEGER NOT NULL,
	per_dim_f1_json   TEXT,
	per_dim_kappa_json TEXT,
	created_at        TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store is the SQLite run ledger: versioned state checkpoints, labeling
// provenance and per-round metrics.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region runs
// CreateRun registers a new curation run and returns its record.
func (s *Store) CreateRun(strategy, configJSON string) (RunRecord, error) {
	run := RunRecord{
		RunID:      uuid.New().String(),
		Strategy:   strategy,
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, strategy, config_json, created_at) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Strategy, nullIfEmpty(run.ConfigJSON), run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun() (RunRecord, error) {
	var run RunRecord
	var cfg sql.NullString
	var created string
	err := s.db.QueryRow(
		`SELECT run_id, strategy, config_json, created_at FROM runs ORDER BY rowid DESC LIMIT 1`,
	).Scan(&run.RunID, &run.Strategy, &cfg, &created)
	if err != nil {
		return RunRecord{}, fmt.Errorf("latest run: %w", err)
	}
	run.ConfigJSON = cfg.String
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return run, nil
}

// #endregion runs

// #region commit-version
// CommitVersion checkpoints the state as a new version, parented on the
// active version, and moves the active pointer in the same transaction.
func (s *Store) CommitVersion(runID string, iteration int, st *CurationState) (VersionRecord, error) {
	data, err := st.Encode()
	if err != nil {
		return VersionRecord{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return VersionRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_state WHERE id = 1`).Scan(&parent)
	if err != nil && err != sql.ErrNoRows {
		return VersionRecord{}, fmt.Errorf("read active: %w", err)
	}

	rec := VersionRecord{
		VersionID:  uuid.New().String(),
		RunID:      runID,
		ParentID:   parent.String,
		Iteration:  iteration,
		NumLabeled: len(st.LabeledIndices()),
		StateJSON:  data,
		CreatedAt:  time.Now().UTC(),
	}

	var parentPtr interface{}
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}

	_, err = tx.Exec(
		`INSERT INTO state_versions (version_id, run_id, parent_id, iteration, num_labeled, state_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, rec.RunID, parentPtr, rec.Iteration, rec.NumLabeled, rec.StateJSON,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return VersionRecord{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return VersionRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VersionRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion commit-version

// #region get-current
// GetCurrent reads the active state version.
func (s *Store) GetCurrent() (VersionRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_state WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return VersionRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// LoadCurrentState decodes the active version back into a CurationState.
func (s *Store) LoadCurrentState() (*CurationState, VersionRecord, error) {
	rec, err := s.GetCurrent()
	if err != nil {
		return nil, VersionRecord{}, err
	}
	st, err := Decode(rec.StateJSON)
	if err != nil {
		return nil, VersionRecord{}, fmt.Errorf("decode version %s: %w", rec.VersionID, err)
	}
	return st, rec, nil
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific state version by ID.
func (s *Store) GetVersion(id string) (VersionRecord, error) {
	rows, err := s.db.Query(
		`SELECT version_id, run_id, parent_id, iteration, num_labeled, state_json, created_at
		 FROM state_versions WHERE version_id = ?`, id,
	)
	if err != nil {
		return VersionRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return VersionRecord{}, fmt.Errorf("get version %s: %w", id, err)
		}
		return VersionRecord{}, fmt.Errorf("get version %s: %w", id, sql.ErrNoRows)
	}
	return scanVersion(rows)
}

// #endregion get-version

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM state_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent state versions, newest first.
func (s *Store) ListVersions(limit int) ([]VersionRecord, error) {
	rows, err := s.db.Query(
		`SELECT version_id, run_id, parent_id, iteration, num_labeled, state_json, created_at
		 FROM state_versions ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []VersionRecord
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanVersion(rows *sql.Rows) (VersionRecord, error) {
	var rec VersionRecord
	var parentID sql.NullString
	var createdStr string
	if err := rows.Scan(&rec.VersionID, &rec.RunID, &parentID, &rec.Iteration,
		&rec.NumLabeled, &rec.StateJSON, &createdStr); err != nil {
		return VersionRecord{}, fmt.Errorf("scan row: %w", err)
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion list-versions

// #region round-metrics
// RecordRoundMetrics mirrors one metrics-log line into the ledger.
func (s *Store) RecordRoundMetrics(m RoundMetrics) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	batch, err := json.Marshal(m.BatchIndices)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	f1, err := json.Marshal(finiteOnly(m.PerDimF1))
	if err != nil {
		return fmt.Errorf("marshal f1: %w", err)
	}
	kappa, err := json.Marshal(finiteOnly(m.PerDimKappa))
	if err != nil {
		return fmt.Errorf("marshal kappa: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO round_metrics (run_id, iteration, batch_json, strategy, lambda, macro_score,
		 num_labeled, per_dim_f1_json, per_dim_kappa_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Iteration, string(batch), m.Strategy, nullIfNaN(m.Lambda), nullIfNaN(m.MacroScore),
		m.NumLabeled, string(f1), string(kappa), m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert round metrics: %w", err)
	}
	return nil
}

// ListRoundMetrics returns every round of a run in iteration order.
func (s *Store) ListRoundMetrics(runID string) ([]RoundMetrics, error) {
	rows, err := s.db.Query(
		`SELECT run_id, iteration, batch_json, strategy, lambda, macro_score, num_labeled,
		 per_dim_f1_json, per_dim_kappa_json, created_at
		 FROM round_metrics WHERE run_id = ? ORDER BY iteration ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list round metrics: %w", err)
	}
	defer rows.Close()

	var out []RoundMetrics
	for rows.Next() {
		var m RoundMetrics
		var batch, created string
		var lambda, macro sql.NullFloat64
		var f1, kappa sql.NullString
		if err := rows.Scan(&m.RunID, &m.Iteration, &batch, &m.Strategy, &lambda, &macro,
			&m.NumLabeled, &f1, &kappa, &created); err != nil {
			return nil, fmt.Errorf("scan round metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(batch), &m.BatchIndices); err != nil {
			return nil, fmt.Errorf("unmarshal batch: %w", err)
		}
		m.Lambda = math.NaN()
		if lambda.Valid {
			m.Lambda = lambda.Float64
		}
		m.MacroScore = math.NaN()
		if macro.Valid {
			m.MacroScore = macro.Float64
		}
		if f1.Valid {
			if err := json.Unmarshal([]byte(f1.String), &m.PerDimF1); err != nil {
				return nil, fmt.Errorf("unmarshal f1: %w", err)
			}
		}
		if kappa.Valid {
			if err := json.Unmarshal([]byte(kappa.String), &m.PerDimKappa); err != nil {
				return nil, fmt.Errorf("unmarshal kappa: %w", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// #endregion round-metrics

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// finiteOnly drops NaN entries, which JSON cannot carry.
func finiteOnly(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// #endregion helpers
