// Package memory persists what survives between runs: the query history,
// per-mode learned-routing proposals, and archived run logs, with
// similar-hypothesis recall over stored vectors. Backed by SQLite in WAL
// mode under the fhi home directory.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	_ "modernc.org/sqlite" // SQLite driver
)

// RunRecord is one line of query history.
type RunRecord struct {
	ID         string    `json:"id"`
	Hypothesis string    `json:"hypothesis"`
	Mode       string    `json:"mode"`
	Ticks      int       `json:"ticks"`
	Envelopes  int       `json:"envelopes"`
	Outcome    string    `json:"outcome"`
	Ruling     string    `json:"ruling,omitempty"`
	Confidence float64   `json:"confidence"`
	Health     float64   `json:"health"`
	Stability  float64   `json:"stability"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recalled pairs a past run with its similarity to the query hypothesis.
type Recalled struct {
	RunRecord
	Similarity float64 `json:"similarity"`
}

// RoutingProposal is the opaque learned-routing blob a run proposes for
// one control mode. The store keeps the latest proposal per mode.
type RoutingProposal struct {
	Mode      string          `json:"mode"`
	RunID     string          `json:"run_id"`
	Proposal  json.RawMessage `json:"proposal"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the run memory database.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// DefaultPath is the database location when none is configured.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".fhi", "fhi.db"), nil
}

// Open creates or opens the store at path. An empty path resolves to the
// default location under the user's home directory.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}
	logging.Memory("memory store open at %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		hypothesis TEXT NOT NULL,
		mode TEXT NOT NULL,
		ticks INTEGER NOT NULL,
		envelopes INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		ruling TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		health REAL NOT NULL DEFAULT 0,
		stability REAL NOT NULL DEFAULT 0,
		vector BLOB,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS routing_proposals (
		mode TEXT PRIMARY KEY,
		proposal_json TEXT NOT NULL,
		run_id TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_archives (
		run_id TEXT PRIMARY KEY,
		log_json TEXT NOT NULL,
		archived_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERY HISTORY
// =============================================================================

// SaveRun records one finished run, replacing any earlier record with the
// same id. The vector is the recall vector for the hypothesis; nil skips
// the run in recall.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, vector []float32) error {
	if rec.ID == "" || rec.Hypothesis == "" {
		return fmt.Errorf("run record needs an id and a hypothesis")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, hypothesis, mode, ticks, envelopes, outcome, ruling,
			confidence, health, stability, vector, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Hypothesis, rec.Mode, rec.Ticks, rec.Envelopes, rec.Outcome,
		nullString(rec.Ruling), rec.Confidence, rec.Health, rec.Stability,
		encodeVector(vector), formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	logging.Audit().MemoryOp("MEM", true, 1)
	return nil
}

// History returns the most recent runs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hypothesis, mode, ticks, envelopes, outcome, ruling,
			confidence, health, stability, started_at, finished_at
		FROM runs ORDER BY started_at DESC, finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, _, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Run returns one run record by id, or nil when none exists.
func (s *Store) Run(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, hypothesis, mode, ticks, envelopes, outcome, ruling,
			confidence, health, stability, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	rec, _, err := scanRun(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return &rec, nil
}

// Recall returns past runs ranked by hypothesis similarity, best first.
// Runs whose vectors have a different provenance than the query score
// zero and are dropped.
func (s *Store) Recall(ctx context.Context, vector []float32, limit int) ([]Recalled, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hypothesis, mode, ticks, envelopes, outcome, ruling,
			confidence, health, stability, started_at, finished_at, vector
		FROM runs WHERE vector IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query recall candidates: %w", err)
	}
	defer rows.Close()

	candidates := 0
	var out []Recalled
	for rows.Next() {
		rec, stored, err := scanRun(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan recall row: %w", err)
		}
		candidates++
		sim := cosine(vector, stored)
		if sim <= 0 {
			continue
		}
		out = append(out, Recalled{RunRecord: rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	logging.Memory("recall matched %d of %d stored runs", len(out), candidates)
	logging.Audit().MemoryOp("MEM", false, len(out))
	return out, nil
}

// =============================================================================
// ROUTING PROPOSALS AND ARCHIVES
// =============================================================================

// SaveProposal stores the learned-routing blob for a mode, replacing the
// previous one.
func (s *Store) SaveProposal(ctx context.Context, p RoutingProposal) error {
	if p.Mode == "" || len(p.Proposal) == 0 {
		return fmt.Errorf("routing proposal needs a mode and a payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_proposals (mode, proposal_json, run_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mode) DO UPDATE SET
			proposal_json = excluded.proposal_json,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`, p.Mode, string(p.Proposal), p.RunID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save routing proposal: %w", err)
	}
	return nil
}

// Proposal returns the stored blob for a mode, or nil when none exists.
func (s *Store) Proposal(ctx context.Context, mode string) (*RoutingProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p RoutingProposal
	var blob, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT mode, proposal_json, run_id, updated_at
		FROM routing_proposals WHERE mode = ?
	`, mode).Scan(&p.Mode, &blob, &p.RunID, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load routing proposal: %w", err)
	}
	p.Proposal = json.RawMessage(blob)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// ArchiveRun stores the compact run log JSON for a run.
func (s *Store) ArchiveRun(ctx context.Context, runID string, logJSON []byte) error {
	if runID == "" || len(logJSON) == 0 {
		return fmt.Errorf("archive needs a run id and a log")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_archives (run_id, log_json, archived_at)
		VALUES (?, ?, ?)
	`, runID, string(logJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	return nil
}

// Archive returns a run's archived log, or nil when none exists.
func (s *Store) Archive(ctx context.Context, runID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT log_json FROM run_archives WHERE run_id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	return []byte(blob), nil
}

// Clear truncates the whole memory: history, proposals, and archives.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	removed := 0
	for _, table := range []string{"run_archives", "routing_proposals", "runs"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	logging.Memory("memory cleared, %d rows removed", removed)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, withVector bool) (RunRecord, []float32, error) {
	var rec RunRecord
	var ruling sql.NullString
	var started, finished string
	var blob []byte

	dest := []any{&rec.ID, &rec.Hypothesis, &rec.Mode, &rec.Ticks, &rec.Envelopes,
		&rec.Outcome, &ruling, &rec.Confidence, &rec.Health, &rec.Stability,
		&started, &finished}
	if withVector {
		dest = append(dest, &blob)
	}
	if err := row.Scan(dest...); err != nil {
		return RunRecord{}, nil, err
	}
	if ruling.Valid {
		rec.Ruling = ruling.String
	}
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished)
	return rec, decodeVector(blob), nil
}

// formatTime renders UTC RFC3339 so lexicographic order in the database
// matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
