// Package persistence keeps a SQLite history of training runs and their learning curves.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gridchase/reinforcement"
	"gridchase/report"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by LoadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Run is one training run.
type Run struct {
	ID        string
	StartedAt time.Time
	Params    report.RunParams
	QTable    string
	Status    string
}

type runRow struct {
	ID         string  `db:"id"`
	StartedAt  int64   `db:"started_at"`
	Alpha      float64 `db:"alpha"`
	Gamma      float64 `db:"gamma"`
	Epsilon    float64 `db:"epsilon"`
	Steps      int     `db:"steps"`
	GoalReward float64 `db:"goal_reward"`
	LifeMin    int     `db:"life_min"`
	LifeMax    int     `db:"life_max"`
	Width      int     `db:"width"`
	Height     int     `db:"height"`
	Seed       int64   `db:"seed"`
	QTable     string  `db:"q_table"`
	Status     string  `db:"status"`
}

type evalRow struct {
	Step           int     `db:"step"`
	RewardSum      float64 `db:"reward_sum"`
	ElapsedSeconds float64 `db:"elapsed_seconds"`
}

func toRow(run Run) runRow {
	p := run.Params
	return runRow{
		ID:         run.ID,
		StartedAt:  run.StartedAt.UnixMilli(),
		Alpha:      p.Alpha,
		Gamma:      p.Gamma,
		Epsilon:    p.Epsilon,
		Steps:      p.Steps,
		GoalReward: p.GoalReward,
		LifeMin:    p.LifeMin,
		LifeMax:    p.LifeMax,
		Width:      p.Width,
		Height:     p.Height,
		Seed:       int64(p.Seed),
		QTable:     run.QTable,
		Status:     run.Status,
	}
}

func (row runRow) toRun() Run {
	return Run{
		ID:        row.ID,
		StartedAt: time.UnixMilli(row.StartedAt),
		Params: report.RunParams{
			Alpha:      row.Alpha,
			Gamma:      row.Gamma,
			Epsilon:    row.Epsilon,
			Steps:      row.Steps,
			GoalReward: row.GoalReward,
			LifeMin:    row.LifeMin,
			LifeMax:    row.LifeMax,
			Width:      row.Width,
			Height:     row.Height,
			Seed:       uint64(row.Seed),
		},
		QTable: row.QTable,
		Status: row.Status,
	}
}

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		alpha REAL NOT NULL,
		gamma REAL NOT NULL,
		epsilon REAL NOT NULL,
		steps INTEGER NOT NULL,
		goal_reward REAL NOT NULL,
		life_min INTEGER NOT NULL,
		life_max INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		q_table TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		reward_sum REAL NOT NULL,
		elapsed_seconds REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id, step);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun writes the run and its learning curve, replacing any earlier record with the same
// id. A run without an id is given a fresh UUID, which is returned.
func (db *DB) SaveRun(run Run, records []reinforcement.EvalRecord) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM evaluations WHERE run_id = ?", run.ID); err != nil {
		return "", err
	}
	_, err = tx.NamedExec(`INSERT OR REPLACE INTO runs
		(id, started_at, alpha, gamma, epsilon, steps, goal_reward, life_min, life_max,
		 width, height, seed, q_table, status)
		VALUES (:id, :started_at, :alpha, :gamma, :epsilon, :steps, :goal_reward, :life_min, :life_max,
		 :width, :height, :seed, :q_table, :status)`, toRow(run))
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}

	stmt, err := tx.Preparex(`INSERT INTO evaluations
		(run_id, step, reward_sum, elapsed_seconds) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(run.ID, r.Step, r.RewardSum, r.Elapsed.Seconds()); err != nil {
			return "", fmt.Errorf("save evaluation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Debug("run saved", "id", run.ID, "evaluations", len(records))
	return run.ID, nil
}

// LoadRun returns a run and its learning curve in step order.
func (db *DB) LoadRun(id string) (Run, []reinforcement.EvalRecord, error) {
	var row runRow
	if err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return Run{}, nil, err
	}

	var evals []evalRow
	err := db.conn.Select(&evals,
		"SELECT step, reward_sum, elapsed_seconds FROM evaluations WHERE run_id = ? ORDER BY step",
		id,
	)
	if err != nil {
		return Run{}, nil, err
	}

	records := make([]reinforcement.EvalRecord, 0, len(evals))
	for _, e := range evals {
		records = append(records, reinforcement.EvalRecord{
			Step:      e.Step,
			RewardSum: e.RewardSum,
			Elapsed:   time.Duration(e.ElapsedSeconds * float64(time.Second)),
		})
	}
	return row.toRun(), records, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var rows []runRow
	err := db.conn.Select(&rows, "SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}
