// Package journal keeps a history of scan runs and their points in sqlite.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nasa-jpl/pumpprobe/sweep"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started TEXT NOT NULL,
	finished TEXT,
	name TEXT NOT NULL,
	folder TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL,
	stopped INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS points (
	run_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	power_index INTEGER NOT NULL,
	power DOUBLE NOT NULL,
	delay_index INTEGER NOT NULL,
	delay DOUBLE NOT NULL,
	signal DOUBLE,
	recorded TEXT NOT NULL,
	PRIMARY KEY (run_id, step),
	FOREIGN KEY(run_id) REFERENCES runs(id)
);
`

// Run is one row of the run history
type Run struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Name     string    `json:"name"`
	Folder   string    `json:"folder"`
	Points   int       `json:"points"`
	Total    int       `json:"total"`
	Stopped  bool      `json:"stopped"`
	Error    string    `json:"error,omitempty"`
}

// Point is one recorded scan point
type Point struct {
	Step int `json:"step"`
	sweep.Point
	Signal float64 `json:"signal"`
}

// DB is a run journal
type DB struct {
	*sql.DB
}

// Open opens or creates the journal at path
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer, the scan worker; readers wait on the same connection
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema in %s: %w", path, err)
	}
	return &DB{db}, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// BeginRun records the start of a run of total points
func (db *DB) BeginRun(id, name, folder string, total int, started time.Time) error {
	_, err := db.Exec("INSERT INTO runs (id, started, name, folder, total) VALUES (?, ?, ?, ?, ?)",
		id, stamp(started), name, folder, total)
	return err
}

// RecordPoint records the signal at one step of a run
func (db *DB) RecordPoint(runID string, step int, pt sweep.Point, signal float64) error {
	_, err := db.Exec(`INSERT INTO points (run_id, step, power_index, power, delay_index, delay, signal, recorded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, step, pt.PowerIndex, pt.Power, pt.DelayIndex, pt.Delay, signal, stamp(time.Now()))
	if err != nil {
		return err
	}
	_, err = db.Exec("UPDATE runs SET points = ? WHERE id = ?", step, runID)
	return err
}

// FinishRun records the end of a run.  runErr may be nil.
func (db *DB) FinishRun(id string, points int, stopped bool, runErr error, finished time.Time) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := db.Exec("UPDATE runs SET finished = ?, points = ?, stopped = ?, error = ? WHERE id = ?",
		stamp(finished), points, stopped, msg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal has no run %s", id)
	}
	return nil
}

// Runs returns up to limit runs, newest first.  limit <= 0 returns all.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT id, started, finished, name, folder, points, total, stopped, error
		FROM runs ORDER BY started DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		err = rows.Scan(&r.ID, &started, &finished, &r.Name, &r.Folder, &r.Points, &r.Total, &r.Stopped, &r.Error)
		if err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if r.Finished, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Points returns the points of a run in step order
func (db *DB) Points(runID string) ([]Point, error) {
	rows, err := db.Query(`SELECT step, power_index, power, delay_index, delay, signal
		FROM points WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var (
			p   Point
			sig sql.NullFloat64
		)
		if err = rows.Scan(&p.Step, &p.PowerIndex, &p.Power, &p.DelayIndex, &p.Delay, &sig); err != nil {
			return nil, err
		}
		p.Signal = sig.Float64
		out = append(out, p)
	}
	return out, rows.Err()
}
