// Package db persists sweep results in SQLite and exposes the database on
// the debug HTTP routes.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/ringroad/internal/sim"
	"github.com/banshee-data/ringroad/internal/sweep"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	*sql.DB
	path string
}

// connPragmas are applied to every pooled connection.
var connPragmas = []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"}

// OpenDB opens the database at path without touching its schema.
func OpenDB(path string) (*DB, error) {
	dsn := path + "?_pragma=" + strings.Join(connPragmas, "&_pragma=")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database and applies the embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// BeginRun inserts the run row. It implements sweep.RunLifecycle.
func (db *DB) BeginRun(ctx context.Context, run sweep.Run) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sweep_runs (run_id, variant, vehicle_counts, settings_json, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Variant.String(), joinCounts(run.VehicleCounts), string(settings),
		string(sweep.SweepStatusRunning), run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Record stores one scenario summary. It implements sweep.Recorder.
func (db *DB) Record(ctx context.Context, run sweep.Run, s sim.Summary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scenario_results (
			run_id, scenario, vehicle_count, density, avg_speed, flow,
			speed_stddev, samples, flow_events, clamp_events
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, s.Scenario, s.VehicleCount, s.Density, s.AvgSpeed, s.Flow,
		s.SpeedStdDev, s.Samples, s.FlowEvents, s.ClampEvents,
	)
	if err != nil {
		return fmt.Errorf("insert scenario %d of run %s: %w", s.Scenario, run.ID, err)
	}
	return nil
}

// FinishRun closes the run row with its final status.
func (db *DB) FinishRun(ctx context.Context, run sweep.Run, status sweep.SweepStatus, completed int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sweep_runs
		SET status = ?, scenarios_done = ?, completed_at = ?
		WHERE run_id = ?`,
		string(status), completed, time.Now().UTC().Format(timeLayout), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

// RunRecord is one row of sweep_runs.
type RunRecord struct {
	RunID         string     `json:"run_id"`
	Variant       string     `json:"variant"`
	VehicleCounts []int      `json:"vehicle_counts"`
	Status        string     `json:"status"`
	ScenariosDone int        `json:"scenarios_done"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListRuns returns the most recent runs first, at most limit of them.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, variant, vehicle_counts, status, scenarios_done, started_at, completed_at
		FROM sweep_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r         RunRecord
			counts    string
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Variant, &counts, &r.Status, &r.ScenariosDone, &started, &completed); err != nil {
			return nil, err
		}
		if r.VehicleCounts, err = splitCounts(counts); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.RunID, err)
		}
		if completed.Valid {
			t, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, fmt.Errorf("run %s completed_at: %w", r.RunID, err)
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunResults returns the summaries of one run in scenario order.
func (db *DB) RunResults(ctx context.Context, runID string) ([]sim.Summary, error) {
	var variant string
	err := db.QueryRowContext(ctx, `SELECT variant FROM sweep_runs WHERE run_id = ?`, runID).Scan(&variant)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT scenario, vehicle_count, density, avg_speed, flow,
		       speed_stddev, samples, flow_events, clamp_events
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY scenario`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sim.Summary
	for rows.Next() {
		s := sim.Summary{Variant: variant}
		if err := rows.Scan(&s.Scenario, &s.VehicleCount, &s.Density, &s.AvgSpeed, &s.Flow,
			&s.SpeedStdDev, &s.Samples, &s.FlowEvents, &s.ClampEvents); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func joinCounts(counts []int) string {
	parts := make([]string, len(counts))
	for i, n := range counts {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func splitCounts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	counts := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("vehicle_counts %q: %w", s, err)
		}
		counts[i] = n
	}
	return counts, nil
}

// AttachAdminRoutes mounts live SQL debugging and a runs listing under
// /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Ring road results",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recent sweep runs as JSON", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := db.ListRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runs)
	}))
	return nil
}
