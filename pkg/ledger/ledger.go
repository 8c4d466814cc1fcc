// Package ledger records every completed cosmic-ray run in a SQLite file so
// that the settings behind a mask can be looked up later.
package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schema.sql creates the runs table and the per-frame counts of each run
//
//go:embed schema.sql
var schemaSQL string

// timeLayout has a fixed width so that timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger is the run database
type Ledger struct {
	*sql.DB
}

// Run describes one completed run
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	ScienceList string
	PixelClip   float64
	FrameClip   float64
	Frames      int
	Rows        int
	Cols        int
	Flagged     int
	MaskPath    string
	Cleaned     bool

	// FrameCounts are the final per-frame flag counts
	FrameCounts []FrameCount
}

// FrameCount is the audit outcome for one frame
type FrameCount struct {
	Frame   int
	Flagged int
	Suspect bool
	Reset   bool
}

// Open creates or opens the ledger at path
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise ledger schema: %w", err)
	}

	return &Ledger{db}, nil
}

// RecordRun stores run and its frame counts in one transaction. A run
// without an ID is given a new UUID, which is returned.
func (l *Ledger) RecordRun(run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	tx, err := l.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, finished_at, science_list, pixel_clip, frame_clip,
			frames, frame_rows, frame_cols, flagged, mask_path, cleaned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		run.ScienceList, run.PixelClip, run.FrameClip, run.Frames, run.Rows, run.Cols,
		run.Flagged, run.MaskPath, run.Cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO run_frames (run_id, frame, flagged, suspect, reset)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, fc := range run.FrameCounts {
		if _, err := stmt.Exec(run.ID, fc.Frame, fc.Flagged, fc.Suspect, fc.Reset); err != nil {
			return "", fmt.Errorf("failed to insert frame %d: %w", fc.Frame, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

// MarkCleaned records that cleaned copies were written for a run
func (l *Ledger) MarkCleaned(id string) error {
	res, err := l.Exec(`UPDATE runs SET cleaned = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no run %s", id)
	}
	return nil
}

// Runs lists recorded runs, newest first, without their frame counts
func (l *Ledger) Runs() ([]Run, error) {
	rows, err := l.Query(`
		SELECT id, started_at, finished_at, science_list, pixel_clip, frame_clip,
			frames, frame_rows, frame_cols, flagged, mask_path, cleaned
		FROM runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.ScienceList, &r.PixelClip, &r.FrameClip,
			&r.Frames, &r.Rows, &r.Cols, &r.Flagged, &r.MaskPath, &r.Cleaned); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Frames returns the per-frame counts of a run in frame order
func (l *Ledger) Frames(runID string) ([]FrameCount, error) {
	rows, err := l.Query(`
		SELECT frame, flagged, suspect, reset
		FROM run_frames
		WHERE run_id = ?
		ORDER BY frame
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameCount
	for rows.Next() {
		var fc FrameCount
		if err := rows.Scan(&fc.Frame, &fc.Flagged, &fc.Suspect, &fc.Reset); err != nil {
			return nil, err
		}
		frames = append(frames, fc)
	}
	return frames, rows.Err()
}
