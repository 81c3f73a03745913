// Package store persists scan profiles to a sqlite database, one recording
// run at a time. It is a consumer-side sink: it drains the driver's profile
// buffer and never touches the receive path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		serial      BIGINT,
		started_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS profiles (
		run_id        TEXT,
		serial        BIGINT,
		camera        INTEGER,
		seq           BIGINT,
		format        INTEGER,
		device_ts     BIGINT,
		encoder       BIGINT,
		laser_on_us   INTEGER,
		exposure_us   INTEGER,
		payload       BLOB,
		received_at   TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_run ON profiles(run_id, camera, seq);
`

// Recorder writes profiles into a sqlite file.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens the recording database at path and ensures the
// schema exists.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error { return r.db.Close() }

// BeginRun registers a new recording run for the given device and returns
// its id.
func (r *Recorder) BeginRun(serial uint32) (string, error) {
	runID := uuid.NewString()
	if _, err := r.db.Exec(`INSERT INTO runs (run_id, serial) VALUES (?, ?)`, runID, serial); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return runID, nil
}

// WriteProfile appends one profile to a run.
func (r *Recorder) WriteProfile(runID string, p *scanhead.Profile) error {
	_, err := r.db.Exec(`
		INSERT INTO profiles (run_id, serial, camera, seq, format, device_ts, encoder, laser_on_us, exposure_us, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.Serial, p.Camera, p.Sequence, uint8(p.Format), int64(p.Timestamp),
		p.Encoder, p.LaserOnTime, p.ExposureTime, p.Payload, p.Received,
	)
	if err != nil {
		return fmt.Errorf("write profile seq %d: %w", p.Sequence, err)
	}
	return nil
}

// ProfileCount reports how many profiles a run holds.
func (r *Recorder) ProfileCount(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM profiles WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// profileSource is the slice of the driver Record needs; *scanhead.ScanHead
// satisfies it.
type profileSource interface {
	TakeProfileTimeout(ctx context.Context, timeout time.Duration) (*scanhead.Profile, error)
}

// Record drains profiles from src into a run until ctx is cancelled,
// returning the number written. Take timeouts keep the loop responsive to
// cancellation; they are not errors.
func (r *Recorder) Record(ctx context.Context, runID string, src profileSource) (int, error) {
	written := 0
	for {
		p, err := src.TakeProfileTimeout(ctx, 250*time.Millisecond)
		if err != nil {
			if errors.Is(err, scanhead.ErrTakeTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return written, nil
			}
			return written, err
		}
		if err := r.WriteProfile(runID, p); err != nil {
			return written, err
		}
		written++
	}
}
