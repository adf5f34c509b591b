package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/coaxctl/internal/flight"
)

// Session is one run of the service.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Platform  int       `json:"platform"`
	Note      string    `json:"note,omitempty"`
}

// Transition is a logged mode change.
type Transition struct {
	At   time.Time `json:"at"`
	From string    `json:"from"`
	To   string    `json:"to"`
}

// SampleRow is a logged control tick. Reference holds x, y, z and yaw.
type SampleRow struct {
	At        time.Time              `json:"at"`
	Mode      string                 `json:"mode"`
	State     [17]float64            `json:"state"`
	Reference [4]float64             `json:"reference"`
	Command   flight.ActuatorCommand `json:"command"`
}

func unixSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(math.Round(s*1e9))).UTC()
}

// StartSession creates a new session row with a random id.
func (db *DB) StartSession(at time.Time, platform int, note string) (Session, error) {
	s := Session{ID: uuid.NewString(), StartedAt: at, Platform: platform, Note: note}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, platform, note) VALUES (?, ?, ?, ?)`,
		s.ID, unixSeconds(at), platform, note,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, started_at, platform, note FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started float64
		if err := rows.Scan(&s.ID, &started, &s.Platform, &s.Note); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixSeconds(started)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordTransition logs a mode change.
func (db *DB) RecordTransition(session string, at time.Time, from, to flight.Mode) error {
	_, err := db.Exec(
		`INSERT INTO mode_transitions (session_id, at, from_mode, to_mode) VALUES (?, ?, ?, ?)`,
		session, unixSeconds(at), from.String(), to.String(),
	)
	return err
}

// Transitions returns the last limit transitions of a session in
// chronological order.
func (db *DB) Transitions(session string, limit int) ([]Transition, error) {
	rows, err := db.Query(`
		SELECT at, from_mode, to_mode FROM (
			SELECT transition_id, at, from_mode, to_mode FROM mode_transitions
			WHERE session_id = ? ORDER BY transition_id DESC LIMIT ?
		) ORDER BY transition_id ASC`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var at float64
		if err := rows.Scan(&at, &tr.From, &tr.To); err != nil {
			return nil, err
		}
		tr.At = fromUnixSeconds(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}

const insertSample = `INSERT INTO samples (
	session_id, at, mode,
	x, y, z, vx, vy, vz, roll, pitch, yaw, p, q, r,
	omega_upper, omega_lower, bar_x, bar_y, bar_z,
	ref_x, ref_y, ref_z, ref_yaw,
	cmd_upper, cmd_lower, cmd_roll, cmd_pitch
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordSamples writes a batch of control ticks in one transaction.
func (db *DB) RecordSamples(session string, samples []flight.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSample)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		args := make([]any, 0, 28)
		args = append(args, session, unixSeconds(s.At), s.Mode.String())
		for _, v := range s.State.Vector() {
			args = append(args, v)
		}
		ref := s.Reference
		args = append(args,
			ref.Position.X, ref.Position.Y, ref.Position.Z, ref.Yaw,
			s.Command.Upper, s.Command.Lower, s.Command.Roll, s.Command.Pitch,
		)
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// RecentSamples returns the last limit samples of a session in
// chronological order.
func (db *DB) RecentSamples(session string, limit int) ([]SampleRow, error) {
	rows, err := db.Query(`
		SELECT at, mode,
			x, y, z, vx, vy, vz, roll, pitch, yaw, p, q, r,
			omega_upper, omega_lower, bar_x, bar_y, bar_z,
			ref_x, ref_y, ref_z, ref_yaw,
			cmd_upper, cmd_lower, cmd_roll, cmd_pitch
		FROM (
			SELECT * FROM samples WHERE session_id = ? ORDER BY sample_id DESC LIMIT ?
		) ORDER BY sample_id ASC`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		row, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanSample(rows *sql.Rows) (SampleRow, error) {
	var row SampleRow
	var at float64
	dest := []any{&at, &row.Mode}
	for i := range row.State {
		dest = append(dest, &row.State[i])
	}
	for i := range row.Reference {
		dest = append(dest, &row.Reference[i])
	}
	dest = append(dest, &row.Command.Upper, &row.Command.Lower, &row.Command.Roll, &row.Command.Pitch)
	if err := rows.Scan(dest...); err != nil {
		return SampleRow{}, err
	}
	row.At = fromUnixSeconds(at)
	return row, nil
}

// SampleCount returns the number of samples logged for a session.
func (db *DB) SampleCount(session string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM samples WHERE session_id = ?`, session).Scan(&n)
	return n, err
}
