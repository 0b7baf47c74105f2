// Package history keeps a local record of finished battles in sqlite, so the
// client can show past results without asking the backend.
package history

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type BattleRecord struct {
	ID         string
	RoomID     string
	TaskTitle  string
	WinnerID   string
	Outcome    string // "won" | "lost" | "finished"
	Message    string
	FinishedAt time.Time
}

// Store is what the session machine depends on; swap in NopStore when no
// persistence is wanted.
type Store interface {
	Record(rec BattleRecord) error
	Recent(limit int) ([]BattleRecord, error)
	Close() error
}

// NopStore drops everything.
type NopStore struct{}

func (NopStore) Record(BattleRecord) error          { return nil }
func (NopStore) Recent(int) ([]BattleRecord, error) { return nil, nil }
func (NopStore) Close() error                       { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS battles (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	task_title  TEXT NOT NULL DEFAULT '',
	winner_id   TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_battles_finished_at ON battles(finished_at);
`

type SQLStore struct {
	db *sql.DB
}

func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Record(rec BattleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO battles (id, room_id, task_title, winner_id, outcome, message, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RoomID, rec.TaskTitle, rec.WinnerID, rec.Outcome, rec.Message, rec.FinishedAt.UnixMilli(),
	)
	return err
}

func (s *SQLStore) Recent(limit int) ([]BattleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, room_id, task_title, winner_id, outcome, message, finished_at
		 FROM battles ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BattleRecord
	for rows.Next() {
		var rec BattleRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.TaskTitle, &rec.WinnerID, &rec.Outcome, &rec.Message, &ts); err != nil {
			return nil, err
		}
		rec.FinishedAt = time.UnixMilli(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}
