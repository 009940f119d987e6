package journal

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/npezzotti/go-presence/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS presence_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	is_online INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_seen_display TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_presence_log_user ON presence_log (user_id, id);
`

// Journal is a local, append-only record of observed presence
// transitions. It exists for diagnostics and to seed the presence
// store with last-known values on startup; seeded values go through
// the REST write path so they stay subordinate to live data.
type Journal struct {
	db  *sql.DB
	log *log.Logger
}

func Open(path string, logger *log.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{db: db, log: logger}, nil
}

func (j *Journal) Record(rec types.PresenceRecord) error {
	observedAt := rec.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	_, err := j.db.Exec(
		`INSERT INTO presence_log (user_id, is_online, status, last_seen_display, source, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserId, rec.IsOnline, string(rec.Status), rec.LastSeenDisplay, string(rec.Source), observedAt,
	)
	if err != nil {
		return fmt.Errorf("record presence transition: %w", err)
	}
	return nil
}

// LastKnown returns the most recent journaled presence per user.
func (j *Journal) LastKnown() (map[int]types.RestPresence, error) {
	rows, err := j.db.Query(
		`SELECT p.user_id, p.is_online, p.status, p.last_seen_display
		 FROM presence_log p
		 WHERE p.id = (SELECT MAX(id) FROM presence_log WHERE user_id = p.user_id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("query last known presence: %w", err)
	}
	defer rows.Close()

	known := make(map[int]types.RestPresence)
	for rows.Next() {
		var userId int
		var isOnline bool
		var status, display string
		if err := rows.Scan(&userId, &isOnline, &status, &display); err != nil {
			return nil, fmt.Errorf("scan presence row: %w", err)
		}
		known[userId] = types.RestPresence{
			IsOnline:        isOnline,
			Status:          types.Status(status),
			LastSeenDisplay: display,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence rows: %w", err)
	}

	return known, nil
}

// Prune drops entries older than the retention window.
func (j *Journal) Prune(olderThan time.Duration) error {
	res, err := j.db.Exec(`DELETE FROM presence_log WHERE observed_at < ?`, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("prune journal: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		j.log.Printf("pruned %d journal entries", n)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
