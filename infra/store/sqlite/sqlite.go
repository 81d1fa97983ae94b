// Package sqlite is the durable store backend. It leans on the database for
// the invariants the engine cannot enforce in application code: a partial
// unique index keeps one live pledge per (request, donor) pair, and every
// state transition is a conditional UPDATE whose affected-row count decides
// who won a race.
package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
	_ "modernc.org/sqlite"
)

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    role              TEXT NOT NULL,
    blood_type        TEXT NOT NULL,
    lat               REAL,
    lng               REAL,
    email             TEXT NOT NULL DEFAULT '',
    phone             TEXT NOT NULL DEFAULT '',
    last_donation     INTEGER,
    responsiveness    REAL NOT NULL DEFAULT 0,
    available_now     INTEGER NOT NULL DEFAULT 0,
    credit_points     INTEGER NOT NULL DEFAULT 0,
    last_health_check INTEGER,
    capacity_units    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_role ON entities(role);

CREATE TABLE IF NOT EXISTS requests (
    id            TEXT PRIMARY KEY,
    hospital_id   TEXT NOT NULL,
    blood_type    TEXT NOT NULL,
    status        TEXT NOT NULL,
    lat           REAL,
    lng           REAL,
    urgency_level INTEGER NOT NULL,
    units_needed  INTEGER NOT NULL,
    notes         TEXT NOT NULL DEFAULT '',
    simulated     INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_hospital ON requests(hospital_id);

CREATE TABLE IF NOT EXISTS pledges (
    id               TEXT PRIMARY KEY,
    request_id       TEXT NOT NULL,
    donor_id         TEXT NOT NULL,
    status           TEXT NOT NULL,
    eta_minutes      INTEGER NOT NULL DEFAULT 0,
    available_for    INTEGER NOT NULL DEFAULT 0,
    code             TEXT NOT NULL,
    report           TEXT,
    feedback_rating  INTEGER NOT NULL DEFAULT 0,
    feedback_comment TEXT NOT NULL DEFAULT '',
    feedback_at      INTEGER,
    certificate_id   TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pledges_live_pair
    ON pledges(request_id, donor_id) WHERE status != 'cancelled';
CREATE INDEX IF NOT EXISTS idx_pledges_request ON pledges(request_id);
CREATE INDEX IF NOT EXISTS idx_pledges_donor ON pledges(donor_id);

CREATE TABLE IF NOT EXISTS swaps (
    id               TEXT PRIMARY KEY,
    from_hospital_id TEXT NOT NULL,
    to_hospital_id   TEXT NOT NULL,
    blood_type       TEXT NOT NULL,
    units            INTEGER NOT NULL,
    status           TEXT NOT NULL,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swaps_to ON swaps(to_hospital_id);
CREATE INDEX IF NOT EXISTS idx_swaps_from ON swaps(from_hospital_id);
`

// New opens or creates the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer keeps the conditional updates serial without busy
	// retries leaking into the engine.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// --- column helpers ---

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullPoint(p *model.GeoPoint) (lat, lng any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func scanPoint(lat, lng sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func scanTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func capRadius(radiusKm float64) float64 {
	if radiusKm <= 0 || radiusKm > store.MaxRadiusKm {
		return store.MaxRadiusKm
	}
	return radiusKm
}
