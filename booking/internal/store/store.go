// Package store persists the three durable concerns of the service:
// portal credentials, the append-only stream of slot selections feeding the
// preference model, and the booking attempt history. Passwords are sealed
// with NaCl secretbox before they touch the database; plaintext secrets
// exist only in memory for the duration of a portal call.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/platz/idgen"
)

// Schema is the store's DDL, applied idempotently on open.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id    TEXT NOT NULL,
	portal     TEXT NOT NULL,
	username   TEXT NOT NULL,
	secret     BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, portal)
);

CREATE TABLE IF NOT EXISTS selection_events (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	venue      TEXT NOT NULL,
	court      TEXT NOT NULL DEFAULT '',
	date       TEXT NOT NULL,
	time_start TEXT NOT NULL,
	price      REAL,
	indoor_out TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_selection_events_user ON selection_events(user_id, created_at);

CREATE TABLE IF NOT EXISTS booking_history (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	portal     TEXT NOT NULL,
	venue      TEXT NOT NULL,
	court      TEXT NOT NULL,
	date       TEXT NOT NULL,
	time_start TEXT NOT NULL,
	time_end   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booking_history_user ON booking_history(user_id, created_at);
`

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle plus the sealing key.
type Store struct {
	db  *sql.DB
	key [32]byte
	now func() time.Time

	// Row ids are type-scoped so an id alone identifies its table.
	bookingID   idgen.Generator
	selectionID idgen.Generator
}

// Option configures a Store during creation.
type Option func(*Store)

// WithIDGenerator replaces the base row id generator. The type prefixes
// stay in place.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) {
		s.bookingID = idgen.Prefixed("bkg_", g)
		s.selectionID = idgen.Prefixed("sel_", g)
	}
}

// WithClock replaces the wall clock. Test hook only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over an already-opened database. The key seals
// credential secrets; losing it orphans every stored credential.
func New(db *sql.DB, key [32]byte, opts ...Option) *Store {
	s := &Store{
		db:          db,
		key:         key,
		now:         time.Now,
		bookingID:   idgen.Prefixed("bkg_", idgen.Default),
		selectionID: idgen.Prefixed("sel_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
