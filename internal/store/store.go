// Package store is the persistence gateway: the only component that
// reads or writes durable profile and expiry state. It owns a SQLite
// database holding a settings key/value table plus the installed-rule
// table consumed by the ruletable package.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/luckyPipewrench/headerlock/internal/profile"
)

// Settings keys. The profile keys mirror the interchange document; the
// expiry keys back the scheduler's persisted state.
const (
	keyHeaders        = "headers"
	keyEnabled        = "enabled"
	keyDomains        = "domains"
	keyMatchMode      = "domain_match_mode"
	keyTemporaryUntil = "temporary_until"
	keyExpiryArmed    = "expiry_armed"
	keyExpiryFireAt   = "expiry_fire_at"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rules (
	id      INTEGER PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// Store wraps the SQLite database. Multi-key reads and writes run in
// transactions; serialization of whole save operations is the engine's
// job, not the store's.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database %s: %w", path, err)
	}
	// SQLite allows one writer; a second connection would only queue on
	// the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the ruletable package, which shares this
// database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LoadProfile reads the persisted profile. A fresh database yields the
// disabled default profile, not an error.
func (s *Store) LoadProfile() (*profile.Profile, error) {
	p := profile.Disabled()

	if v, ok, err := s.get(keyHeaders); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal([]byte(v), &p.Headers); err != nil {
			return nil, fmt.Errorf("decoding persisted headers: %w", err)
		}
	}

	if v, ok, err := s.get(keyDomains); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal([]byte(v), &p.Domains); err != nil {
			return nil, fmt.Errorf("decoding persisted domains: %w", err)
		}
	}

	if v, ok, err := s.get(keyMatchMode); err != nil {
		return nil, err
	} else if ok {
		p.MatchMode = profile.MatchMode(v)
	}

	if v, ok, err := s.get(keyEnabled); err != nil {
		return nil, err
	} else if ok {
		p.Enabled = v == "true"
	}

	if v, ok, err := s.get(keyTemporaryUntil); err != nil {
		return nil, err
	} else if ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding persisted expiry instant: %w", err)
		}
		p.ExpiresAt = time.UnixMilli(ms).UTC()
	}

	return p, nil
}

// SaveProfile replaces the persisted profile atomically. An unset expiry
// deletes the temporary_until key rather than storing a sentinel.
func (s *Store) SaveProfile(p *profile.Profile) error {
	headers, err := json.Marshal(p.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	domains, err := json.Marshal(p.Domains)
	if err != nil {
		return fmt.Errorf("encoding domains: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTx(tx, keyHeaders, string(headers)); err != nil {
		return err
	}
	if err := setTx(tx, keyDomains, string(domains)); err != nil {
		return err
	}
	if err := setTx(tx, keyMatchMode, string(p.MatchMode)); err != nil {
		return err
	}
	if err := setTx(tx, keyEnabled, strconv.FormatBool(p.Enabled)); err != nil {
		return err
	}
	if p.ExpiresAt.IsZero() {
		if err := delTx(tx, keyTemporaryUntil); err != nil {
			return err
		}
	} else {
		if err := setTx(tx, keyTemporaryUntil, strconv.FormatInt(p.ExpiresAt.UnixMilli(), 10)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profile save: %w", err)
	}
	return nil
}

// SaveExpiryState persists the scheduler's armed flag and fire instant.
func (s *Store) SaveExpiryState(armed bool, fireAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting expiry save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTx(tx, keyExpiryArmed, strconv.FormatBool(armed)); err != nil {
		return err
	}
	if armed {
		if err := setTx(tx, keyExpiryFireAt, strconv.FormatInt(fireAt.UnixMilli(), 10)); err != nil {
			return err
		}
	} else {
		if err := delTx(tx, keyExpiryFireAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing expiry save: %w", err)
	}
	return nil
}

// LoadExpiryState reads the scheduler's persisted state. armed implies
// fireAt was set when armed; by read time it may already be in the past,
// which the scheduler treats as "fire immediately".
func (s *Store) LoadExpiryState() (armed bool, fireAt time.Time, err error) {
	v, ok, err := s.get(keyExpiryArmed)
	if err != nil {
		return false, time.Time{}, err
	}
	if !ok || v != "true" {
		return false, time.Time{}, nil
	}

	v, ok, err = s.get(keyExpiryFireAt)
	if err != nil {
		return false, time.Time{}, err
	}
	if !ok {
		// armed without an instant is a broken invariant; treat it as
		// disarmed rather than guessing a fire time.
		return false, time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("decoding persisted fire instant: %w", err)
	}
	return true, time.UnixMilli(ms).UTC(), nil
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %q: %w", key, err)
	}
	return value, true, nil
}

func setTx(tx *sql.Tx, key, value string) error {
	if _, err := tx.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("writing setting %q: %w", key, err)
	}
	return nil
}

func delTx(tx *sql.Tx, key string) error {
	if _, err := tx.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("clearing setting %q: %w", key, err)
	}
	return nil
}
