package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"offrecord/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
    account     TEXT NOT NULL,
    protocol    TEXT NOT NULL,
    username    TEXT NOT NULL,
    ordinal     INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    trust       TEXT NOT NULL DEFAULT '',
    first_seen  INTEGER NOT NULL,
    last_seen   INTEGER NOT NULL,
    PRIMARY KEY (account, protocol, username, fingerprint)
);

CREATE TABLE IF NOT EXISTS instance_tags (
    account   TEXT NOT NULL,
    protocol  TEXT NOT NULL,
    tag       INTEGER NOT NULL,
    PRIMARY KEY (account, protocol)
);
`

// SQLiteBackend persists fingerprints and instance tags in a SQLite
// database instead of JSON files.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, ioError("mkdir", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioError("open", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, ioError("apply schema", path, err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// LoadSQLite replaces fingerprints and instance tags with the database
// content. Both sections are read in one transaction and validated before
// either is applied.
func (s *Store) LoadSQLite(b *SQLiteBackend) error {
	tx, err := b.db.Begin()
	if err != nil {
		return ioError("begin", b.path, err)
	}
	defer tx.Rollback()

	fpf, err := readFingerprintRows(tx, b.path)
	if err != nil {
		return err
	}
	itf, err := readInstagRows(tx, b.path)
	if err != nil {
		return err
	}

	fps, err := fpf.build()
	if err != nil {
		return &ParseError{Path: b.path, Err: err}
	}
	tags, err := itf.build()
	if err != nil {
		return &ParseError{Path: b.path, Err: err}
	}
	s.replaceFingerprints(fps)
	s.replaceInstanceTags(tags)
	return nil
}

func readFingerprintRows(tx *sql.Tx, path string) (fingerprintFile, error) {
	f := fingerprintFile{Version: formatVersion}
	rows, err := tx.Query(`
		SELECT account, protocol, username, fingerprint, trust, first_seen, last_seen
		FROM fingerprints ORDER BY account, protocol, username, ordinal`)
	if err != nil {
		return f, ioError("query fingerprints", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			account, protocol, username, hexfp, trust string
			first, last                                int64
		)
		if err := rows.Scan(&account, &protocol, &username, &hexfp, &trust, &first, &last); err != nil {
			return f, ioError("scan fingerprints", path, err)
		}
		fp, err := domain.ParseFingerprint(hexfp)
		if err != nil {
			return f, &ParseError{Path: path, Err: err}
		}
		n := len(f.Contacts)
		if n == 0 || f.Contacts[n-1].Account != account || f.Contacts[n-1].Protocol != protocol ||
			f.Contacts[n-1].Username != username {
			f.Contacts = append(f.Contacts, contactRecord{Account: account, Protocol: protocol, Username: username})
			n++
		}
		f.Contacts[n-1].Fingerprints = append(f.Contacts[n-1].Fingerprints, fingerprintRecord{
			Fingerprint: fp,
			Trust:       domain.Trust(trust),
			FirstSeen:   time.Unix(0, first).UTC(),
			LastSeen:    time.Unix(0, last).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return f, ioError("read fingerprints", path, err)
	}
	return f, nil
}

func readInstagRows(tx *sql.Tx, path string) (instagFile, error) {
	f := instagFile{Version: formatVersion}
	rows, err := tx.Query(`SELECT account, protocol, tag FROM instance_tags ORDER BY account, protocol`)
	if err != nil {
		return f, ioError("query instance tags", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r instagRecord
		var tag int64
		if err := rows.Scan(&r.Account, &r.Protocol, &tag); err != nil {
			return f, ioError("scan instance tags", path, err)
		}
		if tag < 0 || tag > int64(^uint32(0)) {
			return f, &ParseError{Path: path, Err: fmt.Errorf("instance tag %d out of range", tag)}
		}
		r.Tag = domain.InstanceTag(tag)
		f.Tags = append(f.Tags, r)
	}
	if err := rows.Err(); err != nil {
		return f, ioError("read instance tags", path, err)
	}
	return f, nil
}

// SaveSQLite replaces the database content with the in-memory fingerprints
// and instance tags in a single transaction.
func (s *Store) SaveSQLite(b *SQLiteBackend) error {
	fpf := s.fingerprintSnapshot()
	itf := s.instagSnapshot()

	tx, err := b.db.Begin()
	if err != nil {
		return ioError("begin", b.path, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fingerprints`); err != nil {
		return ioError("clear fingerprints", b.path, err)
	}
	if _, err := tx.Exec(`DELETE FROM instance_tags`); err != nil {
		return ioError("clear instance tags", b.path, err)
	}
	for _, c := range fpf.Contacts {
		for i, r := range c.Fingerprints {
			hexfp, _ := r.Fingerprint.MarshalText()
			_, err := tx.Exec(`
				INSERT INTO fingerprints (account, protocol, username, ordinal, fingerprint, trust, first_seen, last_seen)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.Account, c.Protocol, c.Username, i, string(hexfp), string(r.Trust),
				r.FirstSeen.UnixNano(), r.LastSeen.UnixNano(),
			)
			if err != nil {
				return ioError("insert fingerprint", b.path, err)
			}
		}
	}
	for _, r := range itf.Tags {
		if _, err := tx.Exec(`INSERT INTO instance_tags (account, protocol, tag) VALUES (?, ?, ?)`,
			r.Account, r.Protocol, int64(r.Tag)); err != nil {
			return ioError("insert instance tag", b.path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ioError("commit", b.path, err)
	}
	return nil
}
