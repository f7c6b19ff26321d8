package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS captures (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_captures_owner ON captures(owner_id);
CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(status);
CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCapture(ctx context.Context, capture *model.Capture) error {
	if capture.ID == "" {
		capture.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	capture.CreatedAt = now
	capture.UpdatedAt = now
	if capture.Status == "" {
		capture.Status = model.CaptureStatusQueued
	}

	data, err := json.Marshal(capture)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal capture")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO captures (id, owner_id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		capture.ID, capture.OwnerID, string(capture.Status), string(data), now, now,
	)
	return eris.Wrap(err, "sqlite: insert capture")
}

func (s *SQLiteStore) GetCapture(ctx context.Context, id string) (*model.Capture, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM captures WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get capture %s", id)
	}

	var capture model.Capture
	if err := json.Unmarshal([]byte(data), &capture); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal capture")
	}
	return &capture, nil
}

func (s *SQLiteStore) PutCapture(ctx context.Context, capture *model.Capture) error {
	capture.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(capture)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal capture")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE captures SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(capture.Status), string(data), capture.UpdatedAt, capture.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update capture %s", capture.ID)
	}
	return checkRowsAffected(res, "capture", capture.ID)
}

func (s *SQLiteStore) ListCaptures(ctx context.Context, ownerID string, status model.CaptureStatus, limit int) ([]model.Capture, error) {
	query := `SELECT data FROM captures WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list captures")
	}
	defer rows.Close()

	var captures []model.Capture
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan capture")
		}
		var capture model.Capture
		if err := json.Unmarshal([]byte(data), &capture); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal capture")
		}
		captures = append(captures, capture)
	}
	return captures, rows.Err()
}

func (s *SQLiteStore) CreateContact(ctx context.Context, contact *model.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	data, err := json.Marshal(contact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, owner_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		contact.ID, contact.OwnerID, string(data), now, now,
	)
	return eris.Wrap(err, "sqlite: insert contact")
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM contacts WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contact %s", id)
	}

	var contact model.Contact
	if err := json.Unmarshal([]byte(data), &contact); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal contact")
	}
	return &contact, nil
}

func (s *SQLiteStore) PutContact(ctx context.Context, contact *model.Contact) error {
	contact.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(contact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), contact.UpdatedAt, contact.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact %s", contact.ID)
	}
	return checkRowsAffected(res, "contact", contact.ID)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
