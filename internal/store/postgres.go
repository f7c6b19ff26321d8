package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. Declared as an
// interface so tests can substitute a mock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on top of a pgx pool with JSONB documents.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects to the given DSN and pings the database.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS captures (
	id         UUID PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id         UUID PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_captures_owner ON captures(owner_id);
CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(status);
CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateCapture(ctx context.Context, capture *model.Capture) error {
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
		return eris.Wrap(err, "postgres: marshal capture")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO captures (id, owner_id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		capture.ID, capture.OwnerID, string(capture.Status), data, now, now,
	)
	return eris.Wrap(err, "postgres: insert capture")
}

func (s *PostgresStore) GetCapture(ctx context.Context, id string) (*model.Capture, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM captures WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get capture %s", id)
	}

	var capture model.Capture
	if err := json.Unmarshal(data, &capture); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal capture")
	}
	return &capture, nil
}

func (s *PostgresStore) PutCapture(ctx context.Context, capture *model.Capture) error {
	capture.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(capture)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal capture")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE captures SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		string(capture.Status), data, capture.UpdatedAt, capture.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update capture %s", capture.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCaptures(ctx context.Context, ownerID string, status model.CaptureStatus, limit int) ([]model.Capture, error) {
	query := `SELECT data FROM captures WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list captures")
	}
	defer rows.Close()

	var captures []model.Capture
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan capture")
		}
		var capture model.Capture
		if err := json.Unmarshal(data, &capture); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal capture")
		}
		captures = append(captures, capture)
	}
	return captures, rows.Err()
}

func (s *PostgresStore) CreateContact(ctx context.Context, contact *model.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	data, err := json.Marshal(contact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contacts (id, owner_id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		contact.ID, contact.OwnerID, data, now, now,
	)
	return eris.Wrap(err, "postgres: insert contact")
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM contacts WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact %s", id)
	}

	var contact model.Contact
	if err := json.Unmarshal(data, &contact); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal contact")
	}
	return &contact, nil
}

func (s *PostgresStore) PutContact(ctx context.Context, contact *model.Contact) error {
	contact.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(contact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET data = $1, updated_at = $2 WHERE id = $3`,
		data, contact.UpdatedAt, contact.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact %s", contact.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
