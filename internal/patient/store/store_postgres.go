package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"patientsync/internal/patient/models"
)

const uniqueViolation = "23505"

const patientColumns = `id, third_party_id, first_name, last_name, dob, sex, ethnic_background, created_at, updated_at`

// PostgresStore persists patients in PostgreSQL. It is pure I/O; validation
// and provenance rules live in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open opens a lib/pq pool for databaseURL and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
	if p == nil {
		return nil, errors.New("patient is required")
	}
	rec := *p
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + patientColumns
	out, err := scanPatient(s.db.QueryRowContext(ctx, query,
		rec.ID,
		nullString(rec.ThirdPartyID),
		rec.FirstName,
		rec.LastName,
		rec.DOB,
		string(rec.Sex),
		rec.EthnicBackground,
		rec.CreatedAt,
		rec.UpdatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create patient: %w", ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.LocalPatient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	out, err := scanPatient(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find patient by id: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByThirdPartyID(ctx context.Context, thirdPartyID string) (*models.LocalPatient, error) {
	if thirdPartyID == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + patientColumns + ` FROM patients WHERE third_party_id = $1`
	out, err := scanPatient(s.db.QueryRowContext(ctx, query, thirdPartyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find patient by third party id: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetThirdPartyID(ctx context.Context, id uuid.UUID, thirdPartyID string) (*models.LocalPatient, error) {
	query := `
		UPDATE patients
		SET third_party_id = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + patientColumns
	out, err := scanPatient(s.db.QueryRowContext(ctx, query, id, nullString(thirdPartyID), time.Now().UTC()))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		case isUniqueViolation(err):
			return nil, fmt.Errorf("set third party id: %w", ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("set third party id: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.LocalPatient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	out := []*models.LocalPatient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*models.LocalPatient, error) {
	var (
		p            models.LocalPatient
		thirdPartyID sql.NullString
		sex          string
	)
	if err := row.Scan(
		&p.ID,
		&thirdPartyID,
		&p.FirstName,
		&p.LastName,
		&p.DOB,
		&sex,
		&p.EthnicBackground,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ThirdPartyID = thirdPartyID.String
	p.Sex = models.Sex(sex)
	p.DOB = p.DOB.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
