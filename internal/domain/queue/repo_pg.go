package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labourcare/clinic/internal/platform/db"
)

// tokenAttempts bounds retries when two intakes race for the same token.
const tokenAttempts = 3

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository { return &entryRepoPG{pool: pool} }

const entryCols = `id, clinician_id, queue_date, token_number,
	patient_name, COALESCE(relation, ''), COALESCE(gender, ''), date_of_birth,
	blood_group, allergies, chronic_conditions,
	family_id, family_member_id, COALESCE(family_name, ''),
	status, queued_at, called_at, completed_at, cancelled_at, notes, updated_at`

func (r *entryRepoPG) scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	err := row.Scan(&e.ID, &e.ClinicianID, &e.QueueDate, &e.TokenNumber,
		&e.PatientName, &e.Relation, &e.Gender, &e.DateOfBirth,
		&e.BloodGroup, &e.Allergies, &e.ChronicConditions,
		&e.FamilyID, &e.FamilyMemberID, &e.FamilyName,
		&status, &e.QueuedAt, &e.CalledAt, &e.CompletedAt, &e.CancelledAt, &e.Notes, &e.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	var lastErr error
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		e.ID = uuid.New()
		err := r.pool.QueryRow(ctx, `
			INSERT INTO queue_entry (id, clinician_id, queue_date, token_number,
				patient_name, relation, gender, date_of_birth,
				blood_group, allergies, chronic_conditions,
				family_id, family_member_id, family_name, status, notes)
			SELECT $1, $2, $3, COALESCE(MAX(token_number), 0) + 1,
				$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
			FROM queue_entry WHERE clinician_id = $2 AND queue_date = $3
			RETURNING token_number, queued_at, updated_at`,
			e.ID, e.ClinicianID, e.QueueDate,
			e.PatientName, e.Relation, e.Gender, e.DateOfBirth,
			e.BloodGroup, e.Allergies, e.ChronicConditions,
			e.FamilyID, e.FamilyMemberID, e.FamilyName, string(e.Status), e.Notes,
		).Scan(&e.TokenNumber, &e.QueuedAt, &e.UpdatedAt)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "queue_entry_token_key") {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("assign token after %d attempts: %w", tokenAttempts, lastErr)
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
}

func (r *entryRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Entry, error) {
	guard := make([]string, len(from))
	for i, s := range from {
		guard[i] = string(s)
	}
	e, err := r.scanEntry(r.pool.QueryRow(ctx, `
		UPDATE queue_entry SET status = $2::varchar,
			called_at = CASE WHEN $2::varchar = 'IN_CONSULTATION' THEN $3 ELSE called_at END,
			completed_at = CASE WHEN $2::varchar = 'COMPLETED' THEN $3 ELSE completed_at END,
			cancelled_at = CASE WHEN $2::varchar = 'CANCELLED' THEN $3 ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+entryCols,
		id, string(to), at, guard))
	if err == ErrNotFound {
		return nil, ErrStatusConflict
	}
	return e, err
}

func (r *entryRepoPG) ListForDay(ctx context.Context, clinicianID uuid.UUID, day time.Time) ([]*Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryCols+` FROM queue_entry
		WHERE clinician_id = $1 AND queue_date = $2 ORDER BY token_number ASC`, clinicianID, day)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *entryRepoPG) ListByFamilyMember(ctx context.Context, memberID uuid.UUID, before time.Time) ([]*Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryCols+` FROM queue_entry
		WHERE family_member_id = $1 AND queued_at < $2 ORDER BY queued_at DESC`, memberID, before)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *entryRepoPG) collect(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
