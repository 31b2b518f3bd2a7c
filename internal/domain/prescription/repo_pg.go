package prescription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labourcare/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, queue_entry_id, family_id, family_member_id, COALESCE(patient_name, ''),
	diagnosis, symptoms, vitals, medicines, tests_recommended, advice, follow_up_date,
	clinician_id, COALESCE(clinician_name, ''), COALESCE(specialization, ''), created_at`

func (r *repoPG) scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var vitals, medicines []byte
	err := row.Scan(&p.ID, &p.QueueEntryID, &p.FamilyID, &p.FamilyMemberID, &p.PatientName,
		&p.Diagnosis, &p.Symptoms, &vitals, &medicines, &p.TestsRecommended, &p.Advice, &p.FollowUpDate,
		&p.ClinicianID, &p.ClinicianName, &p.Specialization, &p.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(vitals, &p.Vitals); err != nil {
		return nil, fmt.Errorf("decode vitals: %w", err)
	}
	if err := json.Unmarshal(medicines, &p.Medicines); err != nil {
		return nil, fmt.Errorf("decode medicines: %w", err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	vitals, err := json.Marshal(p.Vitals)
	if err != nil {
		return fmt.Errorf("encode vitals: %w", err)
	}
	medicines, err := json.Marshal(p.Medicines)
	if err != nil {
		return fmt.Errorf("encode medicines: %w", err)
	}

	p.ID = uuid.New()
	err = r.pool.QueryRow(ctx, `
		INSERT INTO prescription (id, queue_entry_id, family_id, family_member_id, patient_name,
			diagnosis, symptoms, vitals, medicines, tests_recommended, advice, follow_up_date,
			clinician_id, clinician_name, specialization)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9::jsonb,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`,
		p.ID, p.QueueEntryID, p.FamilyID, p.FamilyMemberID, p.PatientName,
		p.Diagnosis, p.Symptoms, string(vitals), string(medicines), p.TestsRecommended, p.Advice, p.FollowUpDate,
		p.ClinicianID, p.ClinicianName, p.Specialization,
	).Scan(&p.CreatedAt)
	if db.IsUniqueViolation(err, "prescription_queue_entry_id_key") {
		return ErrAlreadyRecorded
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM prescription WHERE id = $1`, id))
}

func (r *repoPG) GetByQueueEntry(ctx context.Context, entryID uuid.UUID) (*Prescription, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM prescription WHERE queue_entry_id = $1`, entryID))
}

func (r *repoPG) ListByFamilyMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prescription WHERE family_member_id = $1`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+cols+` FROM prescription
		WHERE family_member_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
