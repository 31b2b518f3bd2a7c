package household

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labourcare/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const familyCols = `id, family_name, worker_id, address, phone, created_at`

const memberCols = `id, family_id, full_name, relation, gender, date_of_birth,
	blood_group, allergies, chronic_conditions, created_at`

const workerCols = `id, registration_no, full_name, establishment, occupation,
	phone, registered_on, created_at`

func (r *repoPG) scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.FamilyID, &m.FullName, &m.Relation, &m.Gender, &m.DateOfBirth,
		&m.BloodGroup, &m.Allergies, &m.ChronicConditions, &m.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *repoPG) GetFamily(ctx context.Context, id uuid.UUID) (*Family, error) {
	var f Family
	err := r.pool.QueryRow(ctx, `SELECT `+familyCols+` FROM family WHERE id = $1`, id).
		Scan(&f.ID, &f.FamilyName, &f.WorkerID, &f.Address, &f.Phone, &f.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+memberCols+` FROM family_member
		WHERE family_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	f.Members = []*Member{}
	for rows.Next() {
		m, err := r.scanMember(rows)
		if err != nil {
			return nil, err
		}
		f.Members = append(f.Members, m)
	}
	return &f, rows.Err()
}

func (r *repoPG) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return r.scanMember(r.pool.QueryRow(ctx, `SELECT `+memberCols+` FROM family_member WHERE id = $1`, id))
}

func (r *repoPG) GetWorker(ctx context.Context, id uuid.UUID) (*WorkerIdentity, error) {
	var w WorkerIdentity
	err := r.pool.QueryRow(ctx, `SELECT `+workerCols+` FROM worker_identity WHERE id = $1`, id).
		Scan(&w.ID, &w.RegistrationNo, &w.FullName, &w.Establishment, &w.Occupation,
			&w.Phone, &w.RegisteredOn, &w.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}
