// Package household reads the registered families the clinic serves: the
// household, its members and the worker registration that entitles it.
// The clinic core never writes these records.
package household

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Family struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FamilyName string     `db:"family_name" json:"family_name"`
	WorkerID   *uuid.UUID `db:"worker_id" json:"worker_id,omitempty"`
	Address    *string    `db:"address" json:"address,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Members    []*Member  `json:"members"`
}

type Member struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	FamilyID          uuid.UUID  `db:"family_id" json:"family_id"`
	FullName          string     `db:"full_name" json:"full_name"`
	Relation          string     `db:"relation" json:"relation"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	DateOfBirth       *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	BloodGroup        *string    `db:"blood_group" json:"blood_group,omitempty"`
	Allergies         *string    `db:"allergies" json:"allergies,omitempty"`
	ChronicConditions *string    `db:"chronic_conditions" json:"chronic_conditions,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Age is the member's age in whole years at now, or -1 when the birth date
// is unknown.
func (m *Member) Age(now time.Time) int {
	if m.DateOfBirth == nil {
		return -1
	}
	dob := *m.DateOfBirth
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

func (m *Member) HasAllergies() bool { return notBlank(m.Allergies) }

func (m *Member) HasChronicConditions() bool { return notBlank(m.ChronicConditions) }

func notBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// WorkerIdentity is the registration of the worker a family is enrolled
// through.
type WorkerIdentity struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RegistrationNo string     `db:"registration_no" json:"registration_no"`
	FullName       string     `db:"full_name" json:"full_name"`
	Establishment  *string    `db:"establishment" json:"establishment,omitempty"`
	Occupation     *string    `db:"occupation" json:"occupation,omitempty"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	RegisteredOn   *time.Time `db:"registered_on" json:"registered_on,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
