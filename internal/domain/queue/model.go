package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting        Status = "WAITING"
	StatusInConsultation Status = "IN_CONSULTATION"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInConsultation, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Entry maps to the queue_entry table: one patient's visit slot for one
// clinician on one calendar day.
type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicianID uuid.UUID `db:"clinician_id" json:"clinician_id"`
	QueueDate   time.Time `db:"queue_date" json:"queue_date"`
	TokenNumber int       `db:"token_number" json:"token_number"`

	Patient

	Status      Status     `db:"status" json:"status"`
	QueuedAt    time.Time  `db:"queued_at" json:"queued_at"`
	CalledAt    *time.Time `db:"called_at" json:"called_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Patient is the snapshot of household data copied onto an entry at intake.
// Later edits to the household record do not change past entries.
type Patient struct {
	PatientName       string     `db:"patient_name" json:"patient_name"`
	Relation          string     `db:"relation" json:"relation"`
	Gender            string     `db:"gender" json:"gender"`
	DateOfBirth       *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	BloodGroup        *string    `db:"blood_group" json:"blood_group,omitempty"`
	Allergies         *string    `db:"allergies" json:"allergies,omitempty"`
	ChronicConditions *string    `db:"chronic_conditions" json:"chronic_conditions,omitempty"`

	FamilyID       uuid.UUID `db:"family_id" json:"family_id"`
	FamilyMemberID uuid.UUID `db:"family_member_id" json:"family_member_id"`
	FamilyName     string    `db:"family_name" json:"family_name"`
}

// Summary counts a day's entries by status.
type Summary struct {
	Total          int `json:"total"`
	Waiting        int `json:"waiting"`
	InConsultation int `json:"in_consultation"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
}

func Summarize(entries []*Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case StatusWaiting:
			s.Waiting++
		case StatusInConsultation:
			s.InConsultation++
		case StatusCompleted:
			s.Completed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

const dateLayout = "2006-01-02"

// Day truncates t to its calendar date in loc. The result is midnight UTC of
// that date, which is how DATE columns round-trip through pgx.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar date.
func ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

func FormatDay(day time.Time) string {
	return day.Format(dateLayout)
}

// Topic is the change-notification topic for a clinician's day.
func Topic(clinicianID uuid.UUID, day time.Time) string {
	return "queue/" + clinicianID.String() + "/" + FormatDay(day)
}

// ParseTopic is the inverse of Topic.
func ParseTopic(topic string) (uuid.UUID, time.Time, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "queue" {
		return uuid.Nil, time.Time{}, fmt.Errorf("invalid queue topic %q", topic)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("invalid queue topic %q: %w", topic, err)
	}
	day, err := ParseDay(parts[2])
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, day, nil
}
