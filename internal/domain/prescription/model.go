package prescription

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Vital sign keys the consultation form offers. Stored vitals are sparse:
// a key is present only when a value was recorded.
const (
	VitalBloodPressure = "bp"
	VitalTemperature   = "temperature"
	VitalPulse         = "pulse"
	VitalWeight        = "weight"
	VitalSpO2          = "spo2"
)

type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// Prescription maps to the prescription table. It is written once per queue
// entry and never changed.
type Prescription struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	QueueEntryID     uuid.UUID         `db:"queue_entry_id" json:"queue_entry_id"`
	FamilyID         uuid.UUID         `db:"family_id" json:"family_id"`
	FamilyMemberID   uuid.UUID         `db:"family_member_id" json:"family_member_id"`
	PatientName      string            `db:"patient_name" json:"patient_name"`
	Diagnosis        string            `db:"diagnosis" json:"diagnosis"`
	Symptoms         []string          `db:"symptoms" json:"symptoms"`
	Vitals           map[string]string `db:"vitals" json:"vitals"`
	Medicines        []Medicine        `db:"medicines" json:"medicines"`
	TestsRecommended []string          `db:"tests_recommended" json:"tests_recommended"`
	Advice           *string           `db:"advice" json:"advice,omitempty"`
	FollowUpDate     *time.Time        `db:"follow_up_date" json:"follow_up_date,omitempty"`
	ClinicianID      uuid.UUID         `db:"clinician_id" json:"clinician_id"`
	ClinicianName    string            `db:"clinician_name" json:"clinician_name"`
	Specialization   string            `db:"specialization" json:"specialization"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}

// Note is the clinician's submission as entered on the consultation form.
type Note struct {
	Diagnosis        string            `json:"diagnosis"`
	Symptoms         []string          `json:"symptoms"`
	Vitals           map[string]string `json:"vitals"`
	Medicines        []Medicine        `json:"medicines"`
	TestsRecommended []string          `json:"tests_recommended"`
	Advice           string            `json:"advice"`
	// FollowUpDate is YYYY-MM-DD or empty.
	FollowUpDate string `json:"follow_up_date"`
}

// Prescriber identifies the clinician signing the note.
type Prescriber struct {
	ID             uuid.UUID
	Name           string
	Specialization string
}

// ValidationError rejects a note before anything is stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// normalized is a validated note with blank rows and values removed.
type normalized struct {
	diagnosis    string
	symptoms     []string
	vitals       map[string]string
	medicines    []Medicine
	tests        []string
	advice       *string
	followUpDate *time.Time
}

func (n Note) normalize() (*normalized, error) {
	diagnosis := strings.TrimSpace(n.Diagnosis)
	if diagnosis == "" {
		return nil, &ValidationError{Field: "diagnosis", Message: "is required"}
	}

	out := &normalized{
		diagnosis: diagnosis,
		symptoms:  compact(n.Symptoms),
		tests:     compact(n.TestsRecommended),
		vitals:    make(map[string]string, len(n.Vitals)),
		medicines: make([]Medicine, 0, len(n.Medicines)),
	}

	for k, v := range n.Vitals {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out.vitals[k] = v
	}

	for _, m := range n.Medicines {
		m = Medicine{
			Name:         strings.TrimSpace(m.Name),
			Dosage:       strings.TrimSpace(m.Dosage),
			Frequency:    strings.TrimSpace(m.Frequency),
			Duration:     strings.TrimSpace(m.Duration),
			Instructions: strings.TrimSpace(m.Instructions),
		}
		if m.Name == "" {
			continue
		}
		out.medicines = append(out.medicines, m)
	}

	if advice := strings.TrimSpace(n.Advice); advice != "" {
		out.advice = &advice
	}

	if d := strings.TrimSpace(n.FollowUpDate); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, &ValidationError{Field: "follow_up_date", Message: "must be YYYY-MM-DD"}
		}
		out.followUpDate = &t
	}
	return out, nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
