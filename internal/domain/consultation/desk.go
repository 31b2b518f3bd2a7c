// Package consultation is the clinician's action surface over one queue
// entry: call the patient in, read their profile, record the note, or close
// the visit.
package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/domain/prescription"
	"github.com/labourcare/clinic/internal/domain/profile"
	"github.com/labourcare/clinic/internal/domain/queue"
)

// ErrConfirmationRequired guards completing a visit without a note, which
// forecloses clinical documentation for it.
var ErrConfirmationRequired = errors.New("completing without a prescription must be confirmed")

type Transitions interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	StartConsultation(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	Complete(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	Cancel(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
}

type Profiles interface {
	Load(ctx context.Context, entryID uuid.UUID) (*profile.PatientProfile, error)
}

type Recorder interface {
	Submit(ctx context.Context, entryID uuid.UUID, note prescription.Note, by prescription.Prescriber) (*prescription.Submission, error)
}

// Views is refreshed after every write so screens in this process see it
// without waiting for the change event.
type Views interface {
	Invalidate(ctx context.Context, clinicianID uuid.UUID, day time.Time)
}

// Started is the result of calling a patient in. Profile is nil when the
// consultation started but the profile could not be read; ProfileError says
// why and the caller may retry Profile.
type Started struct {
	Entry        *queue.Entry            `json:"entry"`
	Profile      *profile.PatientProfile `json:"profile"`
	ProfileError string                  `json:"profile_error,omitempty"`
}

type Desk struct {
	queue    Transitions
	profiles Profiles
	notes    Recorder
	views    Views
	locks    *keyedMutex
	logger   zerolog.Logger
}

func NewDesk(q Transitions, profiles Profiles, notes Recorder, views Views, logger zerolog.Logger) *Desk {
	return &Desk{
		queue:    q,
		profiles: profiles,
		notes:    notes,
		views:    views,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

// Start calls a WAITING patient in and loads their profile. When another
// session got there first the conflict is returned and local views are
// refreshed to show the winner.
func (d *Desk) Start(ctx context.Context, entryID uuid.UUID) (*Started, error) {
	unlock := d.locks.Lock(entryID)
	defer unlock()

	entry, err := d.queue.StartConsultation(ctx, entryID)
	if err != nil {
		d.afterConflict(ctx, entryID, err)
		return nil, err
	}
	d.refresh(ctx, entry)

	out := &Started{Entry: entry}
	p, err := d.profiles.Load(ctx, entryID)
	if err != nil {
		d.logger.Warn().Err(err).Str("entry_id", entryID.String()).Msg("consultation started without profile")
		out.ProfileError = err.Error()
		return out, nil
	}
	out.Profile = p
	return out, nil
}

// Complete closes the visit without a note. confirm must be true.
func (d *Desk) Complete(ctx context.Context, entryID uuid.UUID, confirm bool) (*queue.Entry, error) {
	if !confirm {
		return nil, ErrConfirmationRequired
	}
	unlock := d.locks.Lock(entryID)
	defer unlock()

	entry, err := d.queue.Complete(ctx, entryID)
	if err != nil {
		d.afterConflict(ctx, entryID, err)
		return nil, err
	}
	d.refresh(ctx, entry)
	return entry, nil
}

func (d *Desk) Cancel(ctx context.Context, entryID uuid.UUID) (*queue.Entry, error) {
	unlock := d.locks.Lock(entryID)
	defer unlock()

	entry, err := d.queue.Cancel(ctx, entryID)
	if err != nil {
		d.afterConflict(ctx, entryID, err)
		return nil, err
	}
	d.refresh(ctx, entry)
	return entry, nil
}

// Submit records the note and completes the visit.
func (d *Desk) Submit(ctx context.Context, entryID uuid.UUID, note prescription.Note, by prescription.Prescriber) (*prescription.Submission, error) {
	unlock := d.locks.Lock(entryID)
	defer unlock()

	sub, err := d.notes.Submit(ctx, entryID, note, by)
	if err != nil {
		d.afterConflict(ctx, entryID, err)
		return nil, err
	}
	d.refresh(ctx, sub.Entry)
	return sub, nil
}

func (d *Desk) Profile(ctx context.Context, entryID uuid.UUID) (*profile.PatientProfile, error) {
	return d.profiles.Load(ctx, entryID)
}

func (d *Desk) refresh(ctx context.Context, e *queue.Entry) {
	if d.views == nil || e == nil {
		return
	}
	d.views.Invalidate(ctx, e.ClinicianID, e.QueueDate)
}

// afterConflict refreshes views when a write lost to another session.
func (d *Desk) afterConflict(ctx context.Context, entryID uuid.UUID, err error) {
	if !errors.Is(err, queue.ErrInvalidTransition) {
		return
	}
	e, gerr := d.queue.Get(ctx, entryID)
	if gerr != nil {
		return
	}
	d.refresh(ctx, e)
}
