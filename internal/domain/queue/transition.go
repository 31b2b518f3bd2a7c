package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("queue entry not found")
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrStatusConflict is returned by EntryRepository.UpdateStatus when the
	// stored status is no longer one of the expected source states.
	ErrStatusConflict = errors.New("queue entry status changed concurrently")
)

type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type rule struct {
	from []Status
	to   Status
}

// WAITING -> IN_CONSULTATION -> COMPLETED. COMPLETED is also reachable
// straight from WAITING (no-show marked done). CANCELLED from either live state.
var rules = map[Action]rule{
	ActionStart:    {from: []Status{StatusWaiting}, to: StatusInConsultation},
	ActionComplete: {from: []Status{StatusInConsultation, StatusWaiting}, to: StatusCompleted},
	ActionCancel:   {from: []Status{StatusWaiting, StatusInConsultation}, to: StatusCancelled},
}

func (r rule) allows(s Status) bool {
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// CanApply reports whether action is legal for an entry in status s.
func CanApply(action Action, s Status) bool {
	r, ok := rules[action]
	return ok && r.allows(s)
}

// TransitionError reports an action that is not legal from the entry's
// current status. It matches ErrInvalidTransition.
type TransitionError struct {
	EntryID uuid.UUID
	Action  Action
	From    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s queue entry %s: status is %s", e.Action, e.EntryID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// FetchError reports that the queue store or the notification channel could
// not be reached. It is transient: the next refresh retries.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
