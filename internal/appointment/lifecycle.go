package appointment

import (
	"fmt"
	"time"
)

// Transition is one edge set of the appointment state machine.
type Transition struct {
	Action string
	From   []AppointmentStatus
	To     AppointmentStatus
}

var (
	Start = Transition{
		Action: "start",
		From:   []AppointmentStatus{StatusBooked},
		To:     StatusInProgress,
	}
	Complete = Transition{
		Action: "complete",
		From:   []AppointmentStatus{StatusBooked, StatusInProgress},
		To:     StatusCompleted,
	}
	Cancel = Transition{
		Action: "cancel",
		From:   []AppointmentStatus{StatusBooked},
		To:     StatusCancelled,
	}
)

func (t Transition) Allows(s AppointmentStatus) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Apply returns the transitioned copy of a. On error a is returned as is.
func (t Transition) Apply(a Appointment, now time.Time) (Appointment, error) {
	if !t.Allows(a.Status) {
		return a, fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidTransition, t.Action, a.Status)
	}

	a.Status = t.To
	switch t.To {
	case StatusInProgress:
		a.ActualStart = &now
	case StatusCompleted:
		a.ActualEnd = &now
	}
	return a, nil
}
