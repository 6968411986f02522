package visitflow

import (
	"errors"
	"fmt"
)

// Action is a department operation that may move a visit.
type Action string

const (
	ActionCreateVisit          Action = "create_visit"
	ActionCompleteConsultation Action = "complete_consultation"
	ActionUploadReport         Action = "upload_report"
	ActionUpdateDiagnosis      Action = "update_diagnosis"
	ActionAddMedicines         Action = "add_medicines"
	ActionDispense             Action = "dispense"
)

// ErrIllegalTransition is wrapped by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal visit transition")

// TransitionError reports an action attempted from a status that does not allow it.
type TransitionError struct {
	Action Action
	From   Status
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if e.From == StatusNone {
		from = "none"
	}
	return fmt.Sprintf("cannot %s a visit in status %s", e.Action, from)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// transitionMap lists the statuses each action may start from.
var transitionMap = map[Action][]Status{
	ActionCreateVisit:          {StatusNone},
	ActionCompleteConsultation: {StatusPatientRegistered},
	ActionUploadReport:         {StatusAwaitingLab},
	ActionUpdateDiagnosis:      {StatusLabReportsSubmitted},
	ActionAddMedicines:         {StatusLabReportsSubmitted},
	ActionDispense:             {StatusPharmacyPending},
}

// Allowed reports whether action may run against a visit in status from.
func Allowed(action Action, from Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// Facts describe a visit after an action's own writes have been applied.
type Facts struct {
	// PendingTests counts ordered lab tests still without a report.
	PendingTests int
	// Undispensed counts prescribed medicine lines not yet dispensed.
	Undispensed int
}

// Initial is the status of a freshly created visit.
func Initial() Status {
	return StatusPatientRegistered
}

// AfterConsultation routes a visit once the doctor has recorded the
// consultation. A lab order always wins: medicines prescribed alongside it
// stay on the visit but only become dispensable after the post-lab review.
func AfterConsultation(f Facts) Status {
	switch {
	case f.PendingTests > 0:
		return StatusAwaitingLab
	case f.Undispensed > 0:
		return StatusPharmacyPending
	}
	return StatusCompleted
}

// AfterReport keeps the visit with the lab until its last ordered test has a report.
func AfterReport(f Facts) Status {
	if f.PendingTests > 0 {
		return StatusAwaitingLab
	}
	return StatusLabReportsSubmitted
}

// AfterReview sends a reviewed visit to the pharmacy, or closes it when
// nothing is left to dispense.
func AfterReview(f Facts) Status {
	if f.Undispensed > 0 {
		return StatusPharmacyPending
	}
	return StatusCompleted
}

// Next computes the status a visit moves to when action runs from status from.
func Next(action Action, from Status, f Facts) (Status, error) {
	if !Allowed(action, from) {
		return from, &TransitionError{Action: action, From: from}
	}

	switch action {
	case ActionCreateVisit:
		return Initial(), nil
	case ActionCompleteConsultation:
		return AfterConsultation(f), nil
	case ActionUploadReport:
		return AfterReport(f), nil
	case ActionUpdateDiagnosis:
		return from, nil
	case ActionAddMedicines:
		return AfterReview(f), nil
	case ActionDispense:
		if f.Undispensed > 0 {
			return from, fmt.Errorf("dispense left %d lines pending: %w", f.Undispensed, ErrIllegalTransition)
		}
		return StatusCompleted, nil
	}
	return from, &TransitionError{Action: action, From: from}
}
