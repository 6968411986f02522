// Package visitflow defines the lifecycle of an outpatient visit: the legal
// statuses, the actions that move a visit between them, and the department
// queue each status belongs to.
//
// Every queue endpoint and every mutating endpoint routes through this
// package, so a visit's status is the single routing key for the whole
// hospital workflow.
package visitflow

// Status is the lifecycle position of a visit.
type Status string

const (
	// StatusNone is the position of a visit that does not exist yet.
	StatusNone Status = ""

	StatusPatientRegistered   Status = "PATIENT_REGISTERED"
	StatusAwaitingLab         Status = "AWAITING_LAB"
	StatusLabReportsSubmitted Status = "LAB_REPORTS_SUBMITTED"
	StatusPharmacyPending     Status = "PHARMACY_PENDING"
	StatusCompleted           Status = "COMPLETED"
)

var statuses = []Status{
	StatusPatientRegistered,
	StatusAwaitingLab,
	StatusLabReportsSubmitted,
	StatusPharmacyPending,
	StatusCompleted,
}

// Statuses returns every persisted status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Valid reports whether s is one of the persisted statuses.
func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no department has work left on the visit.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Label is the short text the dashboards show next to a visit.
func (s Status) Label() string {
	switch s {
	case StatusPatientRegistered:
		return "New Patient"
	case StatusAwaitingLab:
		return "Awaiting Lab"
	case StatusLabReportsSubmitted:
		return "Lab Reports Ready"
	case StatusPharmacyPending:
		return "Pharmacy Pending"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// Queue names a department work list.
type Queue string

const (
	QueueNone       Queue = ""
	QueueOPApproval Queue = "OP_APPROVAL"
	QueueDoctor     Queue = "DOCTOR"
	QueueLab        Queue = "LAB"
	QueuePharmacy   Queue = "PHARMACY"
)

// QueueOf returns the single queue a visit in status s is listed in.
// Completed visits belong to no queue.
func QueueOf(s Status) Queue {
	switch s {
	case StatusPatientRegistered, StatusLabReportsSubmitted:
		return QueueDoctor
	case StatusAwaitingLab:
		return QueueLab
	case StatusPharmacyPending:
		return QueuePharmacy
	}
	return QueueNone
}

// StatusesIn is the inverse of QueueOf. Queue projections filter visits with it.
func StatusesIn(q Queue) []Status {
	var out []Status
	if q == QueueNone {
		return out
	}
	for _, s := range statuses {
		if QueueOf(s) == q {
			out = append(out, s)
		}
	}
	return out
}
