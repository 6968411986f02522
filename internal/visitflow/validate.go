package visitflow

import "fmt"

// Validate checks that a stored visit is consistent with its status, so a
// visit can never sit in a queue with nothing to do there, or outside every
// queue while work is still pending.
func Validate(s Status, f Facts) error {
	if !s.Valid() {
		return fmt.Errorf("unknown visit status %q", s)
	}

	switch s {
	case StatusAwaitingLab:
		if f.PendingTests == 0 {
			return fmt.Errorf("%s visit has no pending lab test", s)
		}
	case StatusPharmacyPending:
		if f.PendingTests > 0 {
			return fmt.Errorf("%s visit still has %d pending lab tests", s, f.PendingTests)
		}
		if f.Undispensed == 0 {
			return fmt.Errorf("%s visit has nothing to dispense", s)
		}
	case StatusLabReportsSubmitted:
		if f.PendingTests > 0 {
			return fmt.Errorf("%s visit still has %d pending lab tests", s, f.PendingTests)
		}
	case StatusCompleted:
		if f.PendingTests > 0 || f.Undispensed > 0 {
			return fmt.Errorf("completed visit still has pending work (tests=%d, medicines=%d)", f.PendingTests, f.Undispensed)
		}
	}
	return nil
}
