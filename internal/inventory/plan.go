// Package inventory plans how a dispense draws medicine units out of stock
// batches. Planning is pure; callers apply the plan inside their own
// transaction.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInsufficientStock is wrapped by *ShortageError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity rejects lines asking for zero or negative units.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// Batch is one stock-in of a medicine.
type Batch struct {
	ID         uint64
	Remaining  int
	ReceivedAt time.Time
}

// Line is one prescribed medicine waiting to be dispensed.
type Line struct {
	ID         uint64
	MedicineID uint64
	Name       string
	Quantity   int
}

// Draw takes Quantity units out of a batch.
type Draw struct {
	BatchID  uint64 `json:"batch_id"`
	Quantity int    `json:"quantity"`
}

// Plan maps a line ID to the draws that satisfy it.
type Plan map[uint64][]Draw

// Shortage describes a line that cannot be satisfied.
type Shortage struct {
	LineID     uint64
	MedicineID uint64
	Name       string
	Requested  int
	Available  int
}

// ShortageError lists every short line of a rejected dispense.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("medicine %d", s.MedicineID)
		}
		parts = append(parts, fmt.Sprintf("%s (required %d, available %d)", name, s.Requested, s.Available))
	}
	return "insufficient stock for " + strings.Join(parts, ", ")
}

func (e *ShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// Total is the sum of the remaining units across batches.
func Total(batches []Batch) int {
	total := 0
	for _, b := range batches {
		if b.Remaining > 0 {
			total += b.Remaining
		}
	}
	return total
}

// PlanDispense checks every line against stock before planning anything.
// If any medicine is short the whole dispense is rejected with a
// *ShortageError and no plan. Otherwise each line draws from its
// medicine's oldest batch first, splitting across batches as needed.
func PlanDispense(lines []Line, stock map[uint64][]Batch) (Plan, error) {
	requested := make(map[uint64]int)
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("line %d: %w", l.ID, ErrInvalidQuantity)
		}
		requested[l.MedicineID] += l.Quantity
	}

	var short []Shortage
	for _, l := range lines {
		available := Total(stock[l.MedicineID])
		if requested[l.MedicineID] > available {
			short = append(short, Shortage{
				LineID:     l.ID,
				MedicineID: l.MedicineID,
				Name:       l.Name,
				Requested:  l.Quantity,
				Available:  available,
			})
		}
	}
	if len(short) > 0 {
		return nil, &ShortageError{Shortages: short}
	}

	remaining := make(map[uint64][]Batch, len(stock))
	for medicineID, batches := range stock {
		remaining[medicineID] = fifo(batches)
	}

	plan := make(Plan, len(lines))
	for _, l := range lines {
		need := l.Quantity
		batches := remaining[l.MedicineID]
		for i := range batches {
			if need == 0 {
				break
			}
			if batches[i].Remaining <= 0 {
				continue
			}
			take := batches[i].Remaining
			if take > need {
				take = need
			}
			batches[i].Remaining -= take
			need -= take
			plan[l.ID] = append(plan[l.ID], Draw{BatchID: batches[i].ID, Quantity: take})
		}
	}
	return plan, nil
}

// fifo returns a copy of batches ordered oldest first.
func fifo(batches []Batch) []Batch {
	out := make([]Batch, len(batches))
	copy(out, batches)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
