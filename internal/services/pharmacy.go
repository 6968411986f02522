package services

import (
	"context"
	"errors"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/inventory"
	"outpatient-backend/internal/metrics"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PharmacyService is the dispensing desk.
type PharmacyService struct {
	*base
}

// PharmacyLine is one undispensed medicine with the stock it would draw on.
type PharmacyLine struct {
	ID           uint64 `json:"id"`
	MedicineID   uint64 `json:"medicine_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	TotalStock   int    `json:"totalStock"`
	Insufficient bool   `json:"insufficient"`
}

// PharmacyQueueItem is a visit waiting for its medicines.
type PharmacyQueueItem struct {
	VisitID        uint64         `json:"visit_id"`
	PatientID      uint64         `json:"patient_id"`
	PatientName    string         `json:"patientName"`
	OPNumber       string         `json:"opNumber"`
	Diagnosis      string         `json:"diagnosis"`
	ReasonForVisit string         `json:"reason_for_visit"`
	RegisteredAt   time.Time      `json:"registered_at"`
	Lines          []PharmacyLine `json:"medicines"`
	// Dispensable is false when any line exceeds current stock.
	Dispensable bool `json:"dispensable"`
}

// Queue lists pharmacy-pending visits with their undispensed lines and
// current stock, oldest first.
func (s *PharmacyService) Queue(ctx context.Context) ([]PharmacyQueueItem, error) {
	db := s.db.WithContext(ctx)

	var visits []models.Visit
	if err := db.
		Preload("Patient").
		Preload("Medicines", "dispensed = ?", false).
		Preload("Medicines.Medicine").
		Where("status = ?", visitflow.StatusPharmacyPending).
		Order("registered_at asc, id asc").
		Find(&visits).Error; err != nil {
		return nil, apperr.Internal("Could not load pharmacy queue", err)
	}

	var ids []uint64
	for _, v := range visits {
		for _, m := range v.Medicines {
			ids = append(ids, m.MedicineID)
		}
	}
	stock, err := stockTotals(db, ids)
	if err != nil {
		return nil, err
	}

	items := make([]PharmacyQueueItem, 0, len(visits))
	for _, v := range visits {
		if len(v.Medicines) == 0 {
			continue
		}
		item := PharmacyQueueItem{
			VisitID:        v.ID,
			PatientID:      v.PatientID,
			Diagnosis:      v.Diagnosis,
			ReasonForVisit: v.ReasonForVisit,
			RegisteredAt:   v.RegisteredAt,
			Dispensable:    true,
		}
		if v.Patient != nil {
			item.PatientName = v.Patient.Name
			if v.Patient.OPNumber != nil {
				item.OPNumber = *v.Patient.OPNumber
			}
		}
		for _, m := range v.Medicines {
			line := PharmacyLine{
				ID:         m.ID,
				MedicineID: m.MedicineID,
				Quantity:   m.Quantity,
				TotalStock: stock[m.MedicineID],
			}
			if m.Medicine != nil {
				line.Name = m.Medicine.Name
			}
			line.Insufficient = line.Quantity > line.TotalStock
			if line.Insufficient {
				item.Dispensable = false
			}
			item.Lines = append(item.Lines, line)
		}
		items = append(items, item)
	}
	return items, nil
}

// DispenseResult reports what a dispense drew from stock.
type DispenseResult struct {
	VisitID uint64           `json:"visit_id"`
	Status  visitflow.Status `json:"status"`
	Draws   inventory.Plan   `json:"draws"`
}

// Dispense issues every undispensed line of a visit, or nothing. Stock is
// checked under row locks for all lines before any batch is touched; on a
// shortage the whole visit is rejected and nothing changes.
func (s *PharmacyService) Dispense(ctx context.Context, actorID, visitID uint64) (*DispenseResult, error) {
	var from, to visitflow.Status
	var plan inventory.Plan
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// 1. Lock the visit and check it is at the pharmacy
		visit, err := lockVisit(tx, visitID)
		if err != nil {
			return err
		}
		if err := checkAllowed(visitflow.ActionDispense, visit); err != nil {
			return err
		}
		from = visit.Status

		// 2. Load the pending lines
		var pending []models.PrescribedMedicine
		if err := tx.Preload("Medicine").
			Where("visit_id = ? AND dispensed = ?", visit.ID, false).
			Order("id asc").
			Find(&pending).Error; err != nil {
			return apperr.Internal("Could not load prescription", err)
		}
		if len(pending) == 0 {
			return apperr.Conflict("Nothing left to dispense on this visit", visitflow.ErrIllegalTransition)
		}

		lines := make([]inventory.Line, 0, len(pending))
		medicineIDs := make([]uint64, 0, len(pending))
		for _, p := range pending {
			line := inventory.Line{ID: p.ID, MedicineID: p.MedicineID, Quantity: p.Quantity}
			if p.Medicine != nil {
				line.Name = p.Medicine.Name
			}
			lines = append(lines, line)
			medicineIDs = append(medicineIDs, p.MedicineID)
		}

		// 3. Lock the batches and plan the draw
		var batches []models.MedicineBatch
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("medicine_id IN ? AND quantity_remaining > 0", medicineIDs).
			Order("received_at asc, id asc").
			Find(&batches).Error; err != nil {
			return apperr.Internal("Could not load stock", err)
		}
		stock := make(map[uint64][]inventory.Batch)
		for _, b := range batches {
			stock[b.MedicineID] = append(stock[b.MedicineID], inventory.Batch{
				ID:         b.ID,
				Remaining:  b.QuantityRemaining,
				ReceivedAt: b.ReceivedAt,
			})
		}

		plan, err = inventory.PlanDispense(lines, stock)
		if err != nil {
			var shortage *inventory.ShortageError
			if errors.As(err, &shortage) {
				return apperr.Conflict("Cannot dispense: "+shortage.Error(), err)
			}
			return apperr.Validation(err.Error(), nil)
		}

		// 4. Apply the plan
		for _, draws := range plan {
			for _, d := range draws {
				res := tx.Model(&models.MedicineBatch{}).
					Where("id = ? AND quantity_remaining >= ?", d.BatchID, d.Quantity).
					Update("quantity_remaining", gorm.Expr("quantity_remaining - ?", d.Quantity))
				if res.Error != nil {
					return apperr.Internal("Could not update stock", res.Error)
				}
				if res.RowsAffected != 1 {
					return apperr.Conflict("Stock changed while dispensing, refresh and try again", inventory.ErrInsufficientStock)
				}
			}
		}

		lineIDs := make([]uint64, 0, len(pending))
		for _, p := range pending {
			lineIDs = append(lineIDs, p.ID)
		}
		res := tx.Model(&models.PrescribedMedicine{}).
			Where("id IN ? AND dispensed = ?", lineIDs, false).
			Updates(map[string]interface{}{
				"dispensed":       true,
				"dispensed_by_id": actorID,
				"dispensed_at":    s.now(),
			})
		if res.Error != nil {
			return apperr.Internal("Could not mark medicines dispensed", res.Error)
		}
		if int(res.RowsAffected) != len(lineIDs) {
			return apperr.Conflict("Medicines were dispensed by someone else", visitflow.ErrIllegalTransition)
		}

		// 5. Close the visit
		to, err = s.transition(tx, visit, change{
			action:  visitflow.ActionDispense,
			actorID: actorID,
			details: map[string]interface{}{"lines": len(lineIDs)},
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			metrics.RecordDispense("insufficient_stock")
		case apperr.Is(err, apperr.KindConflict):
			metrics.RecordDispense("conflict")
		}
		return nil, err
	}

	metrics.RecordDispense("dispensed")
	s.committed(ctx, visitID, visitflow.ActionDispense, from, to, visitflow.TopicInventory)
	return &DispenseResult{VisitID: visitID, Status: to, Draws: plan}, nil
}

// stockTotals sums remaining units per medicine.
func stockTotals(db *gorm.DB, medicineIDs []uint64) (map[uint64]int, error) {
	totals := make(map[uint64]int)
	if len(medicineIDs) == 0 {
		return totals, nil
	}

	var rows []struct {
		MedicineID uint64
		Total      int
	}
	if err := db.Model(&models.MedicineBatch{}).
		Select("medicine_id, COALESCE(SUM(quantity_remaining), 0) AS total").
		Where("medicine_id IN ?", medicineIDs).
		Group("medicine_id").
		Scan(&rows).Error; err != nil {
		return nil, apperr.Internal("Could not load stock", err)
	}
	for _, r := range rows {
		totals[r.MedicineID] = r.Total
	}
	return totals, nil
}
