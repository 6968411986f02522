package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VisitService holds the OP desk's visit creation and the doctor's
// consultation workflow.
type VisitService struct {
	*base
}

// CreateVisit opens a visit for an approved patient. A patient has at
// most one open visit at a time.
func (s *VisitService) CreateVisit(ctx context.Context, actorID uint64, in models.CreateVisitInput) (*models.Visit, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var visit *models.Visit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// 1. Lock the patient so two desks cannot open two visits
		var patient models.Patient
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("op_number = ?", in.OPNumber).
			First(&patient).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("No patient with OP number " + in.OPNumber)
		}
		if err != nil {
			return apperr.Internal("Could not load patient", err)
		}

		// 2. Create the visit
		visit, err = s.openVisit(tx, actorID, patient.ID, in.ReasonForVisit)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, visit.ID, visitflow.ActionCreateVisit, visitflow.StatusNone, visit.Status)
	return visit, nil
}

// openVisit inserts a new visit for patientID inside tx.
func (b *base) openVisit(tx *gorm.DB, actorID, patientID uint64, reason string) (*models.Visit, error) {
	var open int64
	if err := tx.Model(&models.Visit{}).
		Where("patient_id = ? AND status <> ?", patientID, visitflow.StatusCompleted).
		Count(&open).Error; err != nil {
		return nil, apperr.Internal("Could not check open visits", err)
	}
	if open > 0 {
		return nil, apperr.Conflict("Patient already has an open visit", nil)
	}

	status, err := visitflow.Next(visitflow.ActionCreateVisit, visitflow.StatusNone, visitflow.Facts{})
	if err != nil {
		return nil, apperr.Internal("Could not open visit", err)
	}

	visit := models.Visit{
		PatientID:      patientID,
		RegisteredByID: actorID,
		ReasonForVisit: reason,
		Status:         status,
		RegisteredAt:   b.now(),
	}
	if err := tx.Create(&visit).Error; err != nil {
		return nil, apperr.Internal("Could not create visit", err)
	}
	if err := recordEvent(tx, visit.ID, visitflow.ActionCreateVisit, visitflow.StatusNone, status, actorID, nil); err != nil {
		return nil, err
	}
	return &visit, nil
}

// DoctorQueue lists new patients and visits whose lab reports are ready,
// oldest registration first.
func (s *VisitService) DoctorQueue(ctx context.Context) ([]models.Visit, error) {
	var visits []models.Visit
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		Preload("RegisteredBy").
		Preload("Medicines.Medicine").
		Preload("LabTests.LabTest").
		Where("status IN ?", visitflow.StatusesIn(visitflow.QueueDoctor)).
		Order("registered_at asc, id asc").
		Find(&visits).Error; err != nil {
		return nil, apperr.Internal("Could not load doctor queue", err)
	}
	return visits, nil
}

// History is a patient's record as the doctor sees it.
type History struct {
	Patient *models.Patient `json:"patient"`
	Visits  []models.Visit  `json:"visits"`
}

// PatientHistory returns every visit of a patient, newest first, with its
// prescriptions and lab tests.
func (s *VisitService) PatientHistory(ctx context.Context, patientID uint64) (*History, error) {
	db := s.db.WithContext(ctx)

	var patient models.Patient
	err := db.First(&patient, patientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, apperr.Internal("Could not load patient", err)
	}

	var visits []models.Visit
	if err := db.
		Preload("Doctor").
		Preload("RegisteredBy").
		Preload("Medicines.Medicine").
		Preload("LabTests.LabTest").
		Where("patient_id = ?", patientID).
		Order("registered_at desc, id desc").
		Find(&visits).Error; err != nil {
		return nil, apperr.Internal("Could not load visits", err)
	}
	return &History{Patient: &patient, Visits: visits}, nil
}

// CompleteConsultation records the first consultation and routes the
// visit: to the lab when a test was ordered, otherwise to the pharmacy
// when medicines were prescribed, otherwise it is closed.
func (s *VisitService) CompleteConsultation(ctx context.Context, actorID, visitID uint64, in models.ConsultationInput) (*models.Visit, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if err := rejectDuplicateLines(in.PrescribedMedicines); err != nil {
		return nil, err
	}

	var from, to visitflow.Status
	var visit *models.Visit
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var err error
		if visit, err = lockVisit(tx, visitID); err != nil {
			return err
		}
		if err := checkAllowed(visitflow.ActionCompleteConsultation, visit); err != nil {
			return err
		}
		from = visit.Status

		if err := s.prescribe(tx, visit.ID, in.PrescribedMedicines); err != nil {
			return err
		}
		if err := s.orderTests(tx, visit.ID, in.OrderedLabTests); err != nil {
			return err
		}

		now := s.now()
		to, err = s.transition(tx, visit, change{
			action:  visitflow.ActionCompleteConsultation,
			actorID: actorID,
			updates: map[string]interface{}{
				"diagnosis":                 in.Diagnosis,
				"doctor_id":                 actorID,
				"consultation_completed_at": now,
			},
			details: map[string]interface{}{
				"medicines": len(in.PrescribedMedicines),
				"lab_tests": len(in.OrderedLabTests),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var extra []visitflow.Topic
	if len(in.OrderedLabTests) > 0 {
		extra = append(extra, visitflow.TopicReports)
	}
	s.committed(ctx, visitID, visitflow.ActionCompleteConsultation, from, to, extra...)
	return s.reload(ctx, visitID)
}

// UpdateDiagnosis replaces the diagnosis of a visit back from the lab.
func (s *VisitService) UpdateDiagnosis(ctx context.Context, actorID, visitID uint64, in models.DiagnosisInput) (*models.Visit, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var from, to visitflow.Status
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		visit, err := lockVisit(tx, visitID)
		if err != nil {
			return err
		}
		if err := checkAllowed(visitflow.ActionUpdateDiagnosis, visit); err != nil {
			return err
		}
		from = visit.Status
		to, err = s.transition(tx, visit, change{
			action:  visitflow.ActionUpdateDiagnosis,
			actorID: actorID,
			updates: map[string]interface{}{"diagnosis": in.Diagnosis},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, visitID, visitflow.ActionUpdateDiagnosis, from, to)
	return s.reload(ctx, visitID)
}

// AddMedicines finishes the post-lab review: the medicines are added and
// the visit goes to the pharmacy, or is closed when nothing is left to
// dispense.
func (s *VisitService) AddMedicines(ctx context.Context, actorID, visitID uint64, in models.AddMedicinesInput) (*models.Visit, error) {
	return s.review(ctx, actorID, visitID, "", in.PrescribedMedicines)
}

// PostLabReview appends the post-lab diagnosis and adds medicines in one
// transaction.
func (s *VisitService) PostLabReview(ctx context.Context, actorID, visitID uint64, in models.PostLabReviewInput) (*models.Visit, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	return s.review(ctx, actorID, visitID, in.Diagnosis, in.PrescribedMedicines)
}

func (s *VisitService) review(ctx context.Context, actorID, visitID uint64, diagnosis string, lines []models.MedicineLine) (*models.Visit, error) {
	if err := validate(models.AddMedicinesInput{PrescribedMedicines: lines}); err != nil {
		return nil, err
	}
	if err := rejectDuplicateLines(lines); err != nil {
		return nil, err
	}

	var from, to visitflow.Status
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		visit, err := lockVisit(tx, visitID)
		if err != nil {
			return err
		}
		if err := checkAllowed(visitflow.ActionAddMedicines, visit); err != nil {
			return err
		}
		from = visit.Status

		if err := s.prescribe(tx, visit.ID, lines); err != nil {
			return err
		}

		updates := map[string]interface{}{"reviewed_at": s.now()}
		if diagnosis = strings.TrimSpace(diagnosis); diagnosis != "" {
			updates["diagnosis"] = appendDiagnosis(visit.Diagnosis, diagnosis)
		}
		to, err = s.transition(tx, visit, change{
			action:  visitflow.ActionAddMedicines,
			actorID: actorID,
			updates: updates,
			details: map[string]interface{}{"medicines": len(lines)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, visitID, visitflow.ActionAddMedicines, from, to)
	return s.reload(ctx, visitID)
}

func appendDiagnosis(current, addition string) string {
	if current == "" {
		return addition
	}
	return current + "\n\nDiagnosis: " + addition
}

// prescribe adds medicine lines to a visit. Each line must name a known
// medicine not already on the visit, for no more than its current stock.
func (s *VisitService) prescribe(tx *gorm.DB, visitID uint64, lines []models.MedicineLine) error {
	if len(lines) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}

	var medicines []models.Medicine
	if err := tx.Preload("Batches").Where("id IN ?", ids).Find(&medicines).Error; err != nil {
		return apperr.Internal("Could not load medicines", err)
	}
	byID := make(map[uint64]*models.Medicine, len(medicines))
	for i := range medicines {
		medicines[i].SumStock()
		byID[medicines[i].ID] = &medicines[i]
	}

	var existing []uint64
	if err := tx.Model(&models.PrescribedMedicine{}).
		Where("visit_id = ? AND medicine_id IN ?", visitID, ids).
		Pluck("medicine_id", &existing).Error; err != nil {
		return apperr.Internal("Could not check prescriptions", err)
	}

	for _, l := range lines {
		m, ok := byID[l.ID]
		if !ok {
			return apperr.NotFound(fmt.Sprintf("Medicine %d not found", l.ID))
		}
		for _, e := range existing {
			if e == l.ID {
				return apperr.Conflict(m.Name+" is already prescribed on this visit", nil)
			}
		}
		if l.Quantity > m.TotalStock {
			return apperr.Conflict(fmt.Sprintf("Insufficient stock for %s (required %d, available %d)", m.Name, l.Quantity, m.TotalStock), nil)
		}
	}

	now := s.now()
	rows := make([]models.PrescribedMedicine, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, models.PrescribedMedicine{
			VisitID:      visitID,
			MedicineID:   l.ID,
			Quantity:     l.Quantity,
			PrescribedAt: now,
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return apperr.Internal("Could not save prescription", err)
	}
	return nil
}

// orderTests attaches lab orders to a visit.
func (s *VisitService) orderTests(tx *gorm.DB, visitID uint64, lines []models.LabOrderLine) error {
	if len(lines) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	var known int64
	if err := tx.Model(&models.LabTest{}).Where("id IN ?", ids).Count(&known).Error; err != nil {
		return apperr.Internal("Could not load lab tests", err)
	}
	if int(known) != len(ids) {
		return apperr.NotFound("Lab test not found")
	}

	now := s.now()
	rows := make([]models.OrderedLabTest, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, models.OrderedLabTest{VisitID: visitID, LabTestID: l.ID, OrderedAt: now})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return apperr.Internal("Could not save lab order", err)
	}
	return nil
}

func (s *VisitService) reload(ctx context.Context, visitID uint64) (*models.Visit, error) {
	var visit models.Visit
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		Preload("Medicines.Medicine").
		Preload("LabTests.LabTest").
		First(&visit, visitID).Error; err != nil {
		return nil, apperr.Internal("Could not load visit", err)
	}
	return &visit, nil
}

func rejectDuplicateLines(lines []models.MedicineLine) error {
	seen := make(map[uint64]bool, len(lines))
	for _, l := range lines {
		if seen[l.ID] {
			return apperr.Conflict(fmt.Sprintf("Medicine %d is prescribed twice", l.ID), nil)
		}
		seen[l.ID] = true
	}
	return nil
}
