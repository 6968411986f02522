package services

import (
	"context"
	"errors"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"gorm.io/gorm"
)

// LabService is the lab department's queue and report upload.
type LabService struct {
	*base
}

// LabQueueItem is one pending ordered test joined with its patient.
type LabQueueItem struct {
	ID               uint64     `json:"id"`
	VisitID          uint64     `json:"visit_id"`
	TestName         string     `json:"testName"`
	PatientName      string     `json:"patientName"`
	OPNumber         string     `json:"opNumber"`
	ConsultationTime *time.Time `json:"consultationTime"`
	OrderedAt        time.Time  `json:"ordered_at"`
}

// Queue flattens every ordered test without a report, one row per test,
// oldest order first.
func (s *LabService) Queue(ctx context.Context) ([]LabQueueItem, error) {
	var items []LabQueueItem
	if err := s.db.WithContext(ctx).
		Table("ordered_lab_tests AS olt").
		Select(`olt.id AS id, olt.visit_id AS visit_id, lt.name AS test_name,
			p.name AS patient_name, COALESCE(p.op_number, '') AS op_number,
			v.consultation_completed_at AS consultation_time, olt.ordered_at AS ordered_at`).
		Joins("JOIN visits v ON v.id = olt.visit_id").
		Joins("JOIN patients p ON p.id = v.patient_id").
		Joins("JOIN lab_tests lt ON lt.id = olt.lab_test_id").
		Where("olt.report_url IS NULL").
		Order("olt.ordered_at asc, olt.id asc").
		Scan(&items).Error; err != nil {
		return nil, apperr.Internal("Could not load lab queue", err)
	}
	return items, nil
}

// UploadReport attaches a report URL to an ordered test. When it was the
// visit's last pending test the visit returns to the doctor.
func (s *LabService) UploadReport(ctx context.Context, actorID, orderedTestID uint64, in models.UploadReportInput) (*models.OrderedLabTest, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var from, to visitflow.Status
	var ordered models.OrderedLabTest
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// 1. Load the ordered test
		err := tx.First(&ordered, orderedTestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Ordered lab test not found")
		}
		if err != nil {
			return apperr.Internal("Could not load ordered lab test", err)
		}
		if ordered.ReportURL != nil {
			return apperr.Conflict("A report has already been uploaded for this test", nil)
		}

		// 2. Lock the visit and check it is waiting on the lab
		visit, err := lockVisit(tx, ordered.VisitID)
		if err != nil {
			return err
		}
		if err := checkAllowed(visitflow.ActionUploadReport, visit); err != nil {
			return err
		}
		from = visit.Status

		// 3. Attach the report, once
		now := s.now()
		res := tx.Model(&models.OrderedLabTest{}).
			Where("id = ? AND report_url IS NULL", ordered.ID).
			Updates(map[string]interface{}{
				"report_url":     in.ReportURL,
				"reported_at":    now,
				"reported_by_id": actorID,
			})
		if res.Error != nil {
			return apperr.Internal("Could not save report", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperr.Conflict("A report has already been uploaded for this test", nil)
		}

		// 4. Route the visit
		to, err = s.transition(tx, visit, change{
			action:  visitflow.ActionUploadReport,
			actorID: actorID,
			details: map[string]interface{}{"ordered_lab_test_id": ordered.ID},
		})
		if err != nil {
			return err
		}

		if err := tx.Preload("LabTest").First(&ordered, ordered.ID).Error; err != nil {
			return apperr.Internal("Could not load ordered lab test", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, ordered.VisitID, visitflow.ActionUploadReport, from, to)
	return &ordered, nil
}
