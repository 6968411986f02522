package services

import (
	"context"
	"errors"
	"fmt"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistrationService covers public self-registration, OP desk approval
// and staff-entered patients.
type RegistrationService struct {
	*base
}

// OPNumber formats the outpatient number of a patient.
func OPNumber(patientID uint64) string {
	return fmt.Sprintf("OP%06d", patientID)
}

// RegisterPending stores a public submission (primary plus family) for
// approval. It is invisible to every clinical queue until approved.
func (s *RegistrationService) RegisterPending(ctx context.Context, in models.RegisterPatientInput) (*models.PendingRegistration, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.PatientType == models.PatientTypeNonUniversity && in.ReasonForVisit == "" {
		return nil, apperr.Validation("Please correct the highlighted fields", map[string]string{
			"reason_for_visit": "is required for non-university patients",
		})
	}

	primary := models.PendingRegistration{
		Demographics:   in.PatientInput.Demographics(),
		ReasonForVisit: in.ReasonForVisit,
		SubmittedAt:    s.now(),
	}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := ensureAadharsFree(tx, in.Aadhars()); err != nil {
			return err
		}
		if err := tx.Create(&primary).Error; err != nil {
			return apperr.Internal("Could not save registration", err)
		}
		for _, f := range in.FamilyDetails {
			member := models.PendingRegistration{
				Demographics: f.Demographics(primary.Demographics),
				FamilyOfID:   &primary.ID,
				Relation:     f.Relation,
				SubmittedAt:  primary.SubmittedAt,
			}
			if err := tx.Create(&member).Error; err != nil {
				return apperr.Internal("Could not save family member", err)
			}
			primary.FamilyMembers = append(primary.FamilyMembers, member)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, visitflow.TopicPendingApprovals)
	return &primary, nil
}

// PendingApprovals is the OP approval queue: primaries oldest first, with
// their family members.
func (s *RegistrationService) PendingApprovals(ctx context.Context) ([]models.PendingRegistration, error) {
	var pending []models.PendingRegistration
	if err := s.db.WithContext(ctx).
		Preload("FamilyMembers").
		Where("family_of_id IS NULL").
		Order("submitted_at asc, id asc").
		Find(&pending).Error; err != nil {
		return nil, apperr.Internal("Could not load pending approvals", err)
	}
	return pending, nil
}

// PendingDetails loads one pending submission by the primary's aadhar.
func (s *RegistrationService) PendingDetails(ctx context.Context, aadhar string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	err := s.db.WithContext(ctx).
		Preload("FamilyMembers").
		Where("aadhar = ? AND family_of_id IS NULL", aadhar).
		First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Pending registration not found or already approved")
	}
	if err != nil {
		return nil, apperr.Internal("Could not load pending registration", err)
	}
	return &pending, nil
}

// ApprovalResult is the promoted patient and, when a reason for visit was
// submitted, the visit opened for it.
type ApprovalResult struct {
	Patient *models.Patient `json:"patient"`
	Visit   *models.Visit   `json:"visit,omitempty"`
}

// ApprovePatient promotes a pending submission and its family into
// patients with fresh OP numbers and removes the pending rows. Approving
// the same aadhar twice fails with not-found.
func (s *RegistrationService) ApprovePatient(ctx context.Context, actorID uint64, aadhar string) (*ApprovalResult, error) {
	result := &ApprovalResult{}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// 1. Lock the pending primary
		var pending models.PendingRegistration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("aadhar = ? AND family_of_id IS NULL", aadhar).
			First(&pending).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Pending registration not found or already approved")
		}
		if err != nil {
			return apperr.Internal("Could not load pending registration", err)
		}

		var family []models.PendingRegistration
		if err := tx.Where("family_of_id = ?", pending.ID).Order("id asc").Find(&family).Error; err != nil {
			return apperr.Internal("Could not load family members", err)
		}

		// 2. Promote to patients
		patient, err := createPatient(tx, pending.Demographics, nil, "")
		if err != nil {
			return err
		}
		for _, f := range family {
			member, err := createPatient(tx, f.Demographics, &patient.ID, f.Relation)
			if err != nil {
				return err
			}
			patient.FamilyMembers = append(patient.FamilyMembers, *member)
		}

		// 3. Remove the pending rows
		if err := tx.Where("family_of_id = ?", pending.ID).Delete(&models.PendingRegistration{}).Error; err != nil {
			return apperr.Internal("Could not remove family registrations", err)
		}
		if err := tx.Delete(&pending).Error; err != nil {
			return apperr.Internal("Could not remove pending registration", err)
		}

		// 4. Open the visit submitted with the registration
		if pending.ReasonForVisit != "" {
			visit, err := s.openVisit(tx, actorID, patient.ID, pending.ReasonForVisit)
			if err != nil {
				return err
			}
			result.Visit = visit
		}
		result.Patient = patient
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("op_number", *result.Patient.OPNumber).Uint64("approved_by", actorID).Msg("patient approved")
	s.publish(ctx, visitflow.TopicPendingApprovals)
	if result.Visit != nil {
		s.committed(ctx, result.Visit.ID, visitflow.ActionCreateVisit, visitflow.StatusNone, result.Visit.Status)
	}
	return result, nil
}

// RegisterPatient is the OP desk's direct registration. A reason for visit
// opens a visit in the same transaction.
func (s *RegistrationService) RegisterPatient(ctx context.Context, actorID uint64, in models.RegisterPatientInput) (*ApprovalResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	result := &ApprovalResult{}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := ensureAadharsFree(tx, in.Aadhars()); err != nil {
			return err
		}

		patient, err := createPatient(tx, in.PatientInput.Demographics(), nil, "")
		if err != nil {
			return err
		}
		for _, f := range in.FamilyDetails {
			member, err := createPatient(tx, f.Demographics(patient.Demographics), &patient.ID, f.Relation)
			if err != nil {
				return err
			}
			patient.FamilyMembers = append(patient.FamilyMembers, *member)
		}

		if in.ReasonForVisit != "" {
			visit, err := s.openVisit(tx, actorID, patient.ID, in.ReasonForVisit)
			if err != nil {
				return err
			}
			result.Visit = visit
		}
		result.Patient = patient
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Visit != nil {
		s.committed(ctx, result.Visit.ID, visitflow.ActionCreateVisit, visitflow.StatusNone, result.Visit.Status)
	}
	return result, nil
}

// PatientDetails looks a patient up by OP number, with family members and
// visits newest first.
func (s *RegistrationService) PatientDetails(ctx context.Context, opNumber string) (*models.Patient, error) {
	var patient models.Patient
	err := s.db.WithContext(ctx).
		Preload("FamilyMembers").
		Preload("Visits", func(db *gorm.DB) *gorm.DB {
			return db.Order("registered_at desc, id desc")
		}).
		Where("op_number = ?", opNumber).
		First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("No patient with OP number " + opNumber)
	}
	if err != nil {
		return nil, apperr.Internal("Could not load patient", err)
	}
	return &patient, nil
}

// createPatient inserts a patient and assigns its OP number.
func createPatient(tx *gorm.DB, d models.Demographics, primaryID *uint64, relation string) (*models.Patient, error) {
	patient := models.Patient{
		Demographics:     d,
		PrimaryPatientID: primaryID,
		Relation:         relation,
	}
	if err := tx.Create(&patient).Error; err != nil {
		return nil, apperr.Internal("Could not create patient", err)
	}

	op := OPNumber(patient.ID)
	if err := tx.Model(&patient).Update("op_number", op).Error; err != nil {
		return nil, apperr.Internal("Could not assign OP number", err)
	}
	patient.OPNumber = &op
	return &patient, nil
}

// ensureAadharsFree rejects a registration repeating an aadhar, or using
// one that is already pending or registered.
func ensureAadharsFree(tx *gorm.DB, aadhars []string) error {
	seen := make(map[string]bool, len(aadhars))
	for _, a := range aadhars {
		if seen[a] {
			return apperr.Validation("Each person needs a different aadhar number", map[string]string{"aadhar": "is repeated in this registration"})
		}
		seen[a] = true
	}

	var taken []string
	if err := tx.Model(&models.Patient{}).Where("aadhar IN ?", aadhars).Pluck("aadhar", &taken).Error; err != nil {
		return apperr.Internal("Could not check aadhar", err)
	}
	if len(taken) > 0 {
		return apperr.Conflict(fmt.Sprintf("A patient with aadhar %s is already registered", taken[0]), nil)
	}
	if err := tx.Model(&models.PendingRegistration{}).Where("aadhar IN ?", aadhars).Pluck("aadhar", &taken).Error; err != nil {
		return apperr.Internal("Could not check aadhar", err)
	}
	if len(taken) > 0 {
		return apperr.Conflict(fmt.Sprintf("A registration with aadhar %s is already awaiting approval", taken[0]), nil)
	}
	return nil
}
