package models

import (
	"time"

	"outpatient-backend/internal/visitflow"

	"gorm.io/datatypes"
)

// Visit is one clinical encounter. Status is the only routing key of the
// department queues.
type Visit struct {
	ID                      uint64           `gorm:"primaryKey" json:"id"`
	PatientID               uint64           `gorm:"not null;index" json:"patient_id"`
	RegisteredByID          uint64           `gorm:"not null" json:"registered_by_id"`
	DoctorID                *uint64          `json:"doctor_id,omitempty"`
	ReasonForVisit          string           `gorm:"type:text" json:"reason_for_visit"`
	Diagnosis               string           `gorm:"type:text" json:"diagnosis"`
	Status                  visitflow.Status `gorm:"size:30;not null;index" json:"status"`
	RegisteredAt            time.Time        `gorm:"not null;index" json:"registered_at"`
	ConsultationCompletedAt *time.Time       `json:"consultation_completed_at"`
	ReviewedAt              *time.Time       `json:"reviewed_at,omitempty"`
	CompletedAt             *time.Time       `json:"completed_at,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`

	// Relations
	Patient      *Patient             `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	RegisteredBy *User                `gorm:"foreignKey:RegisteredByID" json:"creator,omitempty"`
	Doctor       *User                `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
	Medicines    []PrescribedMedicine `gorm:"foreignKey:VisitID" json:"medicines"`
	LabTests     []OrderedLabTest     `gorm:"foreignKey:VisitID" json:"lab_tests"`
}

// PrescribedMedicine joins a visit with a medicine. A dispensed line is
// never modified again.
type PrescribedMedicine struct {
	ID            uint64     `gorm:"primaryKey" json:"id"`
	VisitID       uint64     `gorm:"not null;uniqueIndex:idx_visit_medicine" json:"visit_id"`
	MedicineID    uint64     `gorm:"not null;uniqueIndex:idx_visit_medicine" json:"medicine_id"`
	Quantity      int        `gorm:"not null" json:"quantity"`
	Dispensed     bool       `gorm:"not null;index" json:"dispensed"`
	DispensedByID *uint64    `json:"dispensed_by_id,omitempty"`
	DispensedAt   *time.Time `json:"dispensed_at,omitempty"`
	PrescribedAt  time.Time  `json:"prescribed_at"`

	Medicine *Medicine `gorm:"foreignKey:MedicineID" json:"medicine,omitempty"`
}

// LabTest is a catalogue entry the doctor can order.
type LabTest struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderedLabTest is pending until ReportURL is set.
type OrderedLabTest struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	VisitID      uint64     `gorm:"not null;index" json:"visit_id"`
	LabTestID    uint64     `gorm:"not null" json:"lab_test_id"`
	ReportURL    *string    `gorm:"size:500" json:"report_url"`
	OrderedAt    time.Time  `gorm:"not null;index" json:"ordered_at"`
	ReportedAt   *time.Time `json:"reported_at,omitempty"`
	ReportedByID *uint64    `json:"reported_by_id,omitempty"`

	LabTest *LabTest `gorm:"foreignKey:LabTestID" json:"lab_test,omitempty"`
	Visit   *Visit   `gorm:"foreignKey:VisitID" json:"visit,omitempty"`
}

// VisitEvent is the audit trail of one visit transition.
type VisitEvent struct {
	ID         uint64           `gorm:"primaryKey" json:"id"`
	VisitID    uint64           `gorm:"not null;index" json:"visit_id"`
	Action     visitflow.Action `gorm:"size:40;not null" json:"action"`
	FromStatus visitflow.Status `gorm:"size:30" json:"from_status"`
	ToStatus   visitflow.Status `gorm:"size:30;not null" json:"to_status"`
	ActorID    uint64           `gorm:"not null" json:"actor_id"`
	Details    datatypes.JSON   `json:"details,omitempty"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
}

// MedicineLine is one {id, quantity} entry of a prescription form; id is
// the catalogue medicine ID.
type MedicineLine struct {
	ID       uint64 `json:"id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1,max=1000"`
}

// LabOrderLine is one {id} entry of orderedLabTests.
type LabOrderLine struct {
	ID uint64 `json:"id" binding:"required"`
}

// CreateVisitInput is posted by the OP desk for an approved patient.
type CreateVisitInput struct {
	OPNumber       string `json:"op_number" binding:"required,max=20"`
	ReasonForVisit string `json:"reason_for_visit" binding:"required,max=1000"`
}

// ConsultationInput closes the first doctor consultation. At most one lab
// test may be ordered per visit.
type ConsultationInput struct {
	Diagnosis           string         `json:"diagnosis" binding:"required,max=5000"`
	PrescribedMedicines []MedicineLine `json:"prescribedMedicines" binding:"omitempty,max=50,dive"`
	OrderedLabTests     []LabOrderLine `json:"orderedLabTests" binding:"omitempty,max=1,dive"`
}

type DiagnosisInput struct {
	Diagnosis string `json:"diagnosis" binding:"required,max=5000"`
}

type AddMedicinesInput struct {
	PrescribedMedicines []MedicineLine `json:"prescribedMedicines" binding:"omitempty,max=50,dive"`
}

// PostLabReviewInput appends the post-lab diagnosis and adds medicines in
// one step.
type PostLabReviewInput struct {
	Diagnosis           string         `json:"diagnosis" binding:"required,max=5000"`
	PrescribedMedicines []MedicineLine `json:"prescribedMedicines" binding:"omitempty,max=50,dive"`
}

type UploadReportInput struct {
	ReportURL string `json:"report_url" binding:"required,url,max=500"`
}
