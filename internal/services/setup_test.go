package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"outpatient-backend/internal/config"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"
	"outpatient-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "services-test-secret-0123456789abcdef"

type recorder struct {
	mu     sync.Mutex
	topics []visitflow.Topic
}

func (r *recorder) Notify(_ context.Context, topics ...visitflow.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topics...)
}

// take returns and clears the recorded topics.
func (r *recorder) take() []visitflow.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.topics
	r.topics = nil
	return out
}

type env struct {
	db     *gorm.DB
	svc    *Services
	events *recorder
	ctx    context.Context

	op       *models.User
	doctor   *models.User
	lab      *models.User
	pharmacy *models.User
	office   *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := config.Open("sqlite", dsn, logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, config.Migrate(db))

	e := &env{
		db:     db,
		events: &recorder{},
		ctx:    context.Background(),
	}
	e.svc = New(db, e.events, Options{JWTSecret: testSecret})
	e.op = e.user(t, "opdesk", models.RoleOP)
	e.doctor = e.user(t, "drmehta", models.RoleDoctor)
	e.lab = e.user(t, "labtech", models.RoleLab)
	e.pharmacy = e.user(t, "pharma", models.RolePharmacy)
	e.office = e.user(t, "office", models.RoleOffice)
	return e
}

func (e *env) user(t *testing.T, username string, role models.Role) *models.User {
	t.Helper()
	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	u := &models.User{
		Username:     username,
		Email:        username + "@hospital.test",
		Mobile:       "9876543210",
		Role:         role,
		PasswordHash: hash,
	}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func registration(aadhar, name string) models.RegisterPatientInput {
	return models.RegisterPatientInput{
		PatientInput: models.PatientInput{
			Name:   name,
			Aadhar: aadhar,
			Phone:  "9876543210",
			Gender: "Female",
			DOB:    "1988-03-21",
		},
	}
}

// patient registers a patient at the OP desk without opening a visit.
func (e *env) patient(t *testing.T, aadhar string) *models.Patient {
	t.Helper()
	res, err := e.svc.Registration.RegisterPatient(e.ctx, e.op.ID, registration(aadhar, "Patient "+aadhar[8:]))
	require.NoError(t, err)
	require.Nil(t, res.Visit)
	return res.Patient
}

// visit opens a visit for a fresh patient.
func (e *env) visit(t *testing.T, aadhar string) *models.Visit {
	t.Helper()
	p := e.patient(t, aadhar)
	v, err := e.svc.Visits.CreateVisit(e.ctx, e.op.ID, models.CreateVisitInput{OPNumber: *p.OPNumber, ReasonForVisit: "Fever and cough"})
	require.NoError(t, err)
	return v
}

func (e *env) medicine(t *testing.T, name string, stock ...int) *models.Medicine {
	t.Helper()
	var m *models.Medicine
	for _, qty := range stock {
		res, err := e.svc.Office.AddMedicineStock(e.ctx, e.office.ID, models.AddMedicineInput{Name: name, SupplierInfo: "Acme Pharma", Stock: models.Quantity(qty)})
		require.NoError(t, err)
		m = res.Medicine
	}
	return m
}

func (e *env) labTest(t *testing.T, name string) *models.LabTest {
	t.Helper()
	lt, err := e.svc.Office.AddLabTest(e.ctx, models.AddLabTestInput{Name: name})
	require.NoError(t, err)
	return lt
}

func (e *env) status(t *testing.T, visitID uint64) visitflow.Status {
	t.Helper()
	var v models.Visit
	require.NoError(t, e.db.First(&v, visitID).Error)
	return v.Status
}

// queuesOf lists every department queue currently showing the visit.
func (e *env) queuesOf(t *testing.T, visitID uint64) []visitflow.Queue {
	t.Helper()
	var out []visitflow.Queue

	doctor, err := e.svc.Visits.DoctorQueue(e.ctx)
	require.NoError(t, err)
	for _, v := range doctor {
		if v.ID == visitID {
			out = append(out, visitflow.QueueDoctor)
		}
	}

	lab, err := e.svc.Lab.Queue(e.ctx)
	require.NoError(t, err)
	for _, item := range lab {
		if item.VisitID == visitID {
			out = append(out, visitflow.QueueLab)
			break
		}
	}

	pharmacy, err := e.svc.Pharmacy.Queue(e.ctx)
	require.NoError(t, err)
	for _, item := range pharmacy {
		if item.VisitID == visitID {
			out = append(out, visitflow.QueuePharmacy)
		}
	}
	return out
}

func (e *env) batches(t *testing.T, medicineID uint64) []models.MedicineBatch {
	t.Helper()
	var out []models.MedicineBatch
	require.NoError(t, e.db.Where("medicine_id = ?", medicineID).Order("id asc").Find(&out).Error)
	return out
}

func (e *env) auditTrail(visitID uint64) []models.VisitEvent {
	var out []models.VisitEvent
	e.db.Where("visit_id = ?", visitID).Order("id asc").Find(&out)
	return out
}
