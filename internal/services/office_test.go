package services

import (
	"testing"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAddMedicineStock_AddsExactlyOneBatch(t *testing.T) {
	e := newEnv(t)
	before := e.medicine(t, "Paracetamol", 35)
	require.Equal(t, 35, before.TotalStock)
	e.events.take()

	res, err := e.svc.Office.AddMedicineStock(e.ctx, e.office.ID, models.AddMedicineInput{Name: "Paracetamol", SupplierInfo: "Cipla", Stock: 20})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, before.ID, res.Medicine.ID)
	assert.Equal(t, 55, res.Medicine.TotalStock)
	assert.Equal(t, 20, res.Batch.QuantityRemaining)
	assert.Equal(t, 20, res.Batch.QuantityReceived)
	assert.Len(t, e.batches(t, before.ID), 2)

	topics := e.events.take()
	assert.Contains(t, topics, visitflow.TopicInventory)
	assert.Contains(t, topics, visitflow.TopicPharmacyQueue)

	list, err := e.svc.Office.ListMedicines(e.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 55, list[0].TotalStock)
}

func TestAddMedicineStock_NameTakenConcurrently(t *testing.T) {
	e := newEnv(t)

	// Another desk's stock-in of the same new name commits between our
	// lookup and insert.
	raced := false
	require.NoError(t, e.db.Callback().Create().Before("gorm:create").Register("test:other_desk", func(db *gorm.DB) {
		if raced || db.Statement.Table != "medicines" {
			return
		}
		raced = true
		now := time.Now()
		_, err := db.Statement.ConnPool.ExecContext(db.Statement.Context,
			"INSERT INTO medicines (name, created_at, updated_at) VALUES (?, ?, ?)", "Cetirizine", now, now)
		require.NoError(t, err)
	}))

	res, err := e.svc.Office.AddMedicineStock(e.ctx, e.office.ID, models.AddMedicineInput{Name: "Cetirizine", Stock: 20})
	require.NoError(t, err)
	assert.True(t, raced)
	assert.False(t, res.Created)
	assert.NotZero(t, res.Medicine.ID)
	assert.Equal(t, 20, res.Medicine.TotalStock)
	assert.Equal(t, res.Medicine.ID, res.Batch.MedicineID)

	var count int64
	require.NoError(t, e.db.Model(&models.Medicine{}).Where("name = ?", "Cetirizine").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAddMedicineStock_Validation(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Office.AddMedicineStock(e.ctx, e.office.ID, models.AddMedicineInput{Name: "  ", Stock: 5})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = e.svc.Office.AddMedicineStock(e.ctx, e.office.ID, models.AddMedicineInput{Name: "Ibuprofen", Stock: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAddLabTest_UniqueNames(t *testing.T) {
	e := newEnv(t)
	e.labTest(t, "Lipid Profile")
	e.labTest(t, "CBC")

	_, err := e.svc.Office.AddLabTest(e.ctx, models.AddLabTestInput{Name: "CBC"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	tests, err := e.svc.Office.ListLabTests(e.ctx)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "CBC", tests[0].Name)
	assert.Contains(t, e.events.take(), visitflow.TopicLabTestList)
}

func TestDailyReports(t *testing.T) {
	e := newEnv(t)
	para := e.medicine(t, "Paracetamol", 50)
	cbc := e.labTest(t, "CBC")

	v := e.prescribed(t, "700000000001", models.MedicineLine{ID: para.ID, Quantity: 8})
	_, err := e.svc.Pharmacy.Dispense(e.ctx, e.pharmacy.ID, v.ID)
	require.NoError(t, err)

	w := e.visit(t, "700000000002")
	_, err = e.svc.Visits.CompleteConsultation(e.ctx, e.doctor.ID, w.ID, models.ConsultationInput{
		Diagnosis:       "Anaemia",
		OrderedLabTests: []models.LabOrderLine{{ID: cbc.ID}},
	})
	require.NoError(t, err)

	// Outside the reporting window.
	old := e.visit(t, "700000000003")
	require.NoError(t, e.db.Model(&models.Visit{}).Where("id = ?", old.ID).
		Update("registered_at", time.Now().UTC().AddDate(0, 0, -45)).Error)

	today := time.Now().UTC().Format("2006-01-02")

	visits, err := e.svc.Office.DailyVisits(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{{Date: today, Count: 2}}, visits)

	medicines, err := e.svc.Office.DailyMedicines(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{{Date: today, Count: 8}}, medicines)

	labTests, err := e.svc.Office.DailyLabTests(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{{Date: today, Count: 1}}, labTests)
}
