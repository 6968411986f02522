package services

import (
	"errors"
	"sync"
	"testing"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/inventory"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prescribed takes a fresh visit straight to the pharmacy with lines.
func (e *env) prescribed(t *testing.T, aadhar string, lines ...models.MedicineLine) *models.Visit {
	t.Helper()
	v := e.visit(t, aadhar)
	got, err := e.svc.Visits.CompleteConsultation(e.ctx, e.doctor.ID, v.ID, models.ConsultationInput{
		Diagnosis:           "Infection",
		PrescribedMedicines: lines,
	})
	require.NoError(t, err)
	require.Equal(t, visitflow.StatusPharmacyPending, got.Status)
	return got
}

func TestDispense_AllOrNothing(t *testing.T) {
	e := newEnv(t)
	para := e.medicine(t, "Paracetamol", 5)
	amox := e.medicine(t, "Amoxicillin", 3)
	v := e.prescribed(t, "300000000001",
		models.MedicineLine{ID: para.ID, Quantity: 5},
		models.MedicineLine{ID: amox.ID, Quantity: 3},
	)

	// Another counter used one Amoxicillin since the prescription.
	require.NoError(t, e.db.Model(&models.MedicineBatch{}).
		Where("medicine_id = ?", amox.ID).
		Update("quantity_remaining", 2).Error)

	queue, err := e.svc.Pharmacy.Queue(e.ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.False(t, queue[0].Dispensable)
	for _, line := range queue[0].Lines {
		assert.Equal(t, line.MedicineID == amox.ID, line.Insufficient, line.Name)
	}

	_, err = e.svc.Pharmacy.Dispense(e.ctx, e.pharmacy.ID, v.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.True(t, errors.Is(err, inventory.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "Amoxicillin")

	var lines []models.PrescribedMedicine
	require.NoError(t, e.db.Where("visit_id = ?", v.ID).Find(&lines).Error)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.False(t, l.Dispensed)
		assert.Nil(t, l.DispensedAt)
	}
	assert.Equal(t, 5, e.batches(t, para.ID)[0].QuantityRemaining)
	assert.Equal(t, 2, e.batches(t, amox.ID)[0].QuantityRemaining)
	assert.Equal(t, visitflow.StatusPharmacyPending, e.status(t, v.ID))
}

func TestDispense_DrawsOldestBatchFirst(t *testing.T) {
	e := newEnv(t)
	para := e.medicine(t, "Paracetamol", 4, 10)
	v := e.prescribed(t, "300000000002", models.MedicineLine{ID: para.ID, Quantity: 7})
	e.events.take()

	res, err := e.svc.Pharmacy.Dispense(e.ctx, e.pharmacy.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, visitflow.StatusCompleted, res.Status)

	batches := e.batches(t, para.ID)
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].QuantityRemaining)
	assert.Equal(t, 7, batches[1].QuantityRemaining)

	var line models.PrescribedMedicine
	require.NoError(t, e.db.Where("visit_id = ?", v.ID).First(&line).Error)
	assert.True(t, line.Dispensed)
	require.NotNil(t, line.DispensedByID)
	assert.Equal(t, e.pharmacy.ID, *line.DispensedByID)
	assert.NotNil(t, line.DispensedAt)

	topics := e.events.take()
	assert.Contains(t, topics, visitflow.TopicPharmacyQueue)
	assert.Contains(t, topics, visitflow.TopicInventory)
	assert.Contains(t, topics, visitflow.TopicReports)

	queue, err := e.svc.Pharmacy.Queue(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestDispense_ConcurrentSecondAttemptConflicts(t *testing.T) {
	e := newEnv(t)
	para := e.medicine(t, "Paracetamol", 10)
	v := e.prescribed(t, "300000000003", models.MedicineLine{ID: para.ID, Quantity: 6})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.Pharmacy.Dispense(e.ctx, e.pharmacy.ID, v.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 4, e.batches(t, para.ID)[0].QuantityRemaining)
}

func TestDispense_UnknownVisit(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Pharmacy.Dispense(e.ctx, e.pharmacy.ID, 4242)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
