package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// GetDoctorQueue lists new patients and visits back from the lab.
func (h *Handler) GetDoctorQueue(c *gin.Context) {
	visits, err := h.svc.Visits.DoctorQueue(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}

	// Attach the label the dashboard shows next to each visit.
	items := make([]gin.H, 0, len(visits))
	for i := range visits {
		items = append(items, gin.H{
			"visit":       visits[i],
			"statusLabel": visits[i].Status.Label(),
		})
	}
	utils.APIResponse(c, http.StatusOK, true, "Doctor queue", items)
}

func (h *Handler) GetPatientHistory(c *gin.Context) {
	id, ok := idParam(c, "patientId")
	if !ok {
		return
	}

	history, err := h.svc.Visits.PatientHistory(c.Request.Context(), id)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Patient history", history)
}

func (h *Handler) CompleteConsultation(c *gin.Context) {
	visitID, ok := idParam(c, "visitId")
	if !ok {
		return
	}
	var input models.ConsultationInput
	if !bind(c, &input) {
		return
	}

	visit, err := h.svc.Visits.CompleteConsultation(c.Request.Context(), middleware.CurrentUserID(c), visitID, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Consultation completed: "+visit.Status.Label(), visit)
}

func (h *Handler) UpdateDiagnosis(c *gin.Context) {
	visitID, ok := idParam(c, "visitId")
	if !ok {
		return
	}
	var input models.DiagnosisInput
	if !bind(c, &input) {
		return
	}

	visit, err := h.svc.Visits.UpdateDiagnosis(c.Request.Context(), middleware.CurrentUserID(c), visitID, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Diagnosis updated", visit)
}

func (h *Handler) AddMedicines(c *gin.Context) {
	visitID, ok := idParam(c, "visitId")
	if !ok {
		return
	}
	var input models.AddMedicinesInput
	if !bind(c, &input) {
		return
	}

	visit, err := h.svc.Visits.AddMedicines(c.Request.Context(), middleware.CurrentUserID(c), visitID, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Medicines added: "+visit.Status.Label(), visit)
}

// PostLabReview saves the post-lab diagnosis and medicines together.
func (h *Handler) PostLabReview(c *gin.Context) {
	visitID, ok := idParam(c, "visitId")
	if !ok {
		return
	}
	var input models.PostLabReviewInput
	if !bind(c, &input) {
		return
	}

	visit, err := h.svc.Visits.PostLabReview(c.Request.Context(), middleware.CurrentUserID(c), visitID, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Review saved: "+visit.Status.Label(), visit)
}
