package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// PublicRegister accepts a self-service registration for OP approval.
func (h *Handler) PublicRegister(c *gin.Context) {
	var input models.RegisterPatientInput
	if !bind(c, &input) {
		return
	}

	pending, err := h.svc.Registration.RegisterPending(c.Request.Context(), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Registration submitted, please visit the OP desk for approval", pending)
}

// GetPendingApprovals is the OP approval queue.
func (h *Handler) GetPendingApprovals(c *gin.Context) {
	pending, err := h.svc.Registration.PendingApprovals(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Pending approvals", pending)
}

func (h *Handler) GetPendingPatient(c *gin.Context) {
	pending, err := h.svc.Registration.PendingDetails(c.Request.Context(), c.Param("aadhar"))
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Pending registration", pending)
}

func (h *Handler) ApprovePatient(c *gin.Context) {
	res, err := h.svc.Registration.ApprovePatient(c.Request.Context(), middleware.CurrentUserID(c), c.Param("aadhar"))
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Patient approved with OP number "+*res.Patient.OPNumber, res)
}

// RegisterPatient is the OP desk's direct registration.
func (h *Handler) RegisterPatient(c *gin.Context) {
	var input models.RegisterPatientInput
	if !bind(c, &input) {
		return
	}

	res, err := h.svc.Registration.RegisterPatient(c.Request.Context(), middleware.CurrentUserID(c), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Patient registered with OP number "+*res.Patient.OPNumber, res)
}

func (h *Handler) GetPatientDetails(c *gin.Context) {
	patient, err := h.svc.Registration.PatientDetails(c.Request.Context(), c.Param("opNumber"))
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Patient details", patient)
}

func (h *Handler) CreateVisit(c *gin.Context) {
	var input models.CreateVisitInput
	if !bind(c, &input) {
		return
	}

	visit, err := h.svc.Visits.CreateVisit(c.Request.Context(), middleware.CurrentUserID(c), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Visit created", visit)
}
