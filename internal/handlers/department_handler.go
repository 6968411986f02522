package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// GetLabQueue lists every ordered test still waiting for a report.
func (h *Handler) GetLabQueue(c *gin.Context) {
	items, err := h.svc.Lab.Queue(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Lab queue", items)
}

func (h *Handler) UploadReport(c *gin.Context) {
	id, ok := idParam(c, "orderedLabTestId")
	if !ok {
		return
	}
	var input models.UploadReportInput
	if !bind(c, &input) {
		return
	}

	ordered, err := h.svc.Lab.UploadReport(c.Request.Context(), middleware.CurrentUserID(c), id, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Report uploaded", ordered)
}

// GetPharmacyQueue lists visits waiting for medicines with stock warnings.
func (h *Handler) GetPharmacyQueue(c *gin.Context) {
	items, err := h.svc.Pharmacy.Queue(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Pharmacy queue", items)
}

// IssueMedicines dispenses every pending line of a visit, or none.
func (h *Handler) IssueMedicines(c *gin.Context) {
	visitID, ok := idParam(c, "visitId")
	if !ok {
		return
	}

	res, err := h.svc.Pharmacy.Dispense(c.Request.Context(), middleware.CurrentUserID(c), visitID)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Medicines issued", res)
}
