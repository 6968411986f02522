package handlers

import (
	"context"
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/services"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

func (h *Handler) AddMedicine(c *gin.Context) {
	var input models.AddMedicineInput
	if !bind(c, &input) {
		return
	}

	res, err := h.svc.Office.AddMedicineStock(c.Request.Context(), middleware.CurrentUserID(c), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	msg := "Stock added to " + res.Medicine.Name
	if res.Created {
		msg = "Medicine " + res.Medicine.Name + " added"
	}
	utils.APIResponse(c, http.StatusCreated, true, msg, res)
}

func (h *Handler) GetMedicines(c *gin.Context) {
	medicines, err := h.svc.Office.ListMedicines(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Medicines", medicines)
}

func (h *Handler) AddLabTest(c *gin.Context) {
	var input models.AddLabTestInput
	if !bind(c, &input) {
		return
	}

	test, err := h.svc.Office.AddLabTest(c.Request.Context(), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Lab test added", test)
}

func (h *Handler) GetLabTests(c *gin.Context) {
	tests, err := h.svc.Office.ListLabTests(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Lab tests", tests)
}

func (h *Handler) DailyVisits(c *gin.Context) {
	h.report(c, "Daily visits", h.svc.Office.DailyVisits)
}

func (h *Handler) DailyMedicines(c *gin.Context) {
	h.report(c, "Daily medicines dispensed", h.svc.Office.DailyMedicines)
}

func (h *Handler) DailyLabTests(c *gin.Context) {
	h.report(c, "Daily lab tests", h.svc.Office.DailyLabTests)
}

func (h *Handler) report(c *gin.Context, msg string, fn func(context.Context) ([]services.DailyCount, error)) {
	rows, err := fn(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, msg, rows)
}
