package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// GetAllStaff lists the department accounts.
func (h *Handler) GetAllStaff(c *gin.Context) {
	staff, err := h.svc.Staff.List(c.Request.Context())
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Staff list", staff)
}

func (h *Handler) CreateStaff(c *gin.Context) {
	var input models.CreateStaffInput
	if !bind(c, &input) {
		return
	}

	user, err := h.svc.Staff.Create(c.Request.Context(), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Staff member created", user)
}

func (h *Handler) UpdateStaff(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.UpdateStaffInput
	if !bind(c, &input) {
		return
	}

	user, err := h.svc.Staff.Update(c.Request.Context(), id, input)
	if err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Staff member updated", user)
}

func (h *Handler) DeleteStaff(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.svc.Staff.Delete(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Staff member deleted", nil)
}
