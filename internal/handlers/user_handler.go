package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// GetUserProfile returns the logged-in account; dashboards use it to
// rehydrate a stored session.
func (h *Handler) GetUserProfile(c *gin.Context) {
	// 1. User ID set by the auth middleware
	userID := middleware.CurrentUserID(c)
	if userID == 0 {
		utils.APIResponse(c, http.StatusUnauthorized, false, "Unauthorized", nil)
		return
	}

	// 2. Load the account
	user, err := h.svc.Auth.Profile(c.Request.Context(), userID)
	if err != nil {
		utils.APIError(c, err)
		return
	}

	// 3. Return it without credentials
	utils.APIResponse(c, http.StatusOK, true, "Profile loaded", gin.H{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"mobile":   user.Mobile,
		"role":     user.Role,
	})
}
