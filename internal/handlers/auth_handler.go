package handlers

import (
	"net/http"

	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// LOGIN
func (h *Handler) Login(c *gin.Context) {
	var input models.LoginInput

	// 1. Validate input
	if !bind(c, &input) {
		return
	}

	// 2. Check credentials and issue the token
	res, err := h.svc.Auth.Login(c.Request.Context(), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}

	// 3. Success
	utils.APIResponse(c, http.StatusOK, true, "Login successful", gin.H{
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user": gin.H{
			"id":       res.User.ID,
			"username": res.User.Username,
			"email":    res.User.Email,
			"role":     res.User.Role,
		},
	})
}

// LOGOUT
func (h *Handler) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		utils.APIResponse(c, http.StatusUnauthorized, false, "Unauthorized", nil)
		return
	}
	if err := h.svc.Auth.Logout(c.Request.Context(), claims); err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Logged out", nil)
}

// FORGOT PASSWORD
func (h *Handler) ForgotPassword(c *gin.Context) {
	var input models.ForgotPasswordInput
	if !bind(c, &input) {
		return
	}

	token, err := h.svc.Auth.ForgotPassword(c.Request.Context(), input)
	if err != nil {
		utils.APIError(c, err)
		return
	}

	// Same reply for known and unknown emails.
	var data gin.H
	if token != "" {
		data = gin.H{"simulatedResetToken": token}
	}
	utils.APIResponse(c, http.StatusOK, true, "If the email is registered, a reset link has been sent", data)
}

// RESET PASSWORD
func (h *Handler) ResetPassword(c *gin.Context) {
	var input models.ResetPasswordInput
	if !bind(c, &input) {
		return
	}

	if err := h.svc.Auth.ResetPassword(c.Request.Context(), c.Param("token"), input); err != nil {
		utils.APIError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Password has been reset, please log in", nil)
}
