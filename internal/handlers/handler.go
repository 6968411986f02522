// Package handlers adapts HTTP requests onto the department services.
// Handlers bind and validate the body, call one service operation and
// write the {success, msg, data, errors} envelope.
package handlers

import (
	"context"
	"net/http"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/services"
	"outpatient-backend/internal/validation"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Handler serves every REST route.
type Handler struct {
	svc  *services.Services
	ping func(ctx context.Context) error
}

// New builds the handlers. ping checks the database for /healthz and may
// be nil.
func New(svc *services.Services, ping func(ctx context.Context) error) *Handler {
	return &Handler{svc: svc, ping: ping}
}

// bind decodes the JSON body into in and reports field errors itself.
func bind(c *gin.Context, in any) bool {
	if err := c.ShouldBindJSON(in); err != nil {
		utils.APIError(c, apperr.Validation("Please correct the highlighted fields", validation.Fields(err)))
		return false
	}
	return true
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := utils.ParseID(name, c.Param(name))
	if err != nil {
		utils.APIError(c, apperr.Validation(err.Error(), map[string]string{name: "must be a positive number"}))
		return 0, false
	}
	return id, true
}

// Health reports whether the API and its database are reachable.
func (h *Handler) Health(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			utils.APIResponse(c, http.StatusServiceUnavailable, false, "Database unavailable", nil)
			return
		}
	}
	utils.APIResponse(c, http.StatusOK, true, "OK", gin.H{"time": time.Now().UTC()})
}
