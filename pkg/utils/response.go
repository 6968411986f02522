package utils

import (
	"outpatient-backend/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Response is the envelope of every API reply. Failures carry the message
// in msg and, for validation failures, per-field messages in errors.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"msg"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func APIResponse(c *gin.Context, code int, success bool, message string, data interface{}) {
	c.JSON(code, Response{
		Success: success,
		Message: message,
		Data:    data,
	})
}

// APIError writes err using its apperr kind. Anything uncategorised is
// logged and reported as a generic server error.
func APIError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("Something went wrong, please try again", err)
	}
	if e.Kind == apperr.KindInternal {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), Response{
		Success: false,
		Message: e.Msg,
		Errors:  e.Fields,
	})
}
