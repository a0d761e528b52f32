// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/carpool"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// isValidID ensures IDs are alphanumeric and at most 32 chars (matches the id generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func writeCarpoolError(c *gin.Context, err error) {
	code := carpool.Code(err)
	switch {
	case errors.Is(err, carpool.ErrValidation):
		writeError(c, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, carpool.ErrNotFound):
		writeError(c, http.StatusNotFound, code, err.Error())
	case errors.Is(err, carpool.ErrNotDriver), errors.Is(err, carpool.ErrNotParticipant):
		writeError(c, http.StatusForbidden, code, err.Error())
	case errors.Is(err, carpool.ErrInvalidState),
		errors.Is(err, carpool.ErrAlreadyStarted),
		errors.Is(err, carpool.ErrFull),
		errors.Is(err, carpool.ErrAlreadyJoined),
		errors.Is(err, carpool.ErrActiveCarpool),
		errors.Is(err, carpool.ErrConflict):
		writeError(c, http.StatusConflict, code, err.Error())
	case errors.Is(err, carpool.ErrDependency):
		writeError(c, http.StatusServiceUnavailable, code, "upstream dependency unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, code, "internal error")
	}
}
