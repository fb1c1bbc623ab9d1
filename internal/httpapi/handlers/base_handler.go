// README: Shared handler plumbing: JSON helpers and the coded-error mapper.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/types"
)

// statusByCode maps domain error codes onto HTTP statuses. Contention
// outcomes (lost lock, group already taken) are 409 so clients retry the
// read-then-reserve loop instead of treating them as failures.
var statusByCode = map[string]int{
	"VALIDATION_ERROR":          http.StatusBadRequest,
	"INVALID_QUANTITY":          http.StatusBadRequest,
	"NOT_FOUND":                 http.StatusNotFound,
	"ORDER_NOT_FOUND":           http.StatusNotFound,
	"FORBIDDEN":                 http.StatusForbidden,
	"NOT_ASSIGNED":              http.StatusForbidden,
	"ACTIVE_ORDER_EXISTS":       http.StatusConflict,
	"ALREADY_HOLDING":           http.StatusConflict,
	"INVALID_STATUS_TRANSITION": http.StatusConflict,
	"CANCEL_FAILED":             http.StatusConflict,
	"CONCURRENT_REQUEST":        http.StatusConflict,
	"LOCK_FAILED":               http.StatusConflict,
	"NOT_ENOUGH_AVAILABLE":      http.StatusConflict,
	"EXPIRED":                   http.StatusGone,
	"VALIDATION_FAILURES":       http.StatusUnprocessableEntity,
	"RATE_LIMIT_EXCEEDED":       http.StatusTooManyRequests,
}

// isValidID keeps path ids to the opaque charset we generate and accept
// from Firebase: letters, digits, dash, underscore, at most 64 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID extracts and validates a path parameter; on failure it writes the
// 400 itself and reports ok=false.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeBadRequest(c, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeBadRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, &types.Error{Code: "VALIDATION_ERROR", Message: msg})
}

// writeDomainError renders a coded error with its mapped status. Anything
// uncoded is a 500 with the detail kept out of the response.
func writeDomainError(c *gin.Context, err error) {
	var coded *types.Error
	if errors.As(err, &coded) {
		status, ok := statusByCode[coded.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		_ = c.Error(err)
		writeJSON(c, status, coded)
		return
	}
	_ = c.Error(err)
	writeJSON(c, http.StatusInternalServerError, &types.Error{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	})
}
