package handlers

import (
	"net/http"
	"strconv"

	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/models"
	"github.com/gin-gonic/gin"
)

// statusFor maps a failure kind onto an HTTP status.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	kind := apperrors.KindOf(err)
	c.JSON(statusFor(kind), models.ErrorResponse{
		Error:   message,
		Kind:    string(kind),
		Message: err.Error(),
	})
}

func reportIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("report_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid report id"})
		return 0, false
	}
	return id, true
}
