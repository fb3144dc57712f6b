package handlers

import (
	"context"
	"errors"
	"net/http"

	"homehelp/models"
	"homehelp/realtime"
	"homehelp/utils"

	"github.com/gin-gonic/gin"
)

// statusForKind maps a discovery error kind to the HTTP status returned to
// the app. Location failures are conflicts with the device's state rather
// than bad requests.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindAuthRequired:
		return http.StatusUnauthorized
	case models.ErrKindValidation, models.ErrKindMissingCoordinates:
		return http.StatusBadRequest
	case models.ErrKindSearchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}

// respondError writes err using the discovery error taxonomy.
func respondError(c *gin.Context, message string, err error) {
	if kind, ok := models.KindOf(err); ok {
		utils.JSONKindError(c, statusForKind(kind), string(kind), message, err.Error())
		return
	}
	switch {
	case errors.Is(err, realtime.ErrDeviceOffline):
		utils.JSONError(c, http.StatusServiceUnavailable, message, err.Error())
	case errors.Is(err, context.Canceled):
		utils.JSONError(c, http.StatusConflict, message, "superseded by a newer request")
	case errors.Is(err, context.DeadlineExceeded):
		utils.JSONError(c, http.StatusGatewayTimeout, message, err.Error())
	default:
		utils.JSONError(c, http.StatusInternalServerError, message, err.Error())
	}
}
