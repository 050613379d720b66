package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screentime/internal/conflict"
	"screentime/internal/permission"
	"screentime/internal/service"
	"screentime/internal/validation"
)

// respondWithError writes a JSON error body and logs err when it is set.
func respondWithError(c *gin.Context, logger *zap.Logger, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		logger.Warn(logMsg,
			zap.Error(err),
			zap.Int("status", status),
			zap.String("path", c.FullPath()))
	}

	c.AbortWithStatusJSON(status, gin.H{"error": userMsg})
}

// statusFor maps a domain error onto an HTTP status and a message safe to
// show to the caller.
func statusFor(err error) (int, string) {
	var verr validation.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, permission.ErrUnauthorized):
		return http.StatusForbidden, permission.ErrUnauthorized.Error()
	case errors.Is(err, permission.ErrFamilyNotFound),
		errors.Is(err, conflict.ErrConflictNotFound),
		errors.Is(err, service.ErrRecordNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conflict.ErrInvalidChoice),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrOwnerImmutable),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInsufficientPoints),
		errors.Is(err, service.ErrInvalidPoints):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, MsgInternalServerError
	}
}

// respondWithDomainError picks the status for err and only logs server faults.
func respondWithDomainError(c *gin.Context, logger *zap.Logger, logMsg string, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		respondWithError(c, logger, status, msg, logMsg, err)
		return
	}
	respondWithError(c, logger, status, msg, "", nil)
}
