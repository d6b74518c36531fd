package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

func respondError(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if rid := telemetry.GetRequestID(c); rid != "" {
		body["request_id"] = rid
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// RespondDomainError maps domain errors to HTTP responses.
func RespondDomainError(c *gin.Context, err error) {
	var verr domain.ValidationError
	switch {
	case errors.As(err, &verr):
		var extra gin.H
		if verr.Field != "" {
			extra = gin.H{"field": verr.Field}
		}
		respondError(c, http.StatusBadRequest, "validation_error", err.Error(), extra)
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, domain.ConflictCode(err), err.Error(), nil)
	case domain.IsForbidden(err):
		respondError(c, http.StatusForbidden, "forbidden", err.Error(), nil)
	case domain.IsPersistence(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		telemetry.Logger.Error("Request failed on a dependency",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", telemetry.GetRequestID(c)),
			zap.Error(err),
		)
		respondError(c, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable, try again", gin.H{"retryable": true})
	default:
		telemetry.Logger.Error("Unhandled request error",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", telemetry.GetRequestID(c)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
