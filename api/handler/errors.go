package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/clearance/models"
)

// respondError maps err to the correct HTTP status code and writes a
// structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	resp := models.FetchResponse{
		Success: false,
		Error:   errorDetail(err),
		Timing:  timing,
	}
	var bf *models.BypassFailure
	if errors.As(err, &bf) {
		resp.Attempts = bf.Attempts
	}
	c.JSON(mapErrorToStatus(resp.Error.Code), resp)
}

// abortError writes the bare error envelope.
func abortError(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(mapErrorToStatus(code), models.NewErrorResponse(code, message))
}

// errorDetail is models.AsDetail with context errors given their own code.
func errorDetail(err error) *models.ErrorDetail {
	var ce *models.CodedError
	var bf *models.BypassFailure
	if !errors.As(err, &ce) && !errors.As(err, &bf) && errors.Is(err, context.DeadlineExceeded) {
		return &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: err.Error()}
	}
	return models.AsDetail(err)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeTimeout, models.ErrCodeHarvestTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeBypassFailed, models.ErrCodeTransport, models.ErrCodeBlocked:
		return http.StatusBadGateway // 502
	case models.ErrCodeDriverLaunch, models.ErrCodeUnavailable:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeHarvestCancel:
		return http.StatusConflict // 409
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeNoMatch:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
