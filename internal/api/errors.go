package api

import (
	"net/http"
	"strings"

	"holo/internal/services"
)

// StatusCode maps err to the HTTP status of the Job API.
func StatusCode(err error) int {
	switch services.Kind(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage renders err for clients. Client-caused errors keep their
// message; infrastructure errors are reduced to a generic one.
func PublicMessage(err error) string {
	switch services.Kind(err) {
	case services.KindValidation, services.KindNotFound, services.KindConflict:
		details := services.Details(err)
		msg := strings.TrimSpace(details.Message)
		if msg == "" {
			msg = err.Error()
		}
		if details.Cause != nil && details.Kind == services.KindValidation {
			msg += ": " + details.Cause.Error()
		}
		return msg
	case services.KindUnavailable:
		return "service temporarily unavailable"
	case services.KindTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}
