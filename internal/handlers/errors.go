package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skrumble/skrumble-go/internal/platform"
	"github.com/skrumble/skrumble-go/skrumble"
)

// statusFor maps SDK and platform errors onto relay HTTP status codes.
func statusFor(err error) int {
	var missing *skrumble.MissingFieldsError
	var apiErr *skrumble.APIError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, skrumble.ErrMissingID),
		errors.Is(err, skrumble.ErrEmptyMessage),
		errors.Is(err, skrumble.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, skrumble.ErrGuestExists):
		return http.StatusConflict
	case errors.Is(err, skrumble.ErrNotConnected),
		errors.Is(err, skrumble.ErrConnectionClosed),
		errors.Is(err, platform.ErrNotLoggedIn):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusBadRequest, http.StatusConflict, http.StatusForbidden:
			return apiErr.StatusCode
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, skrumble.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	var apiErr *skrumble.APIError
	if errors.As(err, &apiErr) {
		if m := apiErr.Message(); m != "" {
			msg = m
		}
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}
