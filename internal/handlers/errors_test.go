package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skrumble/skrumble-go/internal/platform"
	"github.com/skrumble/skrumble-go/skrumble"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing fields", &skrumble.MissingFieldsError{Fields: []string{"email"}}, http.StatusBadRequest},
		{"missing id", fmt.Errorf("save: %w", skrumble.ErrMissingID), http.StatusBadRequest},
		{"empty message", skrumble.ErrEmptyMessage, http.StatusBadRequest},
		{"no recipients", skrumble.ErrNoRecipients, http.StatusBadRequest},
		{"guest exists", skrumble.ErrGuestExists, http.StatusConflict},
		{"not connected", skrumble.ErrNotConnected, http.StatusServiceUnavailable},
		{"closed", skrumble.ErrConnectionClosed, http.StatusServiceUnavailable},
		{"not logged in", platform.ErrNotLoggedIn, http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"api not found", &skrumble.APIError{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{"api unauthorized", &skrumble.APIError{StatusCode: http.StatusUnauthorized}, http.StatusBadGateway},
		{"api server error", fmt.Errorf("wrap: %w", &skrumble.APIError{StatusCode: http.StatusInternalServerError}), http.StatusBadGateway},
		{"unexpected", skrumble.ErrUnexpectedResponse, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
