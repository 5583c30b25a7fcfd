package skrumble

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingClientID     = errors.New("skrumble: client id is required")
	ErrMissingClientSecret = errors.New("skrumble: client secret is required")

	ErrNotConnected       = errors.New("skrumble: socket not connected")
	ErrConnectionClosed   = errors.New("skrumble: connection closed")
	ErrConnectTimeout     = errors.New("skrumble: socket connect timed out")
	ErrRegistrationFailed = errors.New("skrumble: socket registration failed")
	ErrNoToken            = errors.New("skrumble: no access token")

	ErrMissingID          = errors.New("skrumble: object has no id")
	ErrEmptyMessage       = errors.New("skrumble: message is empty")
	ErrNoRecipients       = errors.New("skrumble: no email addresses given")
	ErrGuestExists        = errors.New("skrumble: guest already exists")
	ErrUnexpectedResponse = errors.New("skrumble: unexpected response")
)

// MissingFieldsError reports required inputs that were empty. No network
// call is made when it is returned.
type MissingFieldsError struct {
	Op     string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("skrumble: %s: fields missing: %s", e.Op, strings.Join(e.Fields, ", "))
}

type field struct {
	name  string
	value string
}

// requireFields returns a *MissingFieldsError naming every blank field, in
// the order given.
func requireFields(op string, fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Op: op, Fields: missing}
}

// APIError is a non-2xx reply from the platform.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("skrumble: %s %s: status %d: %s", strings.ToUpper(e.Method), e.URL, e.StatusCode, body)
}

// Message returns the "message" or "error" member of the reply body, or the
// body itself when it is a plain string.
func (e *APIError) Message() string {
	var s string
	if json.Unmarshal(e.Body, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(e.Body, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return ""
}

// ConnectError is returned when the server refuses the socket.io connect.
type ConnectError struct {
	Data json.RawMessage
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("skrumble: socket connect refused: %s", e.Data)
}
