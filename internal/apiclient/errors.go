package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const NetworkErrorMessage = "Unable to connect to the server. Please check your internet connection."

// APIError is a request the server answered and rejected.
type APIError struct {
	Status           int               `json:"status"`
	Kind             string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	Timestamp        string            `json:"timestamp"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Kind)
}

// NetworkError is a request that never got an answer.
type NetworkError struct {
	URL     string
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s (%s): %v", e.Message, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// UserMessage turns any error returned by the client into text fit for a
// form or a terminal.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Message
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if len(apiErr.ValidationErrors) > 0 {
			fields := make([]string, 0, len(apiErr.ValidationErrors))
			for f := range apiErr.ValidationErrors {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			parts := make([]string, 0, len(fields))
			for _, f := range fields {
				parts = append(parts, f+": "+apiErr.ValidationErrors[f])
			}
			return strings.Join(parts, "; ")
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Kind != "" {
			return apiErr.Kind
		}
		return http.StatusText(apiErr.Status)
	}

	return "An unexpected error occurred. Please try again."
}
