package fhir

import "fmt"

// AuthError reports a failed token exchange: the token endpoint rejected the
// client assertion or returned a body that could not be parsed. The status
// code and raw body are retained for diagnostics.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// APIError reports a failed resource fetch. For HTTP failures StatusCode and
// Body are set; for connectivity failures (including timeouts) Err holds the
// underlying transport error and StatusCode is zero.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("FHIR request failed: %v", e.Err)
	}
	return fmt.Sprintf("FHIR request failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
