package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// MockTokenServer provides a configurable mock OAuth2 token endpoint for
// testing client-credentials exchanges.
type MockTokenServer struct {
	Server       *httptest.Server
	AccessToken  string     // Token to return on success
	ExpiresIn    int        // Seconds until expiry reported in the response
	StatusCode   int        // HTTP status code to return (200 if not set)
	ErrorBody    string     // Body returned for non-200 status codes
	RawBody      string     // Overrides the success body when set
	RequestCount int        // Number of requests received
	LastForm     url.Values // Captured form values from the last request
}

// SetupMockTokenServer creates a mock token endpoint that handles
// form-encoded client-credentials grant requests.
func SetupMockTokenServer(t *testing.T) *MockTokenServer {
	t.Helper()

	mock := &MockTokenServer{
		AccessToken: "test-access-token",
		ExpiresIn:   3600,
		StatusCode:  http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++

		if err := r.ParseForm(); err == nil {
			mock.LastForm = r.PostForm
		}

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			w.Write([]byte(mock.ErrorBody))
			return
		}

		if mock.RawBody != "" {
			w.Write([]byte(mock.RawBody))
			return
		}

		WriteJSON(w, map[string]any{
			"access_token": mock.AccessToken,
			"token_type":   "bearer",
			"expires_in":   mock.ExpiresIn,
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)
	return mock
}

// TokenURL returns the token endpoint URL of the mock server.
func (m *MockTokenServer) TokenURL() string {
	return m.Server.URL + "/oauth2/token"
}

// MockFHIRServer provides a configurable mock FHIR resource API for testing
// authenticated fetches.
type MockFHIRServer struct {
	Server         *httptest.Server
	Resources      map[string]any // Documents served by path (e.g. "/Patient/123")
	StatusCode     int            // Status override; 0 uses per-path lookup
	Body           string         // Body returned with a status override
	RequestCount   int            // Number of requests received
	LastAuthHeader string         // Captured Authorization header
	LastAccept     string         // Captured Accept header
	LastQuery      url.Values     // Captured query parameters
}

// SetupMockFHIRServer creates a mock FHIR API server. Documents registered
// in Resources are served by path; unregistered paths return a FHIR-style
// 404 OperationOutcome.
func SetupMockFHIRServer(t *testing.T) *MockFHIRServer {
	t.Helper()

	mock := &MockFHIRServer{
		Resources: map[string]any{},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++
		mock.LastAuthHeader = r.Header.Get("Authorization")
		mock.LastAccept = r.Header.Get("Accept")
		mock.LastQuery = r.URL.Query()

		if mock.StatusCode != 0 {
			w.WriteHeader(mock.StatusCode)
			w.Write([]byte(mock.Body))
			return
		}

		doc, ok := mock.Resources[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			WriteJSON(w, map[string]any{
				"resourceType": "OperationOutcome",
				"issue":        []any{map[string]any{"severity": "error", "code": "not-found"}},
			})
			return
		}

		WriteJSON(w, doc)
	}))

	t.Cleanup(mock.Server.Close)
	return mock
}

// WriteJSON is a helper that writes a JSON response, setting the
// Content-Type header.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(data)
}
