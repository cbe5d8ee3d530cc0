package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resource is a parsed FHIR document: either a single resource carrying a
// resourceType field, or a search bundle with entry and total. It is handed
// to callers exactly as the server returned it.
type Resource map[string]any

// ResourceType returns the document's resourceType field, or "" if absent.
func (r Resource) ResourceType() string {
	t, _ := r["resourceType"].(string)
	return t
}

// Client performs authenticated reads against the FHIR resource API. It
// derives the required scope per request and obtains tokens from its
// TokenSource.
type Client struct {
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
}

// NewClient creates a resource client rooted at baseURL.
func NewClient(baseURL string, tokens *TokenSource, httpClient *http.Client) (Client, error) {
	if baseURL == "" {
		return Client{}, errors.New("FHIR base URL must be configured")
	}

	return Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}, nil
}

// ScopeForPath derives the single required scope from a resource path: the
// path segment before any "/" or "?" is the resource type, requested with
// read+search access. Query parameters never influence the scope.
func ScopeForPath(path string) string {
	resourceType, _, _ := strings.Cut(path, "/")
	resourceType, _, _ = strings.Cut(resourceType, "?")
	return fmt.Sprintf("system/%s.rs", resourceType)
}

// Fetch performs one authenticated GET of path, which is a resource type
// name optionally followed by "/<id>". The parsed response document is
// returned unmodified; any non-success response fails the call entirely.
// There are no retries: the caller decides whether a retry is appropriate.
func (c Client) Fetch(ctx context.Context, path string, params url.Values) (Resource, error) {
	if path == "" {
		return nil, errors.New("resource path must not be empty")
	}

	token, err := c.tokens.GetToken(ctx, []string{ScopeForPath(path)})
	if err != nil {
		return nil, err
	}

	requestURL := c.baseURL + "/" + path
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		requestURL += sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")

	log.Debug().Str("url", requestURL).Msg("FHIR request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &APIError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var doc Resource
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}

	return doc, nil
}

// Convenience wrappers: parameter-building sugar over Fetch, no additional
// contract.

// GetPatient retrieves a patient by FHIR ID.
func (c Client) GetPatient(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "Patient/"+patientID, nil)
}

// SearchPatients searches for patients by demographic parameters.
func (c Client) SearchPatients(ctx context.Context, params url.Values) (Resource, error) {
	return c.Fetch(ctx, "Patient", params)
}

// Observations retrieves a patient's observations, optionally filtered by
// category (vital-signs, laboratory, ...).
func (c Client) Observations(ctx context.Context, patientID, category string) (Resource, error) {
	params := url.Values{"patient": {patientID}}
	if category != "" {
		params.Set("category", category)
	}
	return c.Fetch(ctx, "Observation", params)
}

// Conditions retrieves a patient's conditions and diagnoses.
func (c Client) Conditions(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "Condition", url.Values{"patient": {patientID}})
}

// Medications retrieves a patient's medication requests.
func (c Client) Medications(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "MedicationRequest", url.Values{"patient": {patientID}})
}

// Allergies retrieves a patient's allergies and intolerances.
func (c Client) Allergies(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "AllergyIntolerance", url.Values{"patient": {patientID}})
}

// Immunizations retrieves a patient's immunization history.
func (c Client) Immunizations(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "Immunization", url.Values{"patient": {patientID}})
}

// Procedures retrieves a patient's procedures.
func (c Client) Procedures(ctx context.Context, patientID string) (Resource, error) {
	return c.Fetch(ctx, "Procedure", url.Values{"patient": {patientID}})
}
