package fhir_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/chartbridge/chartbridge/internal/cache"
	"github.com/chartbridge/chartbridge/internal/config"
	"github.com/chartbridge/chartbridge/internal/fhir"
	"github.com/chartbridge/chartbridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, tokenMock *testhelpers.MockTokenServer, fhirMock *testhelpers.MockFHIRServer) fhir.Client {
	t.Helper()

	pemKey, _ := testhelpers.GenerateRSAKeyPEM(t)
	cred, err := fhir.NewCredential(context.Background(), config.FHIRConfig{
		ClientID:   "test-client-id",
		PrivateKey: pemKey,
		KeyID:      "test-key-1",
		TokenURL:   tokenMock.TokenURL(),
	})
	require.NoError(t, err)

	tokenCache, err := cache.NewMemory[fhir.Token](24*time.Hour, 10)
	require.NoError(t, err)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := fhir.NewTokenSource(cred, httpClient, tokenCache)

	client, err := fhir.NewClient(fhirMock.Server.URL, tokens, httpClient)
	require.NoError(t, err)
	return client
}

func TestScopeForPath(t *testing.T) {
	cases := []struct {
		path     string
		expected string
	}{
		{"Patient/123", "system/Patient.rs"},
		{"Patient", "system/Patient.rs"},
		{"Observation?patient=1", "system/Observation.rs"},
		{"MedicationRequest/abc/def", "system/MedicationRequest.rs"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, fhir.ScopeForPath(tc.path))
		})
	}
}

func TestFetch_EmptyPath(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)
	client := newTestClient(t, tokenMock, fhirMock)

	_, err := client.Fetch(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestFetch_ResourceByID(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)
	fhirMock.Resources["/Patient/123"] = map[string]any{
		"resourceType": "Patient",
		"id":           "123",
		"gender":       "female",
	}

	client := newTestClient(t, tokenMock, fhirMock)

	doc, err := client.Fetch(context.Background(), "Patient/123", nil)
	require.NoError(t, err)

	assert.Equal(t, "Patient", doc.ResourceType())
	assert.Equal(t, "123", doc["id"])

	assert.Equal(t, "Bearer test-access-token", fhirMock.LastAuthHeader)
	assert.Equal(t, "application/fhir+json", fhirMock.LastAccept)

	// derived scope requested from the token endpoint
	assert.Equal(t, "system/Patient.rs", tokenMock.LastForm.Get("scope"))
}

func TestFetch_QueryParameters(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)
	fhirMock.Resources["/Observation"] = map[string]any{
		"resourceType": "Bundle",
		"total":        0,
	}

	client := newTestClient(t, tokenMock, fhirMock)

	_, err := client.Fetch(context.Background(), "Observation", url.Values{
		"patient":  {"123"},
		"category": {"laboratory"},
	})
	require.NoError(t, err)

	assert.Equal(t, "123", fhirMock.LastQuery.Get("patient"))
	assert.Equal(t, "laboratory", fhirMock.LastQuery.Get("category"))
	assert.Equal(t, "system/Observation.rs", tokenMock.LastForm.Get("scope"))
}

func TestFetch_NotFound(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)

	client := newTestClient(t, tokenMock, fhirMock)

	_, err := client.Fetch(context.Background(), "Patient/doesnotexist", nil)
	require.Error(t, err)

	var apiErr *fhir.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not-found")
}

func TestFetch_ServerError(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)
	fhirMock.StatusCode = http.StatusBadGateway
	fhirMock.Body = "upstream unavailable"

	client := newTestClient(t, tokenMock, fhirMock)

	_, err := client.Fetch(context.Background(), "Patient", nil)

	var apiErr *fhir.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Body)
}

func TestFetch_ConnectivityFailure(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)
	client := newTestClient(t, tokenMock, fhirMock)

	// server gone: transport error, not an HTTP status
	fhirMock.Server.Close()

	_, err := client.Fetch(context.Background(), "Patient", nil)

	var apiErr *fhir.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
	assert.Error(t, apiErr.Unwrap())
}

func TestConvenienceWrappers(t *testing.T) {
	tokenMock := testhelpers.SetupMockTokenServer(t)
	fhirMock := testhelpers.SetupMockFHIRServer(t)

	bundle := map[string]any{"resourceType": "Bundle", "total": float64(0)}
	for _, path := range []string{
		"/Patient/123", "/Patient", "/Observation", "/Condition",
		"/MedicationRequest", "/AllergyIntolerance", "/Immunization", "/Procedure",
	} {
		fhirMock.Resources[path] = bundle
	}

	client := newTestClient(t, tokenMock, fhirMock)
	ctx := context.Background()

	_, err := client.GetPatient(ctx, "123")
	require.NoError(t, err)

	_, err = client.SearchPatients(ctx, url.Values{"family": {"Argonaut"}})
	require.NoError(t, err)
	assert.Equal(t, "Argonaut", fhirMock.LastQuery.Get("family"))

	_, err = client.Observations(ctx, "123", "vital-signs")
	require.NoError(t, err)
	assert.Equal(t, "123", fhirMock.LastQuery.Get("patient"))
	assert.Equal(t, "vital-signs", fhirMock.LastQuery.Get("category"))

	_, err = client.Observations(ctx, "123", "")
	require.NoError(t, err)
	assert.Empty(t, fhirMock.LastQuery.Get("category"))

	_, err = client.Conditions(ctx, "123")
	require.NoError(t, err)

	_, err = client.Medications(ctx, "123")
	require.NoError(t, err)

	_, err = client.Allergies(ctx, "123")
	require.NoError(t, err)

	_, err = client.Immunizations(ctx, "123")
	require.NoError(t, err)

	_, err = client.Procedures(ctx, "123")
	require.NoError(t, err)
}
