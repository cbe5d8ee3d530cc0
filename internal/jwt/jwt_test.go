package jwt_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartbridge/chartbridge/internal/audit"
	"github.com/chartbridge/chartbridge/internal/config"
	"github.com/chartbridge/chartbridge/internal/jwt"
	"github.com/chartbridge/chartbridge/internal/testhelpers"
)

const testIssuer = "https://idp.example.com/"

func staticConfig(t *testing.T, key *jose.JSONWebKey) config.AuthorizationConfig {
	t.Helper()

	keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.Public()}}
	encoded, err := json.Marshal(keySet)
	require.NoError(t, err)

	return config.AuthorizationConfig{
		Audience:            "chartbridge",
		IssuerURL:           testIssuer,
		ConfigurationStatic: string(encoded),
	}
}

func protectedHandler(t *testing.T, cfg config.AuthorizationConfig, next http.Handler) http.Handler {
	t.Helper()

	middleware, err := jwt.Middleware(cfg)
	require.NoError(t, err)

	return middleware(next)
}

func TestMiddleware_ValidToken(t *testing.T) {
	testhelpers.SetupLogger(t)

	key := testhelpers.GenerateJWK(t)
	cfg := staticConfig(t, key)

	var entry *audit.Entry
	handler := protectedHandler(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.ClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		assert.Equal(t, "svc:clinical-agent", claims.RegisteredClaims.Subject)

		entry = audit.Log(r.Context())

		w.WriteHeader(http.StatusNoContent)
	}))

	token := testhelpers.CreateJWT(t, key, testIssuer, testhelpers.ValidClaims(josejwt.Claims{
		Audience: []string{"chartbridge"},
		Subject:  "svc:clinical-agent",
	}))

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Result().StatusCode)
	require.NotNil(t, entry)
	assert.True(t, entry.Authorized)
	assert.Equal(t, "svc:clinical-agent", entry.AuthSubject)
	assert.Equal(t, testIssuer, entry.AuthIssuer)
	assert.Equal(t, []string{"chartbridge"}, entry.AuthAudience)
	assert.Positive(t, entry.AuthExpirySecs)
}

func TestMiddleware_RejectsToken(t *testing.T) {
	testhelpers.SetupLogger(t)

	key := testhelpers.GenerateJWK(t)
	cfg := staticConfig(t, key)

	tests := []struct {
		name   string
		header func(r *http.Request)
	}{
		{
			name:   "missing token",
			header: func(r *http.Request) {},
		},
		{
			name: "wrong audience",
			header: func(r *http.Request) {
				token := testhelpers.CreateJWT(t, key, testIssuer, testhelpers.ValidClaims(josejwt.Claims{
					Audience: []string{"another-service"},
					Subject:  "svc:clinical-agent",
				}))
				r.Header.Set("Authorization", "Bearer "+token)
			},
		},
		{
			name: "wrong issuer",
			header: func(r *http.Request) {
				token := testhelpers.CreateJWT(t, key, "https://rogue.example.com/", testhelpers.ValidClaims(josejwt.Claims{
					Audience: []string{"chartbridge"},
					Subject:  "svc:clinical-agent",
				}))
				r.Header.Set("Authorization", "Bearer "+token)
			},
		},
		{
			name: "wrong key",
			header: func(r *http.Request) {
				otherKey := testhelpers.GenerateJWK(t)
				token := testhelpers.CreateJWT(t, otherKey, testIssuer, testhelpers.ValidClaims(josejwt.Claims{
					Audience: []string{"chartbridge"},
					Subject:  "svc:clinical-agent",
				}))
				r.Header.Set("Authorization", "Bearer "+token)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handlerCalled := false
			handler := protectedHandler(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/tools", nil)
			tc.header(req)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.False(t, handlerCalled, "handler must not run for a rejected token")
			assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		})
	}
}

func TestMiddleware_RemoteJWKS(t *testing.T) {
	testhelpers.SetupLogger(t)

	key := testhelpers.GenerateJWK(t)
	jwksServer := testhelpers.SetupJWKSServer(t, key)

	cfg := config.AuthorizationConfig{
		Audience:  "chartbridge",
		IssuerURL: jwksServer.URL,
	}

	handlerCalled := false
	handler := protectedHandler(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusNoContent)
	}))

	token := testhelpers.CreateJWT(t, key, jwksServer.URL, testhelpers.ValidClaims(josejwt.Claims{
		Audience: []string{"chartbridge"},
		Subject:  "svc:clinical-agent",
	}))

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.True(t, handlerCalled)
	assert.Equal(t, http.StatusNoContent, w.Result().StatusCode)
}

func TestClaimsFromContext_Fallback(t *testing.T) {
	claims := &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: "svc:test"},
	}

	ctx := jwt.ContextWithClaims(context.Background(), claims)
	assert.Same(t, claims, jwt.ClaimsFromContext(ctx))

	assert.Nil(t, jwt.ClaimsFromContext(context.Background()))
}
