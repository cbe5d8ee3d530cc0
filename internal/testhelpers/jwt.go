package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateRSAKeyPEM generates a 2048-bit RSA key and returns it PKCS#1
// PEM-encoded, along with the key itself for verification use.
func GenerateRSAKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return string(pemBytes), privateKey
}

// GenerateJWK generates an RSA key pair for signing inbound authorization
// tokens in tests.
func GenerateJWK(t *testing.T) *jose.JSONWebKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return &jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     "test-kid",
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// ValidClaims fills out the time-based claims of the supplied set, leaving
// the token valid for an hour.
func ValidClaims(claims josejwt.Claims) josejwt.Claims {
	now := time.Now()
	claims.IssuedAt = josejwt.NewNumericDate(now)
	claims.NotBefore = josejwt.NewNumericDate(now)
	claims.Expiry = josejwt.NewNumericDate(now.Add(time.Hour))
	return claims
}

// CreateJWT signs a JWT with the provided key, setting the issuer. Each of
// the supplied claim sets is merged into the token.
func CreateJWT(t *testing.T, key *jose.JSONWebKey, issuer string, claims ...any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to create signer")

	builder := josejwt.Signed(signer).Claims(josejwt.Claims{Issuer: issuer})
	for _, c := range claims {
		builder = builder.Claims(c)
	}

	token, err := builder.Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return token
}

// SetupJWKSServer creates a mock OIDC provider that serves discovery
// metadata and the public key set for the given key.
func SetupJWKSServer(t *testing.T, key *jose.JSONWebKey) *httptest.Server {
	t.Helper()

	keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.Public()}}

	router := http.NewServeMux()

	var server *httptest.Server

	router.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]string{
			"issuer":   server.URL,
			"jwks_uri": server.URL + "/.well-known/jwks.json",
		})
	})

	router.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, keySet)
	})

	server = httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}
