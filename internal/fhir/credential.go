package fhir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chartbridge/chartbridge/internal/config"
	gojwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// assertionLifetime is the validity window of a signed client assertion.
// Together with the per-assertion jti, the short window is what limits
// replay of a captured assertion.
const assertionLifetime = 5 * time.Minute

// Credential binds the client identity to its signing key and the endpoints
// it authenticates against. It is immutable for the process lifetime.
type Credential struct {
	ClientID string
	KeyID    string
	TokenURL string

	signingKey any // jwk.Key or kmsSigningKey
}

// NewCredential constructs the credential from configuration, loading and
// parsing the signing key. Construction fails on missing or unusable key
// material: the process must not start with a credential it cannot sign
// with.
func NewCredential(ctx context.Context, cfg config.FHIRConfig) (Credential, error) {
	if cfg.ClientID == "" {
		return Credential{}, errors.New("client ID must be configured")
	}

	key, err := loadSigningKey(ctx, cfg)
	if err != nil {
		return Credential{}, fmt.Errorf("could not load signing key: %w", err)
	}

	return Credential{
		ClientID:   cfg.ClientID,
		KeyID:      cfg.KeyID,
		TokenURL:   cfg.TokenURL,
		signingKey: key,
	}, nil
}

func loadSigningKey(ctx context.Context, cfg config.FHIRConfig) (any, error) {
	if cfg.PrivateKeyARN != "" {
		return newKMSSigningKey(ctx, cfg.PrivateKeyARN)
	}

	pemBytes := []byte(cfg.PrivateKey)
	if cfg.PrivateKeyPath != "" {
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("could not read private key file: %w", err)
		}
		pemBytes = b
	}

	if len(pemBytes) == 0 {
		return nil, errors.New("no private key configuration specified")
	}

	rsaKey, err := gojwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}

	key, err := jwk.Import(rsaKey)
	if err != nil {
		return nil, fmt.Errorf("could not import private key: %w", err)
	}

	return key, nil
}

// SignedAssertion produces a fresh RS384-signed client assertion for the
// token endpoint: iss and sub are the client ID, aud is the token URL, and
// every assertion carries a unique jti. Assertions are never reused.
func (c Credential) SignedAssertion(now time.Time) (string, error) {
	token, err := jwt.NewBuilder().
		Issuer(c.ClientID).
		Subject(c.ClientID).
		Audience([]string{c.TokenURL}).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(assertionLifetime)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build assertion claims: %w", err)
	}

	// the kid header lets the token endpoint select the matching public key
	// from the published JWKS
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, c.KeyID); err != nil {
		return "", fmt.Errorf("set assertion key ID: %w", err)
	}
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return "", fmt.Errorf("set assertion type: %w", err)
	}

	signed, err := jwt.Sign(token,
		jwt.WithKey(jwa.RS384(), c.signingKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	return string(signed), nil
}
