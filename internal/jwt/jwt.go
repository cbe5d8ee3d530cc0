// Package jwt authorizes inbound requests to the tool routes with bearer
// tokens issued by a configured identity provider. Authorization is
// optional: when no issuer is configured the middleware is a no-op.
package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/justinas/alice"
	jose "gopkg.in/go-jose/go-jose.v2"

	"github.com/chartbridge/chartbridge/internal/audit"
	"github.com/chartbridge/chartbridge/internal/config"
)

// Middleware returns HTTP middleware that verifies the JWT and enforces the
// validity claims. The retrieved claims are set on the request context and
// can be retrieved by calling jwt.ClaimsFromContext(ctx).
func Middleware(cfg config.AuthorizationConfig, options ...jwtmiddleware.Option) (func(http.Handler) http.Handler, error) {
	// allow for static configuration when testing
	jwksConfig := remoteJWKS
	if cfg.ConfigurationStatic != "" {
		jwksConfig = staticJWKS
	}

	issuerURL, keyFunc, err := jwksConfig(cfg)
	if err != nil {
		return nil, err
	}

	// the validator is used by the middleware to check the JWT signature and claims
	jwtValidator, err := validator.New(
		keyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second), // this could be configurable
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	// Auditing of the validation process uses a combination of the error
	// handler and the audit middleware. The first ensures that validation
	// errors are marked in the audit log, while the second ensures that the
	// claims are logged when the token is valid.
	options = append(options,
		jwtmiddleware.WithErrorHandler(auditErrorHandler()),
	)

	middleware := jwtmiddleware.New(jwtValidator.ValidateToken, options...)

	subChain := alice.New(middleware.CheckJWT, auditClaimsMiddleware()).Then

	return subChain, nil
}

type claimsContextKey struct{}

// ContextWithClaims returns a new context.Context with the provided
// validated claims added to it. This is primarily for test usage.
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the validated claims from the context as set by
// the JWT middleware. This will return nil if the context data is not set.
// This should be regarded as an error for handlers that expect the claims to
// be present.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if ok {
		return claims
	}

	// test fallback: local claim injection
	claims, _ = ctx.Value(claimsContextKey{}).(*validator.ValidatedClaims)
	return claims
}

func auditClaimsMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			claims := ClaimsFromContext(r.Context())

			if claims == nil {
				entry.Error = "JWT claims missing from context"
			} else {
				reg := claims.RegisteredClaims
				entry.Authorized = true
				entry.AuthSubject = reg.Subject
				entry.AuthIssuer = reg.Issuer
				entry.AuthAudience = reg.Audience
				entry.AuthExpirySecs = reg.Expiry
			}

			next.ServeHTTP(w, r)
		})
	}
}

func auditErrorHandler() jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		entry := audit.Log(r.Context())
		entry.Error = fmt.Sprintf("JWT authorization failure: %s", err.Error())

		// The default error handler writes the appropriate response status.
		// The status code is recorded centrally by the audit middleware.
		jwtmiddleware.DefaultErrorHandler(w, r, err)
	}
}

type keyFunc = func(ctx context.Context) (any, error)

func remoteJWKS(cfg config.AuthorizationConfig) (url.URL, keyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return url.URL{}, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	return *issuerURL, provider.KeyFunc, nil
}

func staticJWKS(cfg config.AuthorizationConfig) (url.URL, keyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return url.URL{}, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(cfg.ConfigurationStatic), &keySet); err != nil {
		return url.URL{}, nil, fmt.Errorf("could not decode jwks: %w", err)
	}

	fn := func(_ context.Context) (any, error) { return &keySet, nil }

	return *issuerURL, fn, nil
}
