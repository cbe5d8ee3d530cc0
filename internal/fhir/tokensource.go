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
	"time"

	"github.com/chartbridge/chartbridge/internal/cache"
	"github.com/rs/zerolog/log"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// expiryMargin is the safety margin before token expiry: a cached token
// within this margin of its expiry is treated as absent and re-exchanged.
const expiryMargin = 5 * time.Minute

// tokenCacheKey is the single cache key: one credential backs the process,
// and the cache is deliberately not keyed by scope. A token minted for one
// scope set is reused for any other until it expires, matching a single
// broad backend-system grant.
const tokenCacheKey = "system"

// maxResponseBody bounds how much of a token endpoint response is read,
// including error bodies retained for diagnostics.
const maxResponseBody = 1 << 20

// Token is a bearer token with its absolute expiry.
type Token struct {
	Value  string
	Expiry time.Time
}

// TokenSource produces valid bearer tokens for the configured credential,
// caching them to minimise token endpoint round-trips.
//
// The cache is non-locking: concurrent callers that both observe an expired
// token perform independent exchanges and each returns its own fresh token,
// with the last completed exchange left in the cache. The duplicate exchange
// is a performance cost, not a correctness problem.
type TokenSource struct {
	credential Credential
	httpClient *http.Client
	cache      cache.TokenCache[Token]
	now        func() time.Time
}

// NewTokenSource creates a token source for the credential. The cache is
// owned exclusively by the returned source.
func NewTokenSource(credential Credential, httpClient *http.Client, tokenCache cache.TokenCache[Token]) *TokenSource {
	return &TokenSource{
		credential: credential,
		httpClient: httpClient,
		cache:      tokenCache,
		now:        time.Now,
	}
}

// GetToken returns a bearer token valid for the requested scopes. A cached
// token outside its expiry margin is returned without any network call;
// otherwise a fresh exchange is performed with the given scopes and the
// cached token is replaced. A failed exchange leaves any cached token
// untouched: stale-but-valid tokens remain usable on a later call.
func (s *TokenSource) GetToken(ctx context.Context, scopes []string) (string, error) {
	if len(scopes) == 0 {
		return "", errors.New("at least one scope is required")
	}

	now := s.now()

	tok, ok, err := s.cache.Get(ctx, tokenCacheKey)
	if err == nil && ok && now.Before(tok.Expiry.Add(-expiryMargin)) {
		log.Debug().Time("expiry", tok.Expiry).Msg("using cached access token")
		return tok.Value, nil
	}

	fresh, err := s.exchange(ctx, scopes, now)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, tokenCacheKey, fresh); err != nil {
		// the caller still gets the token it initiated the exchange for
		log.Warn().Err(err).Msg("failed to cache access token")
	}

	return fresh.Value, nil
}

// exchange performs one client-credentials token exchange: a fresh signed
// assertion is built for every request. The returned token's expiry is
// absolute, anchored at the request time.
func (s *TokenSource) exchange(ctx context.Context, scopes []string, now time.Time) (Token, error) {
	assertion, err := s.credential.SignedAssertion(now)
	if err != nil {
		return Token{}, fmt.Errorf("could not build client assertion: %w", err)
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
		"scope":                 {strings.Join(scopes, " ")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.credential.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("could not create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Debug().Strs("scopes", scopes).Msg("requesting access token")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Token{}, fmt.Errorf("could not read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Info().Int("status", resp.StatusCode).Msg("token request rejected")
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if tokenResponse.AccessToken == "" || tokenResponse.ExpiresIn <= 0 {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	log.Info().Int("expiresIn", tokenResponse.ExpiresIn).Msg("obtained access token")

	return Token{
		Value:  tokenResponse.AccessToken,
		Expiry: now.Add(time.Duration(tokenResponse.ExpiresIn) * time.Second),
	}, nil
}
