package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"ecompulse.app/internal/obs"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
	refreshSkew    = 60 * time.Second
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns a bearer token, signing and exchanging a fresh assertion
// unless the cached one is still valid for more than a minute.
//
// The cache lock is not held across the exchange: callers racing on an
// expired token may each refresh, and the last write wins.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiry := c.token, c.expiry
	c.mu.Unlock()

	if token != "" && c.now().Before(expiry.Add(-refreshSkew)) {
		return token, nil
	}

	start := time.Now()
	token, ttl, err := c.fetchToken(ctx)
	observe(opToken, start, err)
	if err != nil {
		return "", err
	}

	expiry = c.now().Add(ttl)
	c.mu.Lock()
	c.token = token
	c.expiry = expiry
	c.mu.Unlock()

	obs.Logger().Debug("warehouse token refreshed",
		zap.String("subject", c.email),
		zap.Time("expires_at", expiry))
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	assertion, err := c.signAssertion(c.now())
	if err != nil {
		return "", 0, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: build token request: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: token exchange: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read token response: %w", ErrAuthentication, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, &RemoteError{Op: opToken, StatusCode: resp.StatusCode, Body: string(body), kind: ErrAuthentication}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("%w: %w: decode token response: %w", ErrAuthentication, ErrMalformedResponse, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: %w: token response has no access_token: %s", ErrAuthentication, ErrMalformedResponse, body)
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl < 0 {
		ttl = 0
	}
	return tr.AccessToken, ttl, nil
}

// signAssertion builds the RS256 compact JWT presented to the token endpoint.
func (c *Client) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   c.email,
		"sub":   c.email,
		"aud":   c.tokenURL,
		"scope": c.scope,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if c.keyID != "" {
		tok.Header["kid"] = c.keyID
	}
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %w", ErrAuthentication, err)
	}
	return signed, nil
}
