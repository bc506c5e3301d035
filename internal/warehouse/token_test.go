package warehouse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenAssertionClaims(t *testing.T) {
	fb := newFakeBackend(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := fb.client(WithClock(clock.Now))

	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	assertions := fb.signedAssertions()
	if len(assertions) != 1 {
		t.Fatalf("expected 1 assertion, got %d", len(assertions))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(assertions[0], claims, func(tok *jwt.Token) (any, error) {
		return &fb.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	if kid, _ := tok.Header["kid"].(string); kid != "kid-1" {
		t.Fatalf("kid header = %q", kid)
	}
	if claims["iss"] != testEmail || claims["sub"] != testEmail {
		t.Fatalf("iss/sub = %v/%v", claims["iss"], claims["sub"])
	}
	if claims["aud"] != fb.srv.URL+"/token" {
		t.Fatalf("aud = %v", claims["aud"])
	}
	if claims["scope"] != DefaultScope {
		t.Fatalf("scope = %v", claims["scope"])
	}
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	if int64(iat) != 1_700_000_000 || int64(exp)-int64(iat) != 3600 {
		t.Fatalf("iat=%v exp=%v", iat, exp)
	}
}

func TestTokenCachedUntilSkew(t *testing.T) {
	fb := newFakeBackend(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := fb.client(WithClock(clock.Now))
	ctx := context.Background()

	first, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	// 3600s token: still more than 60s left after 3539s.
	clock.Advance(3539 * time.Second)
	again, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if again != first {
		t.Fatalf("expected cached token %q, got %q", first, again)
	}
	if got := fb.tokenCalls.Load(); got != 1 {
		t.Fatalf("token endpoint calls = %d, want 1", got)
	}

	// Exactly expiry-60s: no longer usable.
	clock.Advance(time.Second)
	refreshed, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if refreshed == first {
		t.Fatalf("expected a refreshed token")
	}
	if got := fb.tokenCalls.Load(); got != 2 {
		t.Fatalf("token endpoint calls = %d, want 2", got)
	}
}

func TestTokenShortLivedAlwaysRefreshes(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.tokenTTL = 30 })
	c := fb.client()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Token(ctx); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if got := fb.tokenCalls.Load(); got != 3 {
		t.Fatalf("token endpoint calls = %d, want 3", got)
	}
}

func TestTokenEndpointFailure(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) {
		fb.tokenFail = `{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`
	})
	c := fb.client()

	_, err := c.Token(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != 400 {
		t.Fatalf("expected RemoteError 400, got %#v", err)
	}
	if !strings.Contains(err.Error(), "Invalid JWT Signature.") {
		t.Fatalf("error lost provider text: %v", err)
	}

	// A failed exchange leaves the cache empty.
	fb.set(func(fb *fakeBackend) { fb.tokenFail = "" })
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("Token after recovery: %v", err)
	}
}

func TestTokenConcurrentCallersShareCache(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.client()
	ctx := context.Background()
	if _, err := c.Token(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Token(ctx); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := fb.tokenCalls.Load(); got != 1 {
		t.Fatalf("token endpoint calls = %d, want 1", got)
	}
}

func TestParseCredentials(t *testing.T) {
	fb := newFakeBackend(t)
	creds := fb.credentials()
	escaped := strings.ReplaceAll(creds.PrivateKey, "\n", `\n`)
	doubled := strings.ReplaceAll(creds.PrivateKey, "\n", `\\n`)

	cases := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name: "escaped newlines",
			json: `{"type":"service_account","project_id":"p","client_email":"a@b","private_key":"` + escaped + `"}`,
		},
		{
			name: "literal backslash n from env",
			json: `{"client_email":"a@b","project_id":"p","private_key":"` + doubled + `"}`,
		},
		{name: "missing email", json: `{"private_key":"` + escaped + `"}`, wantErr: true},
		{name: "missing key", json: `{"client_email":"a@b"}`, wantErr: true},
		{name: "not json", json: `{`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCredentials([]byte(tc.json))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCredentials: %v", err)
			}
			if _, err := New("", got); err != nil {
				t.Fatalf("New with parsed credentials: %v", err)
			}
		})
	}
}
