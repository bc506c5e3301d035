package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UnsubscribeClaims identify one subscription item of one mailbox. Category
// holds either a category code ("<prefix>_<digits>") or a keyword.
type UnsubscribeClaims struct {
	Email    string `json:"email"`
	Category string `json:"category"`
	Type     string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

const unsubscribeType = "unsubscribe"

// UnsubscribeTokens signs and verifies the links embedded in weekly mails.
// Tokens without exp never expire.
type UnsubscribeTokens struct {
	secret []byte
	now    func() time.Time
}

// NewUnsubscribeTokens returns the link codec. An empty secret is ErrMissingSecret.
func NewUnsubscribeTokens(secret string, opts ...Option) (*UnsubscribeTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	o := buildOptions(opts)
	return &UnsubscribeTokens{secret: []byte(secret), now: o.now}, nil
}

// Issue signs a link token. A zero ttl issues a token without expiry.
func (u *UnsubscribeTokens) Issue(email, category string, ttl time.Duration) (string, error) {
	email = strings.TrimSpace(email)
	category = strings.TrimSpace(category)
	if email == "" || category == "" {
		return "", fmt.Errorf("%w: email and category are required", ErrInvalidInput)
	}
	now := u.now().UTC()
	claims := UnsubscribeClaims{
		Email:    email,
		Category: category,
		Type:     unsubscribeType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry and requires both email and category.
func (u *UnsubscribeTokens) Parse(token string) (*UnsubscribeClaims, error) {
	claims := &UnsubscribeClaims{}
	if err := parseHS256(token, claims, u.secret, u.now); err != nil {
		return nil, err
	}
	claims.Email = strings.TrimSpace(claims.Email)
	claims.Category = strings.TrimSpace(claims.Category)
	if claims.Email == "" || claims.Category == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != unsubscribeType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
