package warehouse

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the subset of a service-account key file the client needs.
type Credentials struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// ParseCredentials decodes a service-account JSON document.
func ParseCredentials(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("warehouse: decode credentials: %w", err)
	}
	c.ClientEmail = strings.TrimSpace(c.ClientEmail)
	if c.ClientEmail == "" {
		return nil, errors.New("warehouse: credentials missing client_email")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return nil, errors.New("warehouse: credentials missing private_key")
	}
	return &c, nil
}

// parsePrivateKey accepts PKCS#8 or PKCS#1 PEM. Keys pasted into environment
// variables often arrive with literal "\n" sequences instead of newlines.
func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	pemText = strings.TrimSpace(pemText)
	if !strings.Contains(pemText, "\n") && strings.Contains(pemText, `\n`) {
		pemText = strings.ReplaceAll(pemText, `\n`, "\n")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, err
	}
	return key, nil
}
