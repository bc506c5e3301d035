// Package mail sends transactional e-mail through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"ecompulse.app/internal/obs"
)

const (
	DefaultBaseURL = "https://api.resend.com/"
	DefaultFrom    = "noreply@ecompulsedata.com"
)

var (
	ErrMissingAPIKey = errors.New("mail: api key is required")
	ErrInvalidInput  = errors.New("mail: invalid message")
	ErrSend          = errors.New("mail: send failed")
)

// Message is one outgoing e-mail.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Client sends messages with the Resend SDK.
type Client struct {
	rc      *resend.Client
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.baseURL = strings.TrimRight(u, "/") + "/"
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("mail: base url: %w", err)
	}
	c.rc = resend.NewCustomClient(c.http, apiKey)
	c.rc.BaseURL = base
	return c, nil
}

// Send delivers msg and returns the provider message id. An empty From uses
// DefaultFrom.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if msg.From == "" {
		msg.From = DefaultFrom
	}
	if len(msg.To) == 0 || strings.TrimSpace(msg.Subject) == "" {
		return "", fmt.Errorf("%w: recipient and subject are required", ErrInvalidInput)
	}
	if msg.HTML == "" && msg.Text == "" {
		return "", fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	sent, err := c.rc.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		obs.Logger().Warn("mail provider rejected message",
			zap.Int("recipients", len(msg.To)), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrSend, err)
	}
	return sent.Id, nil
}
