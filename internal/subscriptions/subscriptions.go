// Package subscriptions keeps the weekly e-mail subscription of each user:
// a comma-separated list of category codes and one of keywords.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"ecompulse.app/internal/audit"
	"ecompulse.app/internal/mail"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/warehouse"
)

const tableSubscriptions = "weekly_email_subscriptions"

var (
	ErrNotFound     = errors.New("subscriptions: not found")
	ErrInvalidInput = errors.New("subscriptions: invalid input")
)

// categoryCode matches subscription items that name a category, e.g. "US_536".
var categoryCode = regexp.MustCompile(`^[^_]*_\d+$`)

// Subscription is the stored row for one user.
type Subscription struct {
	UserID     string   `json:"userid"`
	UserName   string   `json:"username"`
	UserEmail  string   `json:"useremail"`
	Email      string   `json:"email"`
	Categories []string `json:"categories"`
	Keywords   string   `json:"keywords"`
}

// Current is what a user sees of their subscription.
type Current struct {
	Categories string `json:"categories"`
	Keywords   string `json:"keywords"`
}

// Result reports the outcome of an unsubscribe.
type Result struct {
	Email      string `json:"email"`
	Item       string `json:"item"`
	IsCategory bool   `json:"isCategory"`
	Changed    bool   `json:"changed"`
}

// Mailer sends transactional e-mail.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Service manages subscription rows through the shared warehouse querier.
type Service struct {
	q      warehouse.Querier
	table  string
	mailer Mailer
	from   string
	links  LinkFunc
}

// LinkFunc returns the one-click unsubscribe URL for item.
type LinkFunc func(email, item string) (string, error)

// Option configures a Service.
type Option func(*Service)

// WithMailer enables confirmation mail from the given sender address.
func WithMailer(m Mailer, from string) Option {
	return func(s *Service) {
		s.mailer = m
		s.from = strings.TrimSpace(from)
	}
}

// WithUnsubscribeLinks adds an unsubscribe link per item to confirmation mail.
func WithUnsubscribeLinks(fn LinkFunc) Option {
	return func(s *Service) { s.links = fn }
}

// NewService binds the subscriptions table in project.dataset.
func NewService(q warehouse.Querier, project, dataset string, opts ...Option) *Service {
	s := &Service{q: q, table: warehouse.TableRef(project, dataset, tableSubscriptions)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsCategory reports whether a subscription item names a category rather
// than a keyword.
func IsCategory(item string) bool {
	return categoryCode.MatchString(item)
}

// Subscribe upserts the user's subscription and sends a confirmation mail.
// A failed mail is logged and does not fail the subscription.
func (s *Service) Subscribe(ctx context.Context, sub Subscription) error {
	sub.UserID = strings.TrimSpace(sub.UserID)
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Keywords = strings.TrimSpace(sub.Keywords)
	cats := cleanList(sub.Categories)
	if sub.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if sub.Email == "" || (len(cats) == 0 && sub.Keywords == "") {
		return fmt.Errorf("%w: an e-mail and at least one category or keyword are required", ErrInvalidInput)
	}

	sql := fmt.Sprintf(`
		MERGE INTO %s T
		USING (SELECT @userid AS userid) S
		ON T.userid = S.userid
		WHEN MATCHED THEN
			UPDATE SET username = @username, useremail = @useremail, email = @email,
				categories = @categories, keywords = @keywords, created_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (userid, username, useremail, email, categories, keywords, created_at)
			VALUES (@userid, @username, @useremail, @email, @categories, @keywords, CURRENT_TIMESTAMP())`, s.table)
	_, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query: sql,
		Params: map[string]any{
			"userid":     sub.UserID,
			"username":   sub.UserName,
			"useremail":  sub.UserEmail,
			"email":      sub.Email,
			"categories": nullable(strings.Join(cats, ",")),
			"keywords":   nullable(sub.Keywords),
		},
		Types: map[string]string{"categories": warehouse.TypeString, "keywords": warehouse.TypeString},
	})
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	audit.Record(ctx, audit.EventSubscribed, map[string]any{"categories": len(cats), "keywords": sub.Keywords != ""})

	if s.mailer != nil {
		msg := mail.Message{
			From:    s.from,
			To:      []string{sub.Email},
			Subject: "Weekly subscription confirmed",
			HTML:    s.confirmationHTML(sub.Email, cats, splitList(sub.Keywords)),
		}
		if id, err := s.mailer.Send(ctx, msg); err != nil {
			obs.Logger().Warn("subscription confirmation mail failed",
				zap.String("request_id", audit.RequestIDFromContext(ctx)), zap.Error(err))
		} else {
			obs.Logger().Debug("subscription confirmation mail sent", zap.String("message_id", id))
		}
	}
	return nil
}

// Get returns the user's categories and keywords; both empty when the user
// never subscribed.
func (s *Service) Get(ctx context.Context, userID string) (Current, error) {
	if strings.TrimSpace(userID) == "" {
		return Current{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query:  fmt.Sprintf("SELECT categories, keywords FROM %s WHERE userid = @userid LIMIT 1", s.table),
		Params: map[string]any{"userid": userID},
	})
	if err != nil {
		return Current{}, fmt.Errorf("get subscription: %w", err)
	}
	if len(rows) == 0 {
		return Current{}, nil
	}
	return Current{Categories: rows[0].String("categories"), Keywords: rows[0].String("keywords")}, nil
}

// Unsubscribe removes item from the mailbox's categories or keywords. An
// item that is not subscribed leaves the row untouched with Changed false.
func (s *Service) Unsubscribe(ctx context.Context, email, item string) (Result, error) {
	email = strings.TrimSpace(email)
	item = strings.TrimSpace(item)
	if email == "" || item == "" {
		return Result{}, fmt.Errorf("%w: email and item are required", ErrInvalidInput)
	}
	res := Result{Email: email, Item: item, IsCategory: IsCategory(item)}

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query:  fmt.Sprintf("SELECT categories, keywords FROM %s WHERE email = @email LIMIT 1", s.table),
		Params: map[string]any{"email": email},
	})
	if err != nil {
		return Result{}, fmt.Errorf("load subscription: %w", err)
	}
	if len(rows) == 0 {
		return Result{}, ErrNotFound
	}
	categories := splitList(rows[0].String("categories"))
	keywords := splitList(rows[0].String("keywords"))

	if res.IsCategory {
		categories, res.Changed = without(categories, item)
	} else {
		keywords, res.Changed = without(keywords, item)
	}
	if !res.Changed {
		return res, nil
	}

	sql := fmt.Sprintf(`
		UPDATE %s
		SET categories = @categories, keywords = @keywords, created_at = CURRENT_TIMESTAMP()
		WHERE email = @email`, s.table)
	_, resp, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query: sql,
		Params: map[string]any{
			"email":      email,
			"categories": nullable(strings.Join(categories, ",")),
			"keywords":   nullable(strings.Join(keywords, ",")),
		},
		Types: map[string]string{"categories": warehouse.TypeString, "keywords": warehouse.TypeString},
	})
	if err != nil {
		return Result{}, fmt.Errorf("update subscription: %w", err)
	}
	// The row was read a moment ago; a zero count means it vanished since.
	if n, ok := resp.RowsAffected(); ok && n == 0 {
		return Result{}, ErrNotFound
	}
	audit.Record(ctx, audit.EventUnsubscribed, map[string]any{"item": item, "category": res.IsCategory})
	return res, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanList(strings.Split(s, ","))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func without(list []string, item string) ([]string, bool) {
	out := list[:0:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out, len(out) != len(list)
}

// nullable maps an empty list to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) confirmationHTML(email string, categories, keywords []string) string {
	var b strings.Builder
	b.WriteString("<p>You are subscribed to the weekly trend report.</p>")
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("<p>" + title + ":</p><ul>")
		for _, item := range items {
			b.WriteString("<li>" + html.EscapeString(item))
			if s.links != nil {
				if link, err := s.links(email, item); err == nil {
					b.WriteString(` (<a href="` + html.EscapeString(link) + `">unsubscribe</a>)`)
				}
			}
			b.WriteString("</li>")
		}
		b.WriteString("</ul>")
	}
	section("Categories", categories)
	section("Keywords", keywords)
	return b.String()
}
