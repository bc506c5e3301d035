// Package profile keeps per-user credit balances and plan tiers in the
// warehouse UserProfile table.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecompulse.app/internal/audit"
	"ecompulse.app/internal/warehouse"
)

const (
	tableProfiles = "UserProfile"

	// StarterTier and StarterCredits seed a new profile.
	StarterTier    = "starter"
	StarterCredits = 20
)

var (
	ErrNotFound            = errors.New("profile: not found")
	ErrInsufficientCredits = errors.New("profile: insufficient credits")
	ErrInvalidInput        = errors.New("profile: invalid input")
)

// Profile is one user's plan state.
type Profile struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Credits        int64      `json:"credits"`
	Tier           string     `json:"tier"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// Service reads and updates profiles through the shared warehouse querier.
type Service struct {
	q     warehouse.Querier
	table string
}

// NewService binds the profile table in project.dataset.
func NewService(q warehouse.Querier, project, dataset string) *Service {
	return &Service{q: q, table: warehouse.TableRef(project, dataset, tableProfiles)}
}

// Get returns the profile for userID or ErrNotFound.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query:  fmt.Sprintf("SELECT * FROM %s WHERE id = @userId LIMIT 1", s.table),
		Params: map[string]any{"userId": userID},
	})
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if len(rows) == 0 {
		return Profile{}, ErrNotFound
	}
	return fromRow(rows[0]), nil
}

// Create inserts a starter profile.
func (s *Service) Create(ctx context.Context, userID, name, email string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, credits, tier, createdAt, updatedAt, name, email)
		VALUES (@userId, @credits, @tier, CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP(), @name, @email)`, s.table)
	_, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query: sql,
		Params: map[string]any{
			"userId":  userID,
			"credits": StarterCredits,
			"tier":    StarterTier,
			"name":    strings.TrimSpace(name),
			"email":   strings.TrimSpace(email),
		},
	})
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	audit.Record(ctx, audit.EventProfileCreated, map[string]any{"tier": StarterTier, "credits": StarterCredits})
	return nil
}

// Ensure creates the profile unless one exists and reports whether it did.
func (s *Service) Ensure(ctx context.Context, userID, name, email string) (bool, error) {
	_, err := s.Get(ctx, userID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	if err := s.Create(ctx, userID, name, email); err != nil {
		return false, err
	}
	return true, nil
}

// DeductCredit spends one credit and returns the remaining balance. The
// UPDATE is guarded by credits > 0, so a balance drained between the read and
// the write surfaces as ErrInsufficientCredits rather than going negative.
func (s *Service) DeductCredit(ctx context.Context, userID string) (int64, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if p.Credits <= 0 {
		return 0, ErrInsufficientCredits
	}

	sql := fmt.Sprintf(`
		UPDATE %s
		SET credits = credits - 1, updatedAt = CURRENT_TIMESTAMP()
		WHERE id = @userId AND credits > 0`, s.table)
	_, resp, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Params: map[string]any{"userId": p.ID}})
	if err != nil {
		return 0, fmt.Errorf("deduct credit: %w", err)
	}
	if n, ok := resp.RowsAffected(); ok && n == 0 {
		return 0, ErrInsufficientCredits
	}

	remaining := p.Credits - 1
	if updated, err := s.Get(ctx, p.ID); err == nil {
		remaining = updated.Credits
	}
	audit.Record(ctx, audit.EventCreditDeducted, map[string]any{"before": p.Credits, "remaining": remaining})
	return remaining, nil
}

func fromRow(r warehouse.Row) Profile {
	p := Profile{
		ID:             r.String("id"),
		Name:           r.String("name"),
		Email:          r.String("email"),
		Tier:           r.String("tier"),
		SubscriptionID: r.String("subscriptionId"),
	}
	p.Credits, _ = r.Int64("credits")
	if t, ok := r.Time("createdAt"); ok {
		p.CreatedAt = &t
	}
	if t, ok := r.Time("updatedAt"); ok {
		p.UpdatedAt = &t
	}
	return p
}
