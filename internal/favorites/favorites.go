// Package favorites stores the products a user bookmarked. Rows are never
// removed: deletion flips status to "Delete".
package favorites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ecompulse.app/internal/audit"
	"ecompulse.app/internal/warehouse"
)

const (
	tableFavorites = "Product_Favorites"

	statusAdd    = "Add"
	statusDelete = "Delete"

	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	ErrNotFound      = errors.New("favorites: not found")
	ErrAlreadyExists = errors.New("favorites: already exists")
	ErrInvalidInput  = errors.New("favorites: invalid input")
)

// Favorite is one bookmarked ranking entry. The category column keeps its
// deployed spelling, categroy_id.
type Favorite struct {
	ID                   string     `json:"id,omitempty"`
	UserName             string     `json:"username,omitempty"`
	UserEmail            string     `json:"useremail,omitempty"`
	Rank                 int64      `json:"rank"`
	CountryCode          string     `json:"country_code"`
	CategoryID           int64      `json:"categroy_id"`
	Brand                string     `json:"brand"`
	Title                string     `json:"title"`
	PreviousRank         *int64     `json:"previous_rank"`
	PriceRange           string     `json:"price_range"`
	RelativeDemand       string     `json:"relative_demand"`
	RelativeDemandChange string     `json:"relative_demand_change"`
	RankTimestamp        *time.Time `json:"rank_timestamp"`
	CreatedAt            *time.Time `json:"created_at,omitempty"`
}

// Page is one page of a user's favorites.
type Page struct {
	Data     []Favorite `json:"data"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

// Service manages favorites through the shared warehouse querier.
type Service struct {
	q     warehouse.Querier
	table string
}

// NewService binds the favorites table in project.dataset.
func NewService(q warehouse.Querier, project, dataset string) *Service {
	return &Service{q: q, table: warehouse.TableRef(project, dataset, tableFavorites)}
}

// List returns the user's live favorites, newest first. The page and the
// total count are fetched concurrently.
func (s *Service) List(ctx context.Context, userID string, page, pageSize int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	listReq := warehouse.QueryRequest{
		Query: fmt.Sprintf(`
			SELECT id, userid, username, useremail, rank, country_code, categroy_id, brand, title,
				previous_rank, price_range, relative_demand, relative_demand_change, rank_timestamp, created_at
			FROM %s
			WHERE userid = @userid AND status != @deleted
			ORDER BY created_at DESC
			LIMIT @pageSize OFFSET @offset`, s.table),
		Params: map[string]any{
			"userid":   userID,
			"deleted":  statusDelete,
			"pageSize": pageSize,
			"offset":   (page - 1) * pageSize,
		},
		Types: map[string]string{"pageSize": warehouse.TypeInt64, "offset": warehouse.TypeInt64},
	}
	countReq := warehouse.QueryRequest{
		Query:  fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE userid = @userid AND status != @deleted", s.table),
		Params: map[string]any{"userid": userID, "deleted": statusDelete},
	}

	out := Page{Page: page, PageSize: pageSize, Data: []Favorite{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, _, err := s.q.Query(gctx, listReq)
		if err != nil {
			return fmt.Errorf("list favorites: %w", err)
		}
		for _, r := range rows {
			out.Data = append(out.Data, fromRow(r))
		}
		return nil
	})
	g.Go(func() error {
		rows, _, err := s.q.Query(gctx, countReq)
		if err != nil {
			return fmt.Errorf("count favorites: %w", err)
		}
		if len(rows) > 0 {
			out.Total, _ = rows[0].Int64("total")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Page{}, err
	}
	return out, nil
}

// Add bookmarks f for userID. A live favorite with the same title, country
// and category is ErrAlreadyExists.
func (s *Service) Add(ctx context.Context, userID string, f Favorite) error {
	f.Title = strings.TrimSpace(f.Title)
	f.CountryCode = strings.TrimSpace(f.CountryCode)
	if strings.TrimSpace(userID) == "" || f.Title == "" || f.CountryCode == "" {
		return fmt.Errorf("%w: title and country_code are required", ErrInvalidInput)
	}

	key := map[string]any{
		"userid":       userID,
		"title":        f.Title,
		"country_code": f.CountryCode,
		"categroy_id":  f.CategoryID,
		"deleted":      statusDelete,
	}
	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query: fmt.Sprintf(`
			SELECT 1 AS hit FROM %s
			WHERE userid = @userid AND title = @title AND country_code = @country_code
				AND categroy_id = @categroy_id AND status != @deleted
			LIMIT 1`, s.table),
		Params: key,
	})
	if err != nil {
		return fmt.Errorf("check favorite: %w", err)
	}
	if len(rows) > 0 {
		return ErrAlreadyExists
	}

	if f.UserName == "" {
		f.UserName = "Unknown"
	}
	params := map[string]any{
		"userid":                 userID,
		"username":               f.UserName,
		"useremail":              f.UserEmail,
		"rank":                   f.Rank,
		"country_code":           f.CountryCode,
		"categroy_id":            f.CategoryID,
		"brand":                  f.Brand,
		"title":                  f.Title,
		"previous_rank":          f.PreviousRank,
		"price_range":            f.PriceRange,
		"relative_demand":        f.RelativeDemand,
		"relative_demand_change": f.RelativeDemandChange,
		"rank_timestamp":         f.RankTimestamp,
		"status":                 statusAdd,
	}
	_, _, err = s.q.Query(ctx, warehouse.QueryRequest{
		Query: fmt.Sprintf(`
			INSERT INTO %s (
				userid, username, useremail, rank, country_code, categroy_id, brand, title, previous_rank,
				price_range, relative_demand, relative_demand_change, rank_timestamp, created_at, id, status
			) VALUES (
				@userid, @username, @useremail, @rank, @country_code, @categroy_id, @brand, @title, @previous_rank,
				@price_range, @relative_demand, @relative_demand_change, @rank_timestamp, CURRENT_TIMESTAMP(), GENERATE_UUID(), @status
			)`, s.table),
		Params: params,
		Types:  map[string]string{"rank_timestamp": warehouse.TypeTimestamp, "previous_rank": warehouse.TypeInt64},
	})
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	audit.Record(ctx, audit.EventFavoriteAdded, map[string]any{"title": f.Title, "country": f.CountryCode, "category": f.CategoryID})
	return nil
}

// Remove soft-deletes favorite id. Favorites owned by someone else, unknown
// ids and already removed rows are all ErrNotFound.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	id = strings.TrimSpace(id)
	if strings.TrimSpace(userID) == "" || id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	params := map[string]any{"id": id, "userid": userID, "deleted": statusDelete}

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query:  fmt.Sprintf("SELECT id FROM %s WHERE id = @id AND userid = @userid AND status != @deleted", s.table),
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("check favorite: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}

	_, resp, err := s.q.Query(ctx, warehouse.QueryRequest{
		Query:  fmt.Sprintf("UPDATE %s SET status = @deleted WHERE id = @id AND userid = @userid", s.table),
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	if n, ok := resp.RowsAffected(); ok && n == 0 {
		return ErrNotFound
	}
	audit.Record(ctx, audit.EventFavoriteRemoved, map[string]any{"id": id})
	return nil
}

func fromRow(r warehouse.Row) Favorite {
	f := Favorite{
		ID:                   r.String("id"),
		UserName:             r.String("username"),
		UserEmail:            r.String("useremail"),
		CountryCode:          r.String("country_code"),
		Brand:                r.String("brand"),
		Title:                r.String("title"),
		PriceRange:           r.String("price_range"),
		RelativeDemand:       r.String("relative_demand"),
		RelativeDemandChange: r.String("relative_demand_change"),
	}
	f.Rank, _ = r.Int64("rank")
	f.CategoryID, _ = r.Int64("categroy_id")
	if n, ok := r.Int64("previous_rank"); ok {
		f.PreviousRank = &n
	}
	if t, ok := r.Time("rank_timestamp"); ok {
		f.RankTimestamp = &t
	}
	if t, ok := r.Time("created_at"); ok {
		f.CreatedAt = &t
	}
	return f
}
