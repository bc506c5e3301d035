// Package enrich refreshes the weekly ranking table: it reads the top
// products of a (country, category) ranking, attaches an image-search hit to
// each, and streams the rows into the enriched table.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ecompulse.app/internal/audit"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/warehouse"
)

const (
	SourceTable  = "product_rank_history"
	ClusterTable = "BestSellersProductClusterWeekly_479974220"
	TargetTable  = "product_week_rank_enriched"

	// SourceHistory reads the ranking history table; SourceCluster reads the
	// raw weekly best-seller clusters.
	SourceHistory = "history"
	SourceCluster = "cluster"

	rankTypeWeekly = "1"

	DefaultCountry    = "US"
	DefaultCategoryID = 609
	DefaultLimit      = 10
	maxLimit          = 100
)

var ErrInvalidInput = errors.New("enrich: invalid input")

// Request selects the ranking slice to refresh. Fastest orders the slice by
// rank gain instead of rank.
type Request struct {
	Country    string `json:"country"`
	CategoryID int64  `json:"categoryId"`
	Limit      int    `json:"limit"`
	Fastest    bool   `json:"isFastest"`
	Source     string `json:"source"`
}

// Product is one enriched row as written to TargetTable.
type Product struct {
	RankID          string     `json:"rank_id"`
	Rank            int64      `json:"rank"`
	PreviousRank    *int64     `json:"previous_rank"`
	RankImprovement *int64     `json:"rank_improvement"`
	RankOrder       int        `json:"rank_order"`
	Title           string     `json:"product_title"`
	CategoryID      int64      `json:"category_id"`
	Country         string     `json:"country"`
	RankTimestamp   *time.Time `json:"rank_timestamp"`
	ImageURL        *string    `json:"image_url"`
	SearchTitle     *string    `json:"search_title"`
	SearchLink      *string    `json:"search_link"`
}

// Result summarises one refresh.
type Result struct {
	Count    int       `json:"count"`
	Matched  int       `json:"matched"`
	Products []Product `json:"products"`
}

// Job wires the warehouse and the searcher together.
type Job struct {
	q       warehouse.Querier
	ins     warehouse.Inserter
	search  Searcher
	project string
	dataset string
	now     func() time.Time
}

type Option func(*Job)

// WithClock sets the created_at / updated_at source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

func NewJob(q warehouse.Querier, ins warehouse.Inserter, search Searcher, project, dataset string, opts ...Option) *Job {
	j := &Job{q: q, ins: ins, search: search, project: project, dataset: dataset, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run refreshes one ranking slice. Lookups run sequentially to stay inside
// the search quota; a failed lookup leaves the image fields null. All rows
// are written with a single streaming insert.
func (j *Job) Run(ctx context.Context, req Request) (Result, error) {
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if req.Country == "" {
		req.Country = DefaultCountry
	}
	if req.CategoryID == 0 {
		req.CategoryID = DefaultCategoryID
	}
	switch {
	case req.Limit <= 0:
		req.Limit = DefaultLimit
	case req.Limit > maxLimit:
		return Result{}, fmt.Errorf("%w: limit must be at most %d", ErrInvalidInput, maxLimit)
	}
	switch req.Source = strings.ToLower(strings.TrimSpace(req.Source)); req.Source {
	case "":
		req.Source = SourceHistory
	case SourceHistory, SourceCluster:
	default:
		return Result{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, req.Source)
	}
	if j.search == nil {
		return Result{}, fmt.Errorf("%w: image search is not configured", ErrInvalidInput)
	}

	products, err := j.topProducts(ctx, req)
	if err != nil {
		return Result{}, err
	}
	out := Result{Products: products}
	if len(products) == 0 {
		return out, nil
	}

	for i := range products {
		p := &products[i]
		img, err := j.search.Lookup(ctx, p.Title)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			obs.Logger().Warn("image lookup failed", zap.String("title", p.Title), zap.Error(err))
			continue
		}
		if img == nil {
			continue
		}
		out.Matched++
		p.ImageURL, p.SearchTitle, p.SearchLink = optional(img.URL), optional(img.Title), optional(img.Link)
	}

	now := j.now().UTC()
	rows := make([]map[string]any, 0, len(products))
	for _, p := range products {
		rows = append(rows, insertRow(p, now))
	}
	if _, err := j.ins.Insert(ctx, j.dataset, TargetTable, rows); err != nil {
		return Result{}, fmt.Errorf("write enriched ranking: %w", err)
	}
	out.Count = len(rows)
	audit.Record(ctx, audit.EventRanksRefreshed, map[string]any{
		"country": req.Country, "category": req.CategoryID, "source": req.Source,
		"fastest": req.Fastest, "count": out.Count, "matched": out.Matched,
	})
	return out, nil
}

// topProducts reads one ranking slice. Both sources are projected onto the
// same columns; rank_order is the position within the chosen ordering.
func (j *Job) topProducts(ctx context.Context, req Request) ([]Product, error) {
	orderBy := "rank ASC"
	if req.Fastest {
		orderBy = "previous_rank - rank DESC, rank ASC"
	}
	var sql string
	if req.Source == SourceCluster {
		sql = fmt.Sprintf(`
		SELECT
			CAST(entity_id AS STRING) AS rank_id,
			title AS product_title,
			rank,
			previous_rank,
			TIMESTAMP(_PARTITIONDATE) AS rank_timestamp
		FROM %s
		WHERE country_code = @country AND report_category_id = @categoryId
		ORDER BY %s
		LIMIT @limit`, warehouse.TableRef(j.project, j.dataset, ClusterTable), orderBy)
	} else {
		sql = fmt.Sprintf(`
		SELECT
			CAST(rank_id AS STRING) AS rank_id,
			COALESCE(
				(SELECT name FROM UNNEST(product_title) WHERE locale = 'en'),
				(SELECT name FROM UNNEST(product_title) LIMIT 1)
			) AS product_title,
			rank,
			previous_rank,
			rank_timestamp
		FROM %s
		WHERE ranking_country = @country AND ranking_category = @categoryId
		ORDER BY %s
		LIMIT @limit`, warehouse.TableRef(j.project, j.dataset, SourceTable), orderBy)
	}
	rows, _, err := j.q.Query(ctx, warehouse.QueryRequest{
		Query:  sql,
		Params: map[string]any{"country": req.Country, "categoryId": req.CategoryID, "limit": req.Limit},
	})
	if err != nil {
		return nil, fmt.Errorf("read top products: %w", err)
	}
	out := make([]Product, 0, len(rows))
	for i, r := range rows {
		p := Product{
			RankID:     r.String("rank_id"),
			RankOrder:  i + 1,
			Title:      r.String("product_title"),
			CategoryID: req.CategoryID,
			Country:    req.Country,
		}
		p.Rank, _ = r.Int64("rank")
		if prev, ok := r.Int64("previous_rank"); ok {
			gain := prev - p.Rank
			p.PreviousRank, p.RankImprovement = &prev, &gain
		}
		if t, ok := r.Time("rank_timestamp"); ok {
			p.RankTimestamp = &t
		}
		out = append(out, p)
	}
	return out, nil
}

func insertRow(p Product, now time.Time) map[string]any {
	row := map[string]any{
		"rank_id":          optional(p.RankID),
		"rank":             p.Rank,
		"previous_rank":    p.PreviousRank,
		"rank_improvement": p.RankImprovement,
		"rank_type":        rankTypeWeekly,
		"rank_order":       strconv.Itoa(p.RankOrder),
		"product_title":    p.Title,
		"category_id":      p.CategoryID,
		"country":          p.Country,
		"image_url":        p.ImageURL,
		"search_title":     p.SearchTitle,
		"search_link":      p.SearchLink,
		"created_at":       now.Format(time.RFC3339),
		"updated_at":       now.Format(time.RFC3339),
	}
	if p.RankTimestamp != nil {
		row["rank_timestamp"] = p.RankTimestamp.UTC().Format(time.RFC3339)
	} else {
		row["rank_timestamp"] = nil
	}
	return row
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
