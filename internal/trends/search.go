package trends

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"ecompulse.app/internal/warehouse"
)

// ProductSearch filters the optimized top-products table. Nil pointers and
// empty strings leave the corresponding filter off.
type ProductSearch struct {
	Country     string
	Title       string
	Category    *int64
	Brand       string
	BrandIsNull bool
	Start       string
	End         string

	MinRank               *int64
	MaxRank               *int64
	MinPrice              *float64
	MaxPrice              *float64
	MinRelativeDemand     *float64
	MaxRelativeDemand     *float64
	MinPrevRelativeDemand *float64
	MaxPrevRelativeDemand *float64
	MinPreviousRank       *int64
	MaxPreviousRank       *int64

	Page     int
	PageSize int
}

// SearchResult is one page of products plus the total match count.
type SearchResult struct {
	Data     []warehouse.Row `json:"data"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

type searchClause struct {
	cond  string
	name  string
	value any
	typ   string
}

func (p ProductSearch) clauses() []searchClause {
	var out []searchClause
	str := func(cond, name, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, searchClause{cond, name, v, warehouse.TypeString})
		}
	}
	i64 := func(cond, name string, v *int64) {
		if v != nil {
			out = append(out, searchClause{cond, name, *v, warehouse.TypeInt64})
		}
	}
	num := func(cond, name string, v *float64) {
		if v != nil {
			out = append(out, searchClause{cond, name, *v, warehouse.TypeNumeric})
		}
	}

	str("ranking_country = @country", "country", p.Country)
	if t := strings.TrimSpace(p.Title); t != "" {
		out = append(out, searchClause{
			"EXISTS (SELECT 1 FROM UNNEST(product_title) AS t WHERE LOWER(t.name) LIKE LOWER(@title))",
			"title", "%" + t + "%", warehouse.TypeString,
		})
	}
	i64("ranking_category = @category", "category", p.Category)
	str("LOWER(brand) = LOWER(@brand)", "brand", p.Brand)
	if p.BrandIsNull {
		out = append(out, searchClause{cond: "(brand IS NULL OR brand = '')"})
	}
	str("DATE(rank_timestamp) >= @start", "start", p.Start)
	str("DATE(rank_timestamp) <= @end", "end", p.End)
	i64("rank >= @minRank", "minRank", p.MinRank)
	i64("rank <= @maxRank", "maxRank", p.MaxRank)
	num("price_range.min >= @minPrice", "minPrice", p.MinPrice)
	num("price_range.max <= @maxPrice", "maxPrice", p.MaxPrice)
	num("relative_demand.min >= @minRelativeDemand", "minRelativeDemand", p.MinRelativeDemand)
	num("relative_demand.max <= @maxRelativeDemand", "maxRelativeDemand", p.MaxRelativeDemand)
	num("previous_relative_demand.min >= @minPrevRelativeDemand", "minPrevRelativeDemand", p.MinPrevRelativeDemand)
	num("previous_relative_demand.max <= @maxPrevRelativeDemand", "maxPrevRelativeDemand", p.MaxPrevRelativeDemand)
	i64("previous_rank >= @minPreviousRank", "minPreviousRank", p.MinPreviousRank)
	i64("previous_rank <= @maxPreviousRank", "maxPreviousRank", p.MaxPreviousRank)
	return out
}

// SearchProducts runs the count and page statements concurrently. Both use
// explicit parameter types so numeric filters compare as NUMERIC.
func (s *Service) SearchProducts(ctx context.Context, p ProductSearch) (SearchResult, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	p.PageSize = clampLimit(p.PageSize)

	where := []string{"1=1"}
	params := map[string]any{}
	types := map[string]string{}
	for _, c := range p.clauses() {
		where = append(where, c.cond)
		if c.name != "" {
			params[c.name] = c.value
			types[c.name] = c.typ
		}
	}
	return s.paged(ctx, pagedQuery{
		table:  s.table(tableTopProducts),
		where:  where,
		params: params,
		types:  types,
		columns: `rank_id, rank, ranking_country, ranking_category, brand, product_title,
				previous_rank, price_range, relative_demand, previous_relative_demand,
				rank_timestamp, gtins`,
		orderBy:  "rank ASC",
		page:     p.Page,
		pageSize: p.PageSize,
		label:    "products",
	})
}

// pagedQuery is one filtered listing: a COUNT statement and a page
// statement over the same WHERE clause.
type pagedQuery struct {
	table    string
	where    []string
	params   map[string]any
	types    map[string]string
	columns  string
	orderBy  string
	page     int
	pageSize int
	label    string
}

// paged runs the count and page statements concurrently.
func (s *Service) paged(ctx context.Context, pq pagedQuery) (SearchResult, error) {
	whereSQL := "WHERE " + strings.Join(pq.where, " AND ")
	countReq := warehouse.QueryRequest{
		Query:    fmt.Sprintf("SELECT COUNT(*) AS total FROM %s %s", pq.table, whereSQL),
		Params:   pq.params,
		Types:    pq.types,
		Location: s.location,
	}

	pageParams := make(map[string]any, len(pq.params)+2)
	pageTypes := make(map[string]string, len(pq.types)+2)
	for k, v := range pq.params {
		pageParams[k] = v
	}
	for k, v := range pq.types {
		pageTypes[k] = v
	}
	pageParams["pageSize"] = pq.pageSize
	pageParams["offset"] = (pq.page - 1) * pq.pageSize
	pageTypes["pageSize"] = warehouse.TypeInt64
	pageTypes["offset"] = warehouse.TypeInt64
	pageReq := warehouse.QueryRequest{
		Query: fmt.Sprintf(`
			SELECT %s
			FROM %s
			%s
			ORDER BY %s
			LIMIT @pageSize OFFSET @offset`, pq.columns, pq.table, whereSQL, pq.orderBy),
		Params:   pageParams,
		Types:    pageTypes,
		Location: s.location,
	}

	var (
		total int64
		data  []warehouse.Row
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, _, err := s.q.Query(gctx, countReq)
		if err != nil {
			return fmt.Errorf("count %s: %w", pq.label, err)
		}
		if len(rows) > 0 {
			total = int64Of(rows[0], "total")
		}
		return nil
	})
	g.Go(func() error {
		rows, _, err := s.q.Query(gctx, pageReq)
		if err != nil {
			return fmt.Errorf("search %s: %w", pq.label, err)
		}
		data = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	if data == nil {
		data = []warehouse.Row{}
	}
	return SearchResult{Data: data, Total: total, Page: pq.page, PageSize: pq.pageSize}, nil
}
