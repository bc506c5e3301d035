package trends

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ecompulse.app/internal/warehouse"
)

// Ranking periods of the best-seller cluster tables.
const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"

	tableClusterWeekly  = "BestSellersProductClusterWeekly_479974220"
	tableClusterMonthly = "BestSellersProductClusterMonthly_479974220"

	defaultGrowthPageSize = 20
)

// GrowthSearch filters the raw best-seller clusters of one period. A
// category matches itself and every subcategory below it in the taxonomy.
// Price bounds are in currency micros; the relative-demand bounds compare
// the bucket labels case-insensitively.
type GrowthSearch struct {
	Period          string
	Country         string
	Category        *int64
	Brand           string
	NoBrand         bool
	Title           string
	MinPriceMicros  *int64
	MaxPriceMicros  *int64
	MinRank         *int64
	MaxRank         *int64
	MinRelDemand    string
	MaxRelDemand    string
	RelativeDemand  string
	RelDemandChange string
	StartDate       string
	EndDate         string

	Page     int
	PageSize int
}

func (g GrowthSearch) table() (string, error) {
	switch strings.ToLower(strings.TrimSpace(g.Period)) {
	case "", PeriodWeekly:
		return tableClusterWeekly, nil
	case PeriodMonthly:
		return tableClusterMonthly, nil
	default:
		return "", fmt.Errorf("%w: period must be %s or %s", ErrInvalidInput, PeriodWeekly, PeriodMonthly)
	}
}

// GrowthProducts lists clusters of the period ordered by rank gain. When a
// category is set the taxonomy is loaded first to expand it.
func (s *Service) GrowthProducts(ctx context.Context, g GrowthSearch) (SearchResult, error) {
	table, err := g.table()
	if err != nil {
		return SearchResult{}, err
	}
	if g.Page < 1 {
		g.Page = 1
	}
	if g.PageSize <= 0 {
		g.PageSize = defaultGrowthPageSize
	}
	g.PageSize = clampLimit(g.PageSize)

	where := []string{"1=1"}
	params := map[string]any{}
	types := map[string]string{}
	add := func(cond, name string, v any, typ string) {
		where = append(where, cond)
		params[name], types[name] = v, typ
	}

	if c := strings.TrimSpace(g.Country); c != "" {
		add("country_code = @country", "country", strings.ToUpper(c), warehouse.TypeString)
	}
	if g.Category != nil {
		forest, err := s.TaxonomyTree(ctx)
		if err != nil {
			return SearchResult{}, err
		}
		codes := subtreeCodes(forest, *g.Category)
		names := make([]string, len(codes))
		for i, code := range codes {
			names[i] = "@category" + strconv.Itoa(i)
			params["category"+strconv.Itoa(i)] = strconv.FormatInt(code, 10)
			types["category"+strconv.Itoa(i)] = warehouse.TypeString
		}
		where = append(where, "CAST(report_category_id AS STRING) IN ("+strings.Join(names, ", ")+")")
	}
	if b := strings.TrimSpace(g.Brand); b != "" {
		add("brand = @brand", "brand", b, warehouse.TypeString)
	}
	if g.NoBrand {
		where = append(where, "(brand IS NULL OR brand = '')")
	}
	if t := strings.TrimSpace(g.Title); t != "" {
		add("LOWER(title) LIKE LOWER(@productTitle)", "productTitle", "%"+t+"%", warehouse.TypeString)
	}
	i64 := func(cond, name string, v *int64) {
		if v != nil {
			add(cond, name, *v, warehouse.TypeInt64)
		}
	}
	i64("price_range.min_amount_micros >= @minPrice", "minPrice", g.MinPriceMicros)
	i64("price_range.max_amount_micros <= @maxPrice", "maxPrice", g.MaxPriceMicros)
	i64("rank >= @minRank", "minRank", g.MinRank)
	i64("rank <= @maxRank", "maxRank", g.MaxRank)
	str := func(cond, name, v string) {
		if v = strings.TrimSpace(v); v != "" {
			add(cond, name, v, warehouse.TypeString)
		}
	}
	str("LOWER(relative_demand) >= LOWER(@minRelDemand)", "minRelDemand", g.MinRelDemand)
	str("LOWER(relative_demand) <= LOWER(@maxRelDemand)", "maxRelDemand", g.MaxRelDemand)
	str("relative_demand = @relativeDemand", "relativeDemand", g.RelativeDemand)
	str("relative_demand_change = @relDemandChange", "relDemandChange", g.RelDemandChange)
	str("DATE(_PARTITIONDATE) >= DATE(@startDate)", "startDate", g.StartDate)
	str("DATE(_PARTITIONDATE) <= DATE(@endDate)", "endDate", g.EndDate)

	return s.paged(ctx, pagedQuery{
		table:  s.table(table),
		where:  where,
		params: params,
		types:  types,
		columns: `rank, previous_rank, country_code, report_category_id, entity_id, title, brand,
				FORMAT('%s-%s %s', CAST(price_range.min_amount_micros AS STRING),
					CAST(price_range.max_amount_micros AS STRING), price_range.currency_code) AS price_range,
				CAST(relative_demand AS STRING) AS relative_demand,
				CAST(previous_relative_demand AS STRING) AS previous_relative_demand,
				CAST(relative_demand_change AS STRING) AS relative_demand_change,
				FORMAT_DATE('%Y-%m-%d', DATE(_PARTITIONDATE)) AS rank_timestamp`,
		orderBy:  "(previous_rank - rank) DESC",
		page:     g.Page,
		pageSize: g.PageSize,
		label:    "growth products",
	})
}

// subtreeCodes returns code followed by every descendant code, depth first.
// A code missing from the forest expands to itself.
func subtreeCodes(forest []*TaxonomyNode, code int64) []int64 {
	root := findNode(forest, code)
	if root == nil {
		return []int64{code}
	}
	var out []int64
	var walk func(n *TaxonomyNode)
	walk = func(n *TaxonomyNode) {
		out = append(out, n.Code)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findNode(nodes []*TaxonomyNode, code int64) *TaxonomyNode {
	for _, n := range nodes {
		if n.Code == code {
			return n
		}
		if found := findNode(n.Children, code); found != nil {
			return found
		}
	}
	return nil
}
