package trends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecompulse.app/internal/warehouse"
)

// Ranking orders.
const (
	OrderFastest = "fastest"
	OrderRank    = "rank"
)

// GrowthFilter selects one country/category ranking week.
type GrowthFilter struct {
	Country    string
	CategoryID int64
	Order      string
	Title      string
}

// GrowthProduct is one row of the enriched weekly ranking.
type GrowthProduct struct {
	RankID          string     `json:"rank_id"`
	Rank            int64      `json:"rank"`
	ProductTitle    string     `json:"product_title"`
	ImageURL        string     `json:"image_url,omitempty"`
	RankImprovement int64      `json:"rank_improvement"`
	RankTimestamp   *time.Time `json:"rank_timestamp,omitempty"`
}

// GrowthResult is the top ten of the latest ranked week.
type GrowthResult struct {
	Products      []GrowthProduct `json:"products"`
	RankTimestamp *time.Time      `json:"rank_timestamp"`
}

// LatestRanking finds the newest ranked week for the filter and returns its
// top ten products. A filter with no ranked weeks yields an empty result.
func (s *Service) LatestRanking(ctx context.Context, f GrowthFilter) (GrowthResult, error) {
	country := countryOrDefault(f.Country)
	params := map[string]any{"country": country, "category": f.CategoryID}

	latestSQL := fmt.Sprintf(`
		SELECT MAX(rank_timestamp) AS latest_date
		FROM %s
		WHERE country = @country AND category_id = @category`, s.table(tableWeekRankEnriched))
	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: latestSQL, Params: params})
	if err != nil {
		return GrowthResult{}, fmt.Errorf("latest ranking date: %w", err)
	}
	empty := GrowthResult{Products: []GrowthProduct{}}
	if len(rows) == 0 {
		return empty, nil
	}
	latest, ok := rows[0].Time("latest_date")
	if !ok {
		return empty, nil
	}

	orderBy := "rank ASC"
	if f.Order == "" || f.Order == OrderFastest {
		orderBy = "rank_improvement DESC"
	}
	titleClause := ""
	params["latestDate"] = latest
	if title := strings.TrimSpace(f.Title); title != "" {
		titleClause = "AND LOWER(product_title) LIKE LOWER(@productTitle)"
		params["productTitle"] = "%" + title + "%"
	}
	topSQL := fmt.Sprintf(`
		SELECT rank_id, rank, product_title, image_url, rank_improvement, rank_timestamp
		FROM %s
		WHERE country = @country AND category_id = @category AND DATE(rank_timestamp) = DATE(@latestDate)
		%s
		ORDER BY %s
		LIMIT 10`, s.table(tableWeekRankEnriched), titleClause, orderBy)

	rows, _, err = s.q.Query(ctx, warehouse.QueryRequest{Query: topSQL, Params: params})
	if err != nil {
		return GrowthResult{}, fmt.Errorf("latest ranking: %w", err)
	}
	out := GrowthResult{Products: make([]GrowthProduct, 0, len(rows)), RankTimestamp: &latest}
	for _, r := range rows {
		p := GrowthProduct{
			RankID:          r.String("rank_id"),
			Rank:            int64Of(r, "rank"),
			ProductTitle:    r.String("product_title"),
			ImageURL:        r.String("image_url"),
			RankImprovement: int64Of(r, "rank_improvement"),
		}
		if ts, ok := r.Time("rank_timestamp"); ok {
			p.RankTimestamp = &ts
		}
		out.Products = append(out.Products, p)
	}
	return out, nil
}
