package trends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecompulse.app/internal/warehouse"
)

// daysBetweenRankings is the fixed distance of the weekly analysis.
const daysBetweenRankings = 7

// ImprovementFilter scopes the rank-improvement queries. CategoryID
// AllCategories spans every category; an empty Timestamp picks the latest
// analysed week.
type ImprovementFilter struct {
	Country    string
	CategoryID string
	Limit      int
	Timestamp  string
}

// Improvement is one rising product.
type Improvement struct {
	ProductTitle           string     `json:"productTitle"`
	CurrentRank            int64      `json:"currentRank"`
	PreviousRank           int64      `json:"previousRank"`
	RankImprovement        int64      `json:"rankImprovement"`
	CurrentRelativeDemand  float64    `json:"currentRelativeDemand"`
	PreviousRelativeDemand float64    `json:"previousRelativeDemand"`
	DaysBetweenRankings    int        `json:"daysBetweenRankings"`
	CurrentTimestamp       *time.Time `json:"currentTimestamp"`
	RankingCategory        string     `json:"rankingCategory"`
	ImageURL               string     `json:"imageUrl"`
}

// ImprovementStats summarises rank movement for one analysed week.
type ImprovementStats struct {
	TotalProducts      int64    `json:"total_products"`
	RisingProducts     int64    `json:"rising_products"`
	DecliningProducts  int64    `json:"declining_products"`
	StableProducts     int64    `json:"stable_products"`
	AvgRankImprovement *float64 `json:"avg_rank_improvement"`
	MaxRankImprovement *float64 `json:"max_rank_improvement"`
	MinRankImprovement *float64 `json:"min_rank_improvement"`
}

// improvementScope fills defaults and builds the conditions shared by the
// list and statistics statements.
func (s *Service) improvementScope(f ImprovementFilter) (ImprovementFilter, string, map[string]any) {
	f.Country = countryOrDefault(f.Country)
	f.CategoryID = strings.TrimSpace(f.CategoryID)
	if f.CategoryID == "" {
		f.CategoryID = "1"
	}
	f.Limit = clampLimit(f.Limit)
	f.Timestamp = strings.TrimSpace(f.Timestamp)

	params := map[string]any{"country": f.Country}
	categoryCond := ""
	if f.CategoryID != AllCategories {
		categoryCond = "AND category_id = @categoryId"
		params["categoryId"] = f.CategoryID
	}

	var timeCond string
	if f.Timestamp != "" {
		timeCond = "AND DATE_TRUNC(analysis_timestamp, WEEK) = DATE_TRUNC(CAST(@timestamp AS TIMESTAMP), WEEK)"
		params["timestamp"] = f.Timestamp
	} else {
		timeCond = fmt.Sprintf(`AND DATE_TRUNC(analysis_timestamp, WEEK) = (
			SELECT MAX(DATE_TRUNC(analysis_timestamp, WEEK)) FROM %s WHERE country = @country %s)`,
			s.table(tableMomentum), categoryCond)
	}
	return f, categoryCond + "\n\t\t" + timeCond, params
}

// RankImprovements lists the products that climbed the most in the week,
// one row per title.
func (s *Service) RankImprovements(ctx context.Context, f ImprovementFilter) ([]Improvement, error) {
	f, conds, params := s.improvementScope(f)
	params["limit"] = f.Limit

	sql := fmt.Sprintf(`
		SELECT
			product_title,
			MAX(current_rank) AS current_rank,
			MAX(rank_change) AS rank_improvement,
			MAX(current_relative_demand) AS current_relative_demand,
			MAX(analysis_timestamp) AS rank_timestamp,
			MAX(category_id) AS ranking_category,
			MAX(image_url) AS image_url
		FROM %s
		WHERE country = @country
		AND rank_change > 0
		%s
		GROUP BY product_title
		ORDER BY rank_improvement DESC
		LIMIT @limit`, s.table(tableMomentum), conds)

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Params: params})
	if err != nil {
		return nil, fmt.Errorf("rank improvements: %w", err)
	}
	out := make([]Improvement, 0, len(rows))
	for _, r := range rows {
		cur := int64Of(r, "current_rank")
		imp := int64Of(r, "rank_improvement")
		demand := float64Of(r, "current_relative_demand")
		item := Improvement{
			ProductTitle:           r.String("product_title"),
			CurrentRank:            cur,
			PreviousRank:           cur + imp,
			RankImprovement:        imp,
			CurrentRelativeDemand:  demand,
			PreviousRelativeDemand: demand,
			DaysBetweenRankings:    daysBetweenRankings,
			RankingCategory:        r.String("ranking_category"),
			ImageURL:               r.String("image_url"),
		}
		if ts, ok := r.Time("rank_timestamp"); ok {
			item.CurrentTimestamp = &ts
		}
		out = append(out, item)
	}
	return out, nil
}

// ImprovementStats counts rising, declining and stable products and the
// spread of positive improvements for the same scope as RankImprovements.
func (s *Service) ImprovementStats(ctx context.Context, f ImprovementFilter) (ImprovementStats, error) {
	_, conds, params := s.improvementScope(f)

	sql := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total_products,
			COUNT(CASE WHEN rank_change > 0 THEN 1 END) AS rising_products,
			COUNT(CASE WHEN rank_change < 0 THEN 1 END) AS declining_products,
			COUNT(CASE WHEN rank_change = 0 THEN 1 END) AS stable_products,
			AVG(CASE WHEN rank_change > 0 THEN rank_change END) AS avg_rank_improvement,
			MAX(CASE WHEN rank_change > 0 THEN rank_change END) AS max_rank_improvement,
			MIN(CASE WHEN rank_change > 0 THEN rank_change END) AS min_rank_improvement
		FROM %s
		WHERE country = @country
		%s`, s.table(tableMomentum), conds)

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Params: params})
	if err != nil {
		return ImprovementStats{}, fmt.Errorf("rank improvement stats: %w", err)
	}
	if len(rows) == 0 {
		return ImprovementStats{}, nil
	}
	r := rows[0]
	return ImprovementStats{
		TotalProducts:      int64Of(r, "total_products"),
		RisingProducts:     int64Of(r, "rising_products"),
		DecliningProducts:  int64Of(r, "declining_products"),
		StableProducts:     int64Of(r, "stable_products"),
		AvgRankImprovement: floatPtr(r, "avg_rank_improvement"),
		MaxRankImprovement: floatPtr(r, "max_rank_improvement"),
		MinRankImprovement: floatPtr(r, "min_rank_improvement"),
	}, nil
}
