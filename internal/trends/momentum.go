package trends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecompulse.app/internal/warehouse"
)

// MomentumFilter scopes the momentum analysis. An empty AnalysisDate
// (YYYY-MM-DD) selects the most recent analysis run.
type MomentumFilter struct {
	Country      string
	CategoryID   string
	TrendType    string
	Limit        int
	AnalysisDate string
}

// MomentumEntry is one analysed product.
type MomentumEntry struct {
	ProductTitle           string     `json:"productTitle"`
	CurrentRank            int64      `json:"currentRank"`
	PreviousRank           int64      `json:"previousRank"`
	RankImprovement        int64      `json:"rankImprovement"`
	CurrentRelativeDemand  float64    `json:"currentRelativeDemand"`
	PreviousRelativeDemand float64    `json:"previousRelativeDemand"`
	DemandChange           float64    `json:"demandChange"`
	MomentumScore          float64    `json:"momentumScore"`
	TrendType              string     `json:"trendType"`
	ImageURL               string     `json:"imageUrl"`
	SearchTitle            string     `json:"searchTitle"`
	SearchLink             string     `json:"searchLink"`
	AnalysisTimestamp      *time.Time `json:"analysisTimestamp"`
}

// TrendStat aggregates one trend type.
type TrendStat struct {
	TrendType        string   `json:"trend_type"`
	Count            int64    `json:"count"`
	AvgMomentumScore *float64 `json:"avg_momentum_score"`
	AvgRankChange    *float64 `json:"avg_rank_change"`
	AvgDemandChange  *float64 `json:"avg_demand_change"`
}

func (s *Service) momentumScope(f MomentumFilter) (MomentumFilter, []string, map[string]any) {
	f.Country = countryOrDefault(f.Country)
	if f.CategoryID = strings.TrimSpace(f.CategoryID); f.CategoryID == "" {
		f.CategoryID = "1"
	}
	f.Limit = clampLimit(f.Limit)
	f.AnalysisDate = strings.TrimSpace(f.AnalysisDate)

	params := map[string]any{"country": f.Country, "categoryId": f.CategoryID}
	where := []string{"country = @country", "category_id = @categoryId"}
	if f.AnalysisDate != "" {
		where = append(where, "DATE(analysis_timestamp) = @analysisDate")
		params["analysisDate"] = f.AnalysisDate
	} else {
		where = append(where, fmt.Sprintf(`analysis_timestamp = (
			SELECT MAX(analysis_timestamp) FROM %s
			WHERE country = @country AND category_id = @categoryId)`, s.table(tableMomentum)))
	}
	return f, where, params
}

// Momentum returns the products with the highest momentum score.
func (s *Service) Momentum(ctx context.Context, f MomentumFilter) ([]MomentumEntry, error) {
	f, where, params := s.momentumScope(f)
	if tt := strings.TrimSpace(f.TrendType); tt != "" {
		where = append(where, "trend_type = @trendType")
		params["trendType"] = tt
	}
	params["limit"] = f.Limit
	types := map[string]string{}
	if f.AnalysisDate != "" {
		types["analysisDate"] = warehouse.TypeDate
	}

	sql := fmt.Sprintf(`
		SELECT
			product_title,
			current_rank,
			previous_rank,
			(previous_rank - current_rank) AS rank_improvement,
			current_relative_demand,
			previous_relative_demand,
			demand_change,
			momentum_score,
			trend_type,
			image_url,
			search_title,
			search_link,
			analysis_timestamp
		FROM %s
		WHERE %s
		ORDER BY momentum_score DESC
		LIMIT @limit`, s.table(tableMomentum), strings.Join(where, " AND "))

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Params: params, Types: types})
	if err != nil {
		return nil, fmt.Errorf("momentum analysis: %w", err)
	}
	out := make([]MomentumEntry, 0, len(rows))
	for _, r := range rows {
		e := MomentumEntry{
			ProductTitle:           r.String("product_title"),
			CurrentRank:            int64Of(r, "current_rank"),
			PreviousRank:           int64Of(r, "previous_rank"),
			RankImprovement:        int64Of(r, "rank_improvement"),
			CurrentRelativeDemand:  float64Of(r, "current_relative_demand"),
			PreviousRelativeDemand: float64Of(r, "previous_relative_demand"),
			DemandChange:           float64Of(r, "demand_change"),
			MomentumScore:          float64Of(r, "momentum_score"),
			TrendType:              r.String("trend_type"),
			ImageURL:               r.String("image_url"),
			SearchTitle:            r.String("search_title"),
			SearchLink:             r.String("search_link"),
		}
		if ts, ok := r.Time("analysis_timestamp"); ok {
			e.AnalysisTimestamp = &ts
		}
		out = append(out, e)
	}
	return out, nil
}

// TrendStats groups the analysis run by trend type, most frequent first.
func (s *Service) TrendStats(ctx context.Context, f MomentumFilter) ([]TrendStat, error) {
	f, where, params := s.momentumScope(f)
	types := map[string]string{}
	if f.AnalysisDate != "" {
		types["analysisDate"] = warehouse.TypeDate
	}

	sql := fmt.Sprintf(`
		SELECT
			trend_type,
			COUNT(*) AS count,
			AVG(momentum_score) AS avg_momentum_score,
			AVG(rank_change) AS avg_rank_change,
			AVG(demand_change) AS avg_demand_change
		FROM %s
		WHERE %s
		GROUP BY trend_type
		ORDER BY count DESC`, s.table(tableMomentum), strings.Join(where, " AND "))

	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Params: params, Types: types})
	if err != nil {
		return nil, fmt.Errorf("trend stats: %w", err)
	}
	out := make([]TrendStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, TrendStat{
			TrendType:        r.String("trend_type"),
			Count:            int64Of(r, "count"),
			AvgMomentumScore: floatPtr(r, "avg_momentum_score"),
			AvgRankChange:    floatPtr(r, "avg_rank_change"),
			AvgDemandChange:  floatPtr(r, "avg_demand_change"),
		})
	}
	return out, nil
}
