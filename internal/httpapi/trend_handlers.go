package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ecompulse.app/internal/trends"
)

func (a *API) requireTrends(w http.ResponseWriter, r *http.Request) bool {
	if a.trends == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return false
	}
	return true
}

// ProductsGrowth returns the top ten of the latest ranked week.
func (a *API) ProductsGrowth(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	q := r.URL.Query()
	category, err := optionalInt(q, "category")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f := trends.GrowthFilter{
		Country: q.Get("country"),
		Order:   q.Get("type"),
		Title:   q.Get("productTitle"),
	}
	if category != nil {
		f.CategoryID = *category
	}
	res, err := a.trends.LatestRanking(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func improvementFilter(q url.Values) (trends.ImprovementFilter, error) {
	limit, err := intOr(q, "limit", 0)
	if err != nil {
		return trends.ImprovementFilter{}, err
	}
	return trends.ImprovementFilter{
		Country:    q.Get("country"),
		CategoryID: q.Get("categoryId"),
		Limit:      limit,
		Timestamp:  q.Get("timestamp"),
	}, nil
}

func (a *API) RankImprovement(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	f, err := improvementFilter(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	data, err := a.trends.RankImprovements(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"count":   len(data),
		"filters": improvementFilters(f),
	})
}

// RankImprovementStats accepts the filter either as a JSON body or as query
// parameters.
func (a *API) RankImprovementStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	f, err := improvementFilter(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if r.ContentLength > 0 {
		var body struct {
			Country    string `json:"country"`
			CategoryID string `json:"categoryId"`
			Timestamp  string `json:"timestamp"`
		}
		if err := decodeJSON(r, &body); err != nil {
			a.fail(w, r, err)
			return
		}
		f.Country = firstNonEmpty(body.Country, f.Country)
		f.CategoryID = firstNonEmpty(body.CategoryID, f.CategoryID)
		f.Timestamp = firstNonEmpty(body.Timestamp, f.Timestamp)
	}
	stats, err := a.trends.ImprovementStats(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats, "filters": improvementFilters(f)})
}

func momentumFilter(q url.Values) (trends.MomentumFilter, error) {
	limit, err := intOr(q, "limit", 0)
	if err != nil {
		return trends.MomentumFilter{}, err
	}
	return trends.MomentumFilter{
		Country:      q.Get("country"),
		CategoryID:   q.Get("categoryId"),
		TrendType:    q.Get("trendType"),
		Limit:        limit,
		AnalysisDate: q.Get("analysisDate"),
	}, nil
}

func (a *API) MomentumAnalysis(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	f, err := momentumFilter(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	data, err := a.trends.Momentum(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"count":   len(data),
		"filters": momentumFilters(f),
	})
}

func (a *API) MomentumStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	f, err := momentumFilter(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if r.ContentLength > 0 {
		var body struct {
			Country      string `json:"country"`
			CategoryID   string `json:"categoryId"`
			AnalysisDate string `json:"analysisDate"`
		}
		if err := decodeJSON(r, &body); err != nil {
			a.fail(w, r, err)
			return
		}
		f.Country = firstNonEmpty(body.Country, f.Country)
		f.CategoryID = firstNonEmpty(body.CategoryID, f.CategoryID)
		f.AnalysisDate = firstNonEmpty(body.AnalysisDate, f.AnalysisDate)
	}
	stats, err := a.trends.TrendStats(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats, "filters": momentumFilters(f)})
}

func improvementFilters(f trends.ImprovementFilter) map[string]any {
	return map[string]any{
		"country":    f.Country,
		"categoryId": f.CategoryID,
		"limit":      f.Limit,
		"timestamp":  f.Timestamp,
	}
}

func momentumFilters(f trends.MomentumFilter) map[string]any {
	return map[string]any{
		"country":      f.Country,
		"categoryId":   f.CategoryID,
		"trendType":    f.TrendType,
		"limit":        f.Limit,
		"analysisDate": f.AnalysisDate,
	}
}

// Products searches the optimized product table.
func (a *API) Products(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	p, err := productSearch(r.URL.Query())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.trends.SearchProducts(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func productSearch(q url.Values) (trends.ProductSearch, error) {
	p := trends.ProductSearch{
		Country:     q.Get("country"),
		Title:       q.Get("title"),
		Brand:       q.Get("brand"),
		BrandIsNull: q.Get("brandIsNull") == "true",
		Start:       q.Get("start"),
		End:         q.Get("end"),
	}
	var err error
	if p.Page, err = intOr(q, "page", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = intOr(q, "pageSize", 10); err != nil {
		return p, err
	}
	ints := []struct {
		dst  **int64
		name string
	}{
		{&p.Category, "category"},
		{&p.MinRank, "minRank"},
		{&p.MaxRank, "maxRank"},
		{&p.MinPreviousRank, "minPreviousRank"},
		{&p.MaxPreviousRank, "maxPreviousRank"},
	}
	for _, f := range ints {
		if *f.dst, err = optionalInt(q, f.name); err != nil {
			return p, err
		}
	}
	floats := []struct {
		dst  **float64
		name string
	}{
		{&p.MinPrice, "minPrice"},
		{&p.MaxPrice, "maxPrice"},
		{&p.MinRelativeDemand, "minRelativeDemand"},
		{&p.MaxRelativeDemand, "maxRelativeDemand"},
		{&p.MinPrevRelativeDemand, "minPrevRelativeDemand"},
		{&p.MaxPrevRelativeDemand, "maxPrevRelativeDemand"},
	}
	for _, f := range floats {
		if *f.dst, err = optionalFloat(q, f.name); err != nil {
			return p, err
		}
	}
	return p, nil
}

// GrowthProducts lists best-seller clusters of one period by rank gain.
func (a *API) GrowthProducts(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	q := r.URL.Query()
	g := trends.GrowthSearch{
		Period:          q.Get("period"),
		Country:         q.Get("country"),
		Brand:           q.Get("brand"),
		NoBrand:         q.Get("noBrand") == "true",
		Title:           q.Get("productTitle"),
		MinRelDemand:    q.Get("minRelDemand"),
		MaxRelDemand:    q.Get("maxRelDemand"),
		RelativeDemand:  q.Get("relativeDemand"),
		RelDemandChange: q.Get("relDemandChange"),
		StartDate:       q.Get("startDate"),
		EndDate:         q.Get("endDate"),
	}
	var err error
	if g.Page, err = intOr(q, "page", 1); err != nil {
		a.fail(w, r, err)
		return
	}
	if g.PageSize, err = intOr(q, "pageSize", 0); err != nil {
		a.fail(w, r, err)
		return
	}
	for _, f := range []struct {
		dst  **int64
		name string
	}{
		{&g.Category, "category"},
		{&g.MinPriceMicros, "minPrice"},
		{&g.MaxPriceMicros, "maxPrice"},
		{&g.MinRank, "minRank"},
		{&g.MaxRank, "maxRank"},
	} {
		if *f.dst, err = optionalInt(q, f.name); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	res, err := a.trends.GrowthProducts(r.Context(), g)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"data":     res.Data,
		"total":    res.Total,
		"page":     res.Page,
		"pageSize": res.PageSize,
	})
}

func (a *API) TaxonomyTree(w http.ResponseWriter, r *http.Request) {
	if !a.requireTrends(w, r) {
		return
	}
	tree, err := a.trends.TaxonomyTree(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// --- query parsing ---

func intOr(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func optionalInt(q url.Values, name string) (*int64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return &n, nil
}

func optionalFloat(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return &f, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
