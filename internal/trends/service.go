// Package trends reads the weekly best-seller ranking tables: latest growth
// rankings, rank improvements, momentum analysis, filtered product search
// and the product taxonomy.
package trends

import (
	"errors"
	"strings"

	"ecompulse.app/internal/warehouse"
)

// AllCategories is the category id that disables the category filter.
const AllCategories = "123456"

const (
	tableWeekRankEnriched = "product_week_rank_enriched"
	tableMomentum         = "product_momentum_analysis"
	tableTopProducts      = "BestSellers_TopProducts_Optimized"
	tableTaxonomy         = "Google_Product_Taxonomy"

	defaultCountry  = "US"
	defaultLimit    = 10
	maxLimit        = 100
	defaultLocation = "US"
)

var ErrInvalidInput = errors.New("trends: invalid input")

// Service runs ranking queries through one shared warehouse querier.
type Service struct {
	q        warehouse.Querier
	project  string
	dataset  string
	location string
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the processing location sent with search and taxonomy queries.
func WithLocation(loc string) Option {
	return func(s *Service) {
		if loc = strings.TrimSpace(loc); loc != "" {
			s.location = loc
		}
	}
}

// NewService binds the ranking queries to project.dataset.
func NewService(q warehouse.Querier, project, dataset string, opts ...Option) *Service {
	s := &Service{q: q, project: project, dataset: dataset, location: defaultLocation}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) table(name string) string {
	return warehouse.TableRef(s.project, s.dataset, name)
}

// clampLimit keeps a result limit within 1..100, defaulting non-positive values.
func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func countryOrDefault(c string) string {
	if c = strings.TrimSpace(c); c != "" {
		return strings.ToUpper(c)
	}
	return defaultCountry
}

func int64Of(r warehouse.Row, col string) int64 {
	n, _ := r.Int64(col)
	return n
}

func float64Of(r warehouse.Row, col string) float64 {
	f, _ := r.Float64(col)
	return f
}

func floatPtr(r warehouse.Row, col string) *float64 {
	f, ok := r.Float64(col)
	if !ok {
		return nil
	}
	return &f
}
