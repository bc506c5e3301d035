// Package httpapi exposes the trend, account and subscription services as
// a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ecompulse.app/internal/auth"
	"ecompulse.app/internal/content"
	"ecompulse.app/internal/enrich"
	"ecompulse.app/internal/favorites"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/profile"
	"ecompulse.app/internal/subscriptions"
	"ecompulse.app/internal/trends"
	"ecompulse.app/internal/warehouse"
)

const serviceName = "ecompulse-api"

type pinger interface {
	PingContext(ctx context.Context) error
}

type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ReadyProbe checks the backing services: the content database and the
// warehouse credential. Nil members are skipped.
type ReadyProbe struct {
	DB        pinger
	Warehouse tokenSource
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Warehouse != nil {
		if _, err := rp.Warehouse.Token(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services behind the routes. A nil service turns its routes
// into 503 responses.
type Deps struct {
	Ready          readinessChecker
	Version        string
	Trends         *trends.Service
	Profiles       *profile.Service
	Favorites      *favorites.Service
	Subscriptions  *subscriptions.Service
	Ranks          *enrich.Job
	Content        content.Store
	Sessions       *auth.Tokens
	Unsubscribe    *auth.UnsubscribeTokens
	CronSecret     string
	ConfigPresence map[string]map[string]bool
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	ready     readinessChecker
	version   string
	startedAt time.Time

	trends        *trends.Service
	profiles      *profile.Service
	favorites     *favorites.Service
	subscriptions *subscriptions.Service
	ranks         *enrich.Job
	content       content.Store
	sessions      *auth.Tokens
	unsubscribe   *auth.UnsubscribeTokens
	cronSecret    string
	presence      map[string]map[string]bool

	rateBurst   int
	ratePerSec  int
	maxBody     int64
	corsOrigins []string
}

// Option tunes the middleware chain.
type Option func(*API)

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func New(d Deps, opts ...Option) *API {
	ready := d.Ready
	if ready == nil {
		ready = ReadyProbe{}
	}
	a := &API{
		mux:           http.NewServeMux(),
		ready:         ready,
		version:       d.Version,
		startedAt:     time.Now().UTC(),
		trends:        d.Trends,
		profiles:      d.Profiles,
		favorites:     d.Favorites,
		subscriptions: d.Subscriptions,
		ranks:         d.Ranks,
		content:       d.Content,
		sessions:      d.Sessions,
		unsubscribe:   d.Unsubscribe,
		cronSecret:    strings.TrimSpace(d.CronSecret),
		presence:      d.ConfigPresence,
		rateBurst:     20,
		ratePerSec:    10,
		maxBody:       1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("GET /api/check-config", a.CheckConfig)

	a.mux.HandleFunc("GET /api/products-growth", a.ProductsGrowth)
	a.mux.HandleFunc("GET /api/rank-improvement", a.RankImprovement)
	a.mux.HandleFunc("POST /api/rank-improvement", a.RankImprovementStats)
	a.mux.HandleFunc("GET /api/momentum-analysis", a.MomentumAnalysis)
	a.mux.HandleFunc("POST /api/momentum-analysis", a.MomentumStats)
	a.mux.HandleFunc("GET /api/products", a.Products)
	a.mux.HandleFunc("GET /api/taxonomy-tree", a.TaxonomyTree)
	a.mux.HandleFunc("GET /api/content", a.ListContent)
	a.mux.HandleFunc("GET /api/content/{id}", a.GetContent)

	a.mux.HandleFunc("POST /api/user/init", a.withSession(a.UserInit))
	a.mux.HandleFunc("GET /api/user/profile", a.withSession(a.UserProfile))
	a.mux.HandleFunc("POST /api/credits/deduct", a.withSession(a.DeductCredit))
	a.mux.HandleFunc("GET /api/favorites", a.withSession(a.ListFavorites))
	a.mux.HandleFunc("POST /api/favorites", a.withSession(a.AddFavorite))
	a.mux.HandleFunc("DELETE /api/favorites/{id}", a.withSession(a.RemoveFavorite))
	a.mux.HandleFunc("GET /api/weekly-subscribe", a.withSession(a.GetSubscription))
	a.mux.HandleFunc("POST /api/weekly-subscribe", a.withSession(a.Subscribe))
	a.mux.HandleFunc("GET /api/unsubscribe", a.Unsubscribe)
	a.mux.HandleFunc("POST /api/unsubscribe", a.Unsubscribe)

	a.mux.HandleFunc("GET /api/cron/product-week-rank", a.withCronSecret(a.RefreshRanks))
	a.mux.HandleFunc("POST /api/cron/product-week-rank", a.withCronSecret(a.RefreshRanks))
	a.mux.HandleFunc("POST /api/admin/product-week-rank", a.admin(a.RefreshRanks))
	a.mux.HandleFunc("GET /api/admin/growth-products", a.admin(a.GrowthProducts))
	a.mux.HandleFunc("PUT /api/admin/content/{id}", a.admin(a.PutContent))
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// request id, logging, metrics, security headers, CORS, rate limit, body limit.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"version":    a.version,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"started_at": a.startedAt.Format(time.RFC3339),
	})
}

// CheckConfig reports which integrations are configured, never their values.
func (a *API) CheckConfig(w http.ResponseWriter, r *http.Request) {
	presence := a.presence
	if presence == nil {
		presence = map[string]map[string]bool{}
	}
	writeJSON(w, http.StatusOK, presence)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string, details *string) {
	body := errorBody{Error: msg, RequestID: requestIDFrom(r.Context())}
	if details != nil {
		body.Details = *details
	}
	writeJSON(w, code, body)
}

// fail maps a service error onto a status code. Remote warehouse failures
// are 502 with the provider text in details.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		remote  *warehouse.RemoteError
		partial *warehouse.InsertErrors
		maxErr  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &remote):
		a.logFailure(r, err)
		respondError(w, r, http.StatusBadGateway, "warehouse request failed", &remote.Body)
	case errors.As(err, &partial):
		a.logFailure(r, err)
		respondError(w, r, http.StatusBadGateway, "warehouse rejected rows", &partial.Raw)
	case errors.Is(err, warehouse.ErrAuthentication), errors.Is(err, warehouse.ErrMalformedResponse),
		errors.Is(err, warehouse.ErrQuery), errors.Is(err, warehouse.ErrInsert):
		a.logFailure(r, err)
		details := err.Error()
		respondError(w, r, http.StatusBadGateway, "warehouse request failed", &details)
	case errors.As(err, &maxErr):
		respondError(w, r, http.StatusRequestEntityTooLarge, "request body too large", nil)
	case errors.Is(err, trends.ErrInvalidInput), errors.Is(err, profile.ErrInvalidInput),
		errors.Is(err, favorites.ErrInvalidInput), errors.Is(err, subscriptions.ErrInvalidInput),
		errors.Is(err, enrich.ErrInvalidInput), errors.Is(err, content.ErrInvalidInput),
		errors.Is(err, errBadRequest):
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, profile.ErrInsufficientCredits):
		respondError(w, r, http.StatusBadRequest, "insufficient credits", nil)
	case errors.Is(err, favorites.ErrAlreadyExists):
		respondError(w, r, http.StatusConflict, "product already in favorites", nil)
	case errors.Is(err, profile.ErrNotFound), errors.Is(err, favorites.ErrNotFound),
		errors.Is(err, subscriptions.ErrNotFound), errors.Is(err, content.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "invalid token", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, "upstream timeout", nil)
	default:
		a.logFailure(r, err)
		respondError(w, r, http.StatusInternalServerError, "internal error", nil)
	}
}

func (a *API) logFailure(r *http.Request, err error) {
	obs.Logger().Error("request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}

var errBadRequest = errors.New("bad request")

// decodeJSON reads a JSON body into v. Unknown fields are ignored.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errBadRequest
	}
	err := json.NewDecoder(r.Body).Decode(v)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &maxErr):
		return err
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: empty body", errBadRequest)
	default:
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
}
