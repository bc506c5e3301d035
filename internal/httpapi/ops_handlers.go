package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ecompulse.app/internal/audit"
	"ecompulse.app/internal/content"
	"ecompulse.app/internal/enrich"
)

// RefreshRanks runs the weekly enrichment. Query parameters override the
// job defaults (US, 609, 10); a JSON body {country, category, topN,
// isFastest, source} overrides the query.
func (a *API) RefreshRanks(w http.ResponseWriter, r *http.Request) {
	if a.ranks == nil {
		respondError(w, r, http.StatusServiceUnavailable, "rank refresh is not configured", nil)
		return
	}
	req, err := refreshRequest(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.ranks.Run(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "product week rank refreshed",
		"count":   res.Count,
		"matched": res.Matched,
		"data":    res.Products,
	})
}

func refreshRequest(r *http.Request) (enrich.Request, error) {
	q := r.URL.Query()
	req := enrich.Request{
		Country: q.Get("country"),
		Fastest: q.Get("isFastest") == "true",
		Source:  q.Get("source"),
	}
	category, err := optionalInt(q, "categoryId")
	if err != nil {
		return req, err
	}
	if category != nil {
		req.CategoryID = *category
	}
	if req.Limit, err = intOr(q, "limit", 0); err != nil {
		return req, err
	}
	if r.ContentLength <= 0 {
		return req, nil
	}

	var body struct {
		Country   string      `json:"country"`
		Category  json.Number `json:"category"`
		TopN      json.Number `json:"topN"`
		IsFastest *bool       `json:"isFastest"`
		Source    string      `json:"source"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return req, err
	}
	req.Country = firstNonEmpty(body.Country, req.Country)
	req.Source = firstNonEmpty(body.Source, req.Source)
	if body.IsFastest != nil {
		req.Fastest = *body.IsFastest
	}
	if body.Category != "" {
		if req.CategoryID, err = body.Category.Int64(); err != nil {
			return req, fmt.Errorf("%w: category must be an integer", errBadRequest)
		}
	}
	if body.TopN != "" {
		n, err := body.TopN.Int64()
		if err != nil {
			return req, fmt.Errorf("%w: topN must be an integer", errBadRequest)
		}
		req.Limit = int(n)
	}
	return req, nil
}

func (a *API) requireContent(w http.ResponseWriter, r *http.Request) bool {
	if a.content == nil {
		respondError(w, r, http.StatusServiceUnavailable, "content store is not configured", nil)
		return false
	}
	return true
}

func (a *API) GetContent(w http.ResponseWriter, r *http.Request) {
	if !a.requireContent(w, r) {
		return
	}
	doc, err := a.content.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "content not found", nil)
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) ListContent(w http.ResponseWriter, r *http.Request) {
	if !a.requireContent(w, r) {
		return
	}
	limit, err := intOr(r.URL.Query(), "limit", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	docs, err := a.content.List(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": docs, "total": len(docs)})
}

// PutContent publishes a document under the path id; a body id is ignored.
func (a *API) PutContent(w http.ResponseWriter, r *http.Request) {
	if !a.requireContent(w, r) {
		return
	}
	var doc content.Document
	if err := decodeJSON(r, &doc); err != nil {
		a.fail(w, r, err)
		return
	}
	doc.ID = r.PathValue("id")
	if err := content.Validate(&doc); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.content.Put(r.Context(), doc); err != nil {
		a.fail(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.EventContentPublished, map[string]any{
		"id":       doc.ID,
		"products": len(doc.TopProducts),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": doc.ID})
}
