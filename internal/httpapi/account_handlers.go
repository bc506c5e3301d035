package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ecompulse.app/internal/auth"
	"ecompulse.app/internal/favorites"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/profile"
	"ecompulse.app/internal/subscriptions"
)

func sessionUser(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// UserInit creates the caller's starter profile on first sign-in.
func (a *API) UserInit(w http.ResponseWriter, r *http.Request) {
	if a.profiles == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	ctx := r.Context()
	created, err := a.profiles.Ensure(ctx, sessionUser(r), auth.NameFromContext(ctx), auth.EmailFromContext(ctx))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if created {
		writeJSON(w, http.StatusOK, map[string]bool{"created": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

func (a *API) UserProfile(w http.ResponseWriter, r *http.Request) {
	if a.profiles == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	p, err := a.profiles.Get(r.Context(), sessionUser(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) DeductCredit(w http.ResponseWriter, r *http.Request) {
	if a.profiles == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	remaining, err := a.profiles.DeductCredit(r.Context(), sessionUser(r))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "user not found", nil)
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"remainingCredits": remaining,
		"message":          "Credit deducted successfully",
	})
}

func (a *API) ListFavorites(w http.ResponseWriter, r *http.Request) {
	if a.favorites == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	q := r.URL.Query()
	page, err := intOr(q, "page", 1)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	size, err := intOr(q, "pageSize", 20)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.favorites.List(r.Context(), sessionUser(r), page, size)
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

// AddFavorite stores the posted ranking entry. The owner's name and email
// come from the session, never from the body.
func (a *API) AddFavorite(w http.ResponseWriter, r *http.Request) {
	if a.favorites == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	var f favorites.Favorite
	if err := decodeJSON(r, &f); err != nil {
		a.fail(w, r, err)
		return
	}
	ctx := r.Context()
	f.ID = ""
	f.UserName = auth.NameFromContext(ctx)
	f.UserEmail = auth.EmailFromContext(ctx)
	if err := a.favorites.Add(ctx, sessionUser(r), f); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Added to favorites"})
}

func (a *API) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if a.favorites == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	if err := a.favorites.Remove(r.Context(), sessionUser(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Removed from favorites"})
}

func (a *API) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if a.subscriptions == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	cur, err := a.subscriptions.Get(r.Context(), sessionUser(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"categories": cur.Categories, "keywords": cur.Keywords})
}

// Subscribe saves the weekly digest selection. Email falls back to the
// session address when the body leaves it empty.
func (a *API) Subscribe(w http.ResponseWriter, r *http.Request) {
	if a.subscriptions == nil {
		respondError(w, r, http.StatusServiceUnavailable, "warehouse is not configured", nil)
		return
	}
	var body struct {
		Email      string   `json:"email"`
		Categories []string `json:"categories"`
		Keywords   string   `json:"keywords"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	ctx := r.Context()
	sub := subscriptions.Subscription{
		UserID:     sessionUser(r),
		UserName:   auth.NameFromContext(ctx),
		UserEmail:  auth.EmailFromContext(ctx),
		Email:      firstNonEmpty(body.Email, auth.EmailFromContext(ctx)),
		Categories: body.Categories,
		Keywords:   body.Keywords,
	}
	if err := a.subscriptions.Subscribe(ctx, sub); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Unsubscribe redeems a mailed link token. The token may arrive in the query
// string, a JSON body or a form field.
func (a *API) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if a.subscriptions == nil || a.unsubscribe == nil {
		respondError(w, r, http.StatusServiceUnavailable, "unsubscribe is not configured", nil)
		return
	}
	token, err := unsubscribeToken(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if token == "" {
		respondError(w, r, http.StatusBadRequest, "token is required", nil)
		return
	}
	claims, err := a.unsubscribe.Parse(token)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid or expired token", nil)
		return
	}
	res, err := a.subscriptions.Unsubscribe(r.Context(), claims.Email, claims.Category)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := fmt.Sprintf("%s was not in your subscription", res.Item)
	if res.Changed {
		msg = fmt.Sprintf("Unsubscribed from %s", res.Item)
	}
	obs.Logger().Info("unsubscribe redeemed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.Bool("category", res.IsCategory),
		zap.Bool("changed", res.Changed))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    msg,
		"email":      res.Email,
		"item":       res.Item,
		"isCategory": res.IsCategory,
		"changed":    res.Changed,
	})
}

func unsubscribeToken(r *http.Request) (string, error) {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" || r.Method == http.MethodGet {
		return t, nil
	}
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return "", err
		}
		return strings.TrimSpace(body.Token), nil
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"), strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return strings.TrimSpace(r.PostFormValue("token")), nil
	}
	return "", nil
}
