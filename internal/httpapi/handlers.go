package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sells-group/taplist-enrich/internal/admin"
	"github.com/sells-group/taplist-enrich/internal/apperror"
	"github.com/sells-group/taplist-enrich/internal/cleanup"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/store"
)

const maxBatchEnrichmentIDs = 100

// handlers holds the collaborators every route is built from.
type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "store unavailable", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]string{"status": "ok"})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

func (h *handlers) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || token != h.deps.Auth.APIKey {
			writeError(w, r, apperror.New(apperror.KindUnauthorized, "missing or invalid api key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) requireAdminSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || token != h.deps.Auth.AdminSecret {
			writeError(w, r, apperror.New(apperror.KindUnauthorized, "missing or invalid admin secret", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited keys the fixed-window admission check by the caller's bearer
// token, since that's the stable per-client identity on an API-key-gated
// route (spec.md §4.2 is silent on the key; RemoteAddr is unusable behind
// a shared proxy).
func (h *handlers) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r) + ":" + r.URL.Path
		res := h.deps.Admission.Check(r.Context(), key, h.deps.Auth.RateLimitRPM)
		if !res.Allowed {
			writeError(w, r, apperror.New(apperror.KindRateLimited, "rate limit exceeded", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// enrichedBeer is one beer as returned from GET /beers: the upstream
// taplist sighting merged with whatever enrichment the store already holds.
type enrichedBeer struct {
	ID         string                  `json:"id"`
	BrewName   string                  `json:"brew_name"`
	Brewer     string                  `json:"brewer"`
	ABV        *float64                `json:"abv,omitempty"`
	Confidence *float64                `json:"confidence,omitempty"`
	Source     *model.EnrichmentSource `json:"source,omitempty"`
	IsVerified bool                    `json:"is_verified"`
}

type listBeersResponse struct {
	Beers   []enrichedBeer `json:"beers"`
	StoreID string         `json:"store_id"`
}

// listBeers implements GET /beers?sid=<store> (spec.md §6): fetch the
// upstream taplist for sid, then merge each sighting with the enrichment
// data already on file for that beer.
func (h *handlers) listBeers(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if sid == "" || !h.deps.StoreAllowList.Allowed(sid) {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "sid is missing or not recognized", nil))
		return
	}

	ctx := r.Context()
	sightings, err := h.deps.Taplist.FetchTaplist(ctx, sid)
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindUpstreamError, "failed to fetch upstream taplist", err))
		return
	}

	ids := make([]string, len(sightings))
	for i, s := range sightings {
		ids[i] = s.ID
	}
	stored, err := h.deps.Store.ListBeers(ctx, ids)
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "failed to load stored enrichment", err))
		return
	}
	byID := make(map[string]model.Beer, len(stored))
	for _, b := range stored {
		byID[b.ID] = b
	}

	beers := make([]enrichedBeer, len(sightings))
	for i, s := range sightings {
		eb := enrichedBeer{ID: s.ID, BrewName: s.BrewName, Brewer: s.Brewer}
		if b, ok := byID[s.ID]; ok {
			eb.ABV, eb.Confidence, eb.Source, eb.IsVerified = b.ABV, b.Confidence, b.EnrichmentSource, b.IsVerified()
		}
		beers[i] = eb
	}

	writeJSON(w, r.Context(), http.StatusOK, listBeersResponse{Beers: beers, StoreID: sid})
}

type batchEnrichmentsRequest struct {
	IDs []string `json:"ids"`
}

type enrichmentResult struct {
	ABV        *float64                `json:"abv,omitempty"`
	Confidence *float64                `json:"confidence,omitempty"`
	Source     *model.EnrichmentSource `json:"source,omitempty"`
	IsVerified bool                    `json:"is_verified"`
}

type batchEnrichmentsResponse struct {
	Enrichments map[string]enrichmentResult `json:"enrichments"`
}

// batchEnrichments implements POST /beers/batch (spec.md §6): a bounded
// lookup of already-stored enrichment results, keyed by beer id. It never
// triggers new enrichment work — that's the admin trigger's job.
func (h *handlers) batchEnrichments(w http.ResponseWriter, r *http.Request) {
	var req batchEnrichmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "invalid request body", err))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "ids must not be empty", nil))
		return
	}
	if len(req.IDs) > maxBatchEnrichmentIDs {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "ids must not exceed 100", nil))
		return
	}

	beers, err := h.deps.Store.ListBeers(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "failed to list beers", err))
		return
	}

	enrichments := make(map[string]enrichmentResult, len(beers))
	for _, b := range beers {
		enrichments[b.ID] = enrichmentResult{
			ABV:        b.ABV,
			Confidence: b.Confidence,
			Source:     b.EnrichmentSource,
			IsVerified: b.IsVerified(),
		}
	}

	writeJSON(w, r.Context(), http.StatusOK, batchEnrichmentsResponse{Enrichments: enrichments})
}

// beerSighting is one upstream taplist observation, as POSTed to
// /beers/ingest. BrewDescription is optional — beers without one skip the
// cleanup queue entirely, since there's nothing to clean or extract an ABV
// from.
type beerSighting struct {
	ID              string  `json:"id"`
	BrewName        string  `json:"brew_name"`
	Brewer          string  `json:"brewer"`
	BrewDescription *string `json:"brew_description,omitempty"`
}

type ingestSummary struct {
	Ingested int `json:"ingested"`
	Enqueued int `json:"enqueued_for_cleanup"`
}

func (h *handlers) ingestBeers(w http.ResponseWriter, r *http.Request) {
	var sightings []beerSighting
	if err := json.NewDecoder(r.Body).Decode(&sightings); err != nil {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "invalid request body", err))
		return
	}
	if len(sightings) == 0 {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "request body must contain at least one beer", nil))
		return
	}

	ctx := r.Context()
	summary := ingestSummary{}
	var cleanupBodies [][]byte

	for _, s := range sightings {
		in := store.UpsertBeerInput{ID: s.ID, BrewName: s.BrewName, Brewer: s.Brewer, BrewDescription: s.BrewDescription}
		if s.BrewDescription != nil {
			hash := cleanup.HashDescription(*s.BrewDescription)
			in.DescriptionHash = &hash
			in.ParsedABV = cleanup.ExtractABV(*s.BrewDescription)
		}

		if _, err := h.deps.Store.UpsertBeer(ctx, in); err != nil {
			writeError(w, r, apperror.New(apperror.KindDBUnavailable, "failed to upsert beer", err))
			return
		}
		summary.Ingested++

		if s.BrewDescription == nil || *s.BrewDescription == "" {
			continue
		}
		body, err := json.Marshal(model.CleanupMessage{
			BeerID:          s.ID,
			BeerName:        s.BrewName,
			Brewer:          s.Brewer,
			BrewDescription: *s.BrewDescription,
		})
		if err != nil {
			continue
		}
		cleanupBodies = append(cleanupBodies, body)
	}

	if len(cleanupBodies) > 0 {
		if err := h.deps.CleanupQ.SendBatch(ctx, cleanupBodies); err != nil {
			writeError(w, r, apperror.New(apperror.KindUpstreamError, "failed to enqueue cleanup batch", err))
			return
		}
		summary.Enqueued = len(cleanupBodies)
	}

	writeJSON(w, r.Context(), http.StatusOK, summary)
}

func (h *handlers) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DlqFilter{
		Status:     model.DlqStatus(q.Get("status")),
		BeerID:     q.Get("beer_id"),
		Cursor:     q.Get("cursor"),
		IncludeRaw: q.Get("include_raw") == "true",
		Limit:      50,
	}
	if lim, err := strconv.Atoi(q.Get("limit")); err == nil && lim > 0 {
		filter.Limit = lim
	}

	res, err := h.deps.DLQ.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "failed to list dead letters", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, res)
}

func (h *handlers) dlqStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.DLQ.Stats(r.Context())
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "failed to load dead letter stats", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, stats)
}

type replayRequest struct {
	IDs          []int64 `json:"ids"`
	DelaySeconds int     `json:"delay_seconds"`
}

func (h *handlers) replayDLQ(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "invalid request body", err))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "ids must not be empty", nil))
		return
	}

	res, err := h.deps.DLQ.Replay(r.Context(), req.IDs, req.DelaySeconds)
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindUpstreamError, "replay failed", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, res)
}

type acknowledgeRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *handlers) acknowledgeDLQ(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "invalid request body", err))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, apperror.New(apperror.KindInvalidRequest, "ids must not be empty", nil))
		return
	}

	if err := h.deps.DLQ.Acknowledge(r.Context(), req.IDs); err != nil {
		writeError(w, r, apperror.New(apperror.KindDBUnavailable, "acknowledge failed", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]int{"acknowledged": len(req.IDs)})
}

type triggerEnrichRequest struct {
	Limit           int  `json:"limit"`
	ExcludeFailures bool `json:"exclude_failures"`
}

func (h *handlers) triggerEnrich(w http.ResponseWriter, r *http.Request) {
	var req triggerEnrichRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apperror.New(apperror.KindInvalidRequest, "invalid request body", err))
			return
		}
	}

	res, err := h.deps.Admin.Trigger(r.Context(), admin.Request{
		Limit:           req.Limit,
		ExcludeFailures: req.ExcludeFailures,
	})
	if err != nil {
		writeError(w, r, apperror.New(apperror.KindUpstreamError, "trigger failed", err))
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, res)
}
