package handlers

import (
	"net/http"
	"strconv"

	"github.com/wipfli/immich/internal/search"
)

// SearchHandler serves smart search and the explore page
type SearchHandler struct {
	search *search.Service
}

func NewSearchHandler(svc *search.Service) *SearchHandler {
	return &SearchHandler{search: svc}
}

// Search handles GET /search?q=...&clip=true
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var clip bool
	if v := q.Get("clip"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid clip parameter")
			return
		}
		clip = parsed
	}

	resp, err := h.search.Search(r.Context(), owner(r), search.SearchRequest{
		Q:     q.Get("q"),
		Query: q.Get("query"),
		CLIP:  clip,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Explore handles GET /search/explore
func (h *SearchHandler) Explore(w http.ResponseWriter, r *http.Request) {
	fields, err := h.search.ExploreData(r.Context(), owner(r))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, fields)
}
