package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// PeopleHandler serves the person listing and the identity corrections
type PeopleHandler struct {
	persons database.PersonWriter
}

func NewPeopleHandler(persons database.PersonWriter) *PeopleHandler {
	return &PeopleHandler{persons: persons}
}

// PersonResponse represents a person in API responses
type PersonResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsHidden  bool      `json:"isHidden"`
	FaceCount int       `json:"faceCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// PeopleResponse is the ranked person list of an owner
type PeopleResponse struct {
	Total  int              `json:"total"`
	Hidden int              `json:"hidden"`
	People []PersonResponse `json:"people"`
}

type reassignRequest struct {
	FromPersonID string `json:"fromPersonId"`
}

type mergeRequest struct {
	IDs []string `json:"ids"`
}

// List handles GET /people?withHidden=true&minimumFaceCount=3
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := database.PersonSearchOptions{}
	if v := q.Get("withHidden"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid withHidden parameter")
			return
		}
		opts.WithHidden = b
	}
	if v := q.Get("minimumFaceCount"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid minimumFaceCount parameter")
			return
		}
		opts.MinimumFaceCount = n
	}

	persons, err := h.persons.PersonsRankedForOwner(r.Context(), owner(r), opts)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	resp := PeopleResponse{People: make([]PersonResponse, 0, len(persons))}
	for _, p := range persons {
		if p.IsHidden {
			resp.Hidden++
		}
		resp.People = append(resp.People, PersonResponse{
			ID:        p.ID,
			Name:      p.Name,
			IsHidden:  p.IsHidden,
			FaceCount: p.FaceCount,
			CreatedAt: p.CreatedAt,
		})
	}
	resp.Total = len(resp.People)
	respondJSON(w, http.StatusOK, resp)
}

// Reassign handles PUT /people/{id}/reassign: every face of fromPersonId
// moves to {id}.
func (h *PeopleHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	var req reassignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FromPersonID == "" {
		respondError(w, http.StatusBadRequest, "fromPersonId is required")
		return
	}

	ctx := r.Context()
	for _, id := range []string{targetID, req.FromPersonID} {
		if err := h.requireOwned(ctx, owner(r), id); err != nil {
			respondAppError(w, r, err)
			return
		}
	}

	res, err := h.persons.ReassignFaces(ctx, req.FromPersonID, targetID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	slog.Info("faces reassigned",
		"from", sanitizeForLog(req.FromPersonID),
		"to", sanitizeForLog(targetID),
		"moved", res.Moved,
		"detached", res.Detached)
	respondJSON(w, http.StatusOK, res)
}

// Merge handles POST /people/{id}/merge with {"ids": [...]}
func (h *PeopleHandler) Merge(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	var req mergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids is required")
		return
	}

	if err := h.requireOwned(r.Context(), owner(r), targetID); err != nil {
		respondAppError(w, r, err)
		return
	}

	results, err := database.MergePersons(r.Context(), h.persons, targetID, req.IDs)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// requireOwned answers NotFound for persons of other owners so their ids do not leak.
func (h *PeopleHandler) requireOwned(ctx context.Context, ownerID, personID string) error {
	p, err := h.persons.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	if p == nil || p.OwnerID != ownerID {
		return apperrors.NotFound("person", personID)
	}
	return nil
}
