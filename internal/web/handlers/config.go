package handlers

import (
	"net/http"

	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/search"
)

// SystemConfigHandler exposes the runtime system config
type SystemConfigHandler struct {
	search *search.Service
}

func NewSystemConfigHandler(svc *search.Service) *SystemConfigHandler {
	return &SystemConfigHandler{search: svc}
}

// Get returns the snapshot requests are currently served with
func (h *SystemConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.search.SystemConfig())
}

// Reload re-reads the system config file. A broken file leaves the current
// snapshot in place and answers 400.
func (h *SystemConfigHandler) Reload(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.search.Reload(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, struct {
			Error  string              `json:"error"`
			Config config.SystemConfig `json:"config"`
		}{err.Error(), cfg})
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}
