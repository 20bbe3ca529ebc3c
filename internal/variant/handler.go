// internal/variant/handler.go
package variant

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the read-only variant endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/variants/{variantID}", h.HandleVariant)
}

func (h *Handler) HandleVariant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "variantID"))
	if err != nil {
		http.Error(w, "invalid variant ID", http.StatusBadRequest)
		return
	}

	v, err := h.service.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
