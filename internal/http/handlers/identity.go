package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// IdentityStart kicks off LoRA training for a character. Only one identity
// may be in flight per character; a second start answers 409.
func (a *App) IdentityStart(w http.ResponseWriter, r *http.Request) {
	if a.Identity == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "identity training not configured")
		return
	}
	characterID := chi.URLParam(r, "character_id")
	if characterID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "character_id required")
		return
	}

	loraID, err := a.Identity.StartTraining(r.Context(), characterID)
	if err != nil {
		a.domainError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, map[string]string{
		"lora_id": loraID,
		"status":  "pending",
	})
}

// IdentityProgress reports the training stage of the character's latest identity.
func (a *App) IdentityProgress(w http.ResponseWriter, r *http.Request) {
	if a.Identity == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "identity training not configured")
		return
	}
	characterID := chi.URLParam(r, "character_id")
	if characterID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "character_id required")
		return
	}

	progress, err := a.Identity.Progress(r.Context(), characterID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if progress == nil {
		a.error(w, http.StatusNotFound, "not_found", "no identity for character")
		return
	}

	a.json(w, http.StatusOK, progress)
}
