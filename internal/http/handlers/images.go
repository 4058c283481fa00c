package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/generate"
)

type imageGenerateRequest struct {
	Prompt               string `json:"prompt"`
	SceneKind            string `json:"scene_kind"`
	PrimaryCharacterID   string `json:"primary_character_id"`
	SecondaryCharacterID string `json:"secondary_character_id"`
	Seed                 *int64 `json:"seed"`
	Width                int    `json:"width"`
	Height               int    `json:"height"`
	Backend              string `json:"backend"`
	ForceModel           string `json:"force_model"`
	SkipFaceDetailer     bool   `json:"skip_face_detailer"`
	Debug                bool   `json:"debug"`
}

// ImagesGenerate accepts a generation request and submits the multi-pass
// pipeline to a backend. The response carries the job id to poll.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req imageGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	result, err := a.Generate.Generate(r.Context(), generate.Request{
		Prompt:               req.Prompt,
		SceneKind:            req.SceneKind,
		PrimaryCharacterID:   req.PrimaryCharacterID,
		SecondaryCharacterID: req.SecondaryCharacterID,
		BaseSeed:             req.Seed,
		Width:                req.Width,
		Height:               req.Height,
		Backend:              req.Backend,
		ForceModel:           req.ForceModel,
		SkipFaceDetailer:     req.SkipFaceDetailer,
		Debug:                req.Debug,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, result)
}
