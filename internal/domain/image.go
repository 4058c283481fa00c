package domain

import "time"

// ImageStatus enumerates the publishing states of a generated image.
type ImageStatus string

const (
	ImageStatusGenerating ImageStatus = "generating"
	ImageStatusReady      ImageStatus = "ready"
	ImageStatusFailed     ImageStatus = "failed"
)

// Image is the persisted record for one generated scene image.
type Image struct {
	ID                   string
	JobID                string
	SceneKind            SceneKind
	Prompt               string
	PrimaryCharacterID   string
	SecondaryCharacterID string
	Seed                 *int64
	StorageKey           string
	URL                  string
	Status               ImageStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
