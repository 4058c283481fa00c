package domain

import "time"

// CharacterGender is used to pick gender-specific body adapters during inpaint passes.
type CharacterGender string

const (
	CharacterGenderFemale CharacterGender = "female"
	CharacterGenderMale   CharacterGender = "male"
	CharacterGenderOther  CharacterGender = "other"
)

// Character represents an approved story character whose likeness must stay
// consistent across generated images. The record itself is owned by the admin
// dashboard; this service only reads it and attaches trained identities.
type Character struct {
	ID               string
	StoryID          string
	Name             string
	Gender           CharacterGender
	TriggerWord      string
	AppearancePrompt string
	ReferenceImages  []string // storage keys of approved reference images, 1 or 2
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
