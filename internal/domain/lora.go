package domain

import "time"

// LoraStatus enumerates identity training pipeline stages. Progression is
// strictly forward; deployed and failed are terminal, archived is reachable
// out-of-band from either terminal state.
type LoraStatus string

const (
	LoraStatusPending           LoraStatus = "pending"
	LoraStatusGeneratingDataset LoraStatus = "generating_dataset"
	LoraStatusEvaluating        LoraStatus = "evaluating"
	LoraStatusCaptioning        LoraStatus = "captioning"
	LoraStatusTraining          LoraStatus = "training"
	LoraStatusValidating        LoraStatus = "validating"
	LoraStatusDeployed          LoraStatus = "deployed"
	LoraStatusFailed            LoraStatus = "failed"
	LoraStatusArchived          LoraStatus = "archived"
)

// Terminal reports whether the training pipeline has finished with this status.
func (s LoraStatus) Terminal() bool {
	return s == LoraStatusDeployed || s == LoraStatusFailed || s == LoraStatusArchived
}

// Active reports whether a record in this status blocks a new training run
// for the same character.
func (s LoraStatus) Active() bool {
	return s != LoraStatusFailed && s != LoraStatusArchived
}

var loraStatusOrder = map[LoraStatus]int{
	LoraStatusPending:           0,
	LoraStatusGeneratingDataset: 1,
	LoraStatusEvaluating:        2,
	LoraStatusCaptioning:        3,
	LoraStatusTraining:          4,
	LoraStatusValidating:        5,
	LoraStatusDeployed:          6,
	LoraStatusFailed:            6,
}

// CanTransition reports whether moving from s to next respects the strict
// forward progression of the training state machine. Failed is reachable from
// any non-terminal stage; archived only from a terminal one.
func (s LoraStatus) CanTransition(next LoraStatus) bool {
	if next == LoraStatusArchived {
		return s == LoraStatusDeployed || s == LoraStatusFailed
	}
	if s.Terminal() {
		return false
	}
	if next == LoraStatusFailed {
		return true
	}
	from, ok := loraStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := loraStatusOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

// CharacterLora is a trained (or in-training) identity adapter for one character.
type CharacterLora struct {
	ID              string
	CharacterID     string
	TriggerWord     string
	BaseModel       string
	Status          LoraStatus
	DatasetSize     int
	ValidationScore *float64
	Attempts        int
	ArtifactKey     string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VariationType enumerates dataset image variation axes.
type VariationType string

const (
	VariationAngle      VariationType = "angle"
	VariationExpression VariationType = "expression"
	VariationLighting   VariationType = "lighting"
	VariationClothing   VariationType = "clothing"
	VariationFraming    VariationType = "framing"
)

// EvalStatus enumerates dataset image evaluation outcomes.
type EvalStatus string

const (
	EvalStatusPending  EvalStatus = "pending"
	EvalStatusPassed   EvalStatus = "passed"
	EvalStatusFailed   EvalStatus = "failed"
	EvalStatusReplaced EvalStatus = "replaced"
)

// DatasetImage is one generated training image owned by a CharacterLora.
// Rows are deleted with their owning identity. Fragment is the prompt
// fragment the image was rendered with; captions are built from it.
type DatasetImage struct {
	ID         string
	LoraID     string
	Variation  VariationType
	Fragment   string
	EvalStatus EvalStatus
	Caption    string
	StorageKey string
	Score      *float64
	CreatedAt  time.Time
}
