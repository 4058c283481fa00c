package pipeline

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
)

var validate = validator.New()

// CharacterRef carries the pipeline-relevant slice of a character record.
type CharacterRef struct {
	ID          string
	Name        string
	Gender      domain.CharacterGender
	TriggerWord string
	// Adapter is the trained identity adapter, nil when the character has
	// no deployed identity yet.
	Adapter *selector.Adapter
}

// Request describes one pipeline build.
type Request struct {
	Prompt    string           `validate:"required"`
	SceneKind domain.SceneKind `validate:"required"`
	Selection selector.Selection
	Primary   CharacterRef
	Secondary *CharacterRef
	BaseSeed  int64
	Width     int `validate:"gt=0"`
	Height    int `validate:"gt=0"`

	// SkipFaceDetailer drops passes 5/5.5 and routes the inpaint output
	// straight into cleanup. Diagnostic.
	SkipFaceDetailer bool
	// Debug injects a decode+save tap after every sampling node.
	Debug bool
}

// PassSpec is the resolved parameter set for one refinement pass. Fractional
// indexes (4.5, 5.5) are the dual-character sub-passes.
type PassSpec struct {
	Index     float64 `validate:"gt=0"`
	Name      string  `validate:"required"`
	Prompt    string  `validate:"required"`
	Adapters  []selector.Adapter
	Seed      int64
	Steps     int     `validate:"gt=0"`
	CFG       float64 `validate:"gt=0"`
	Denoise   float64 `validate:"gt=0,lte=1"`
	Width     int     `validate:"gte=0"`
	Height    int     `validate:"gte=0"`
	OutputTag string  `validate:"required"`
}

// validateRequest rejects malformed input before any graph node is created.
func validateRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("pipeline: invalid request: %w", err)
	}
	if req.Selection.Checkpoint == "" {
		return fmt.Errorf("pipeline: selection has no checkpoint")
	}
	return nil
}

func validatePasses(passes []PassSpec) error {
	for _, p := range passes {
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("pipeline: invalid pass %v (%s): %w", p.Index, p.Name, err)
		}
	}
	return nil
}
