package identity

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// variationSpec is one planned dataset render.
type variationSpec struct {
	Variation domain.VariationType
	Fragment  string
	Seed      int64
}

var variationFragments = map[domain.VariationType][]string{
	domain.VariationAngle: {
		"three-quarter view, head turned slightly",
		"profile view, looking to the side",
		"slightly from above, looking up at camera",
	},
	domain.VariationExpression: {
		"soft smile, relaxed expression",
		"serious expression, intense gaze",
		"laughing, eyes bright",
	},
	domain.VariationLighting: {
		"golden hour sunlight, warm tones",
		"soft window light, overcast day",
		"dramatic side lighting, deep shadows",
	},
	domain.VariationClothing: {
		"casual outfit, simple top",
		"elegant evening wear",
	},
	domain.VariationFraming: {
		"close-up headshot, shallow depth of field",
		"waist-up shot, natural posture",
	},
}

// variation type order keeps the dataset balanced across axes.
var variationOrder = []domain.VariationType{
	domain.VariationAngle,
	domain.VariationExpression,
	domain.VariationLighting,
	domain.VariationClothing,
	domain.VariationFraming,
}

// planVariations lays out the dataset renders for one character. Seeds are
// derived from the identity id so a rerun of the same identity reproduces
// the same dataset.
func planVariations(loraID string, count int) []variationSpec {
	base := seedFromID(loraID)
	specs := make([]variationSpec, 0, count)
	idx := make(map[domain.VariationType]int, len(variationOrder))
	for i := 0; i < count; i++ {
		vt := variationOrder[i%len(variationOrder)]
		frags := variationFragments[vt]
		frag := frags[idx[vt]%len(frags)]
		idx[vt]++
		specs = append(specs, variationSpec{
			Variation: vt,
			Fragment:  frag,
			Seed:      base + int64(i),
		})
	}
	return specs
}

func seedFromID(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	// Keep it positive and well inside sampler seed range.
	return int64(h.Sum64() % (1 << 31))
}

// variationPrompt renders the full prompt for one dataset image.
func variationPrompt(character *domain.Character, spec variationSpec) string {
	parts := []string{
		"photo of " + character.Name,
		character.AppearancePrompt,
		spec.Fragment,
		"high detail, consistent identity",
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// buildCaption produces the training caption for an accepted dataset image.
// The trigger word leads so the trained adapter binds the identity to it.
func buildCaption(triggerWord string, spec variationSpec, character *domain.Character) string {
	caption := fmt.Sprintf("%s, photo of a person, %s", triggerWord, spec.Fragment)
	if character.AppearancePrompt != "" {
		caption += ", " + character.AppearancePrompt
	}
	return caption
}
