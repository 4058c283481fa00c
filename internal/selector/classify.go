package selector

import (
	"strings"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// Explicitness grades how much skin/intimacy the rendered prompt calls for.
type Explicitness string

const (
	ExplicitnessTame       Explicitness = "tame"
	ExplicitnessSuggestive Explicitness = "suggestive"
	ExplicitnessExplicit   Explicitness = "explicit"
)

// PoseComplexity grades how demanding the requested pose is for the sampler.
type PoseComplexity string

const (
	PoseSimple   PoseComplexity = "simple"
	PoseModerate PoseComplexity = "moderate"
	PoseComplex  PoseComplexity = "complex"
)

// Classification is the heuristic tag-set driving resource selection.
// Derived per request, never persisted.
type Classification struct {
	Explicitness   Explicitness
	PoseComplexity PoseComplexity
	DualCharacter  bool
}

var explicitKeywords = []string{
	"nude", "naked", "undressed", "bare skin", "intimate", "making love",
	"entwined bodies", "explicit",
}

var suggestiveKeywords = []string{
	"lingerie", "sensual", "seductive", "shirtless", "kissing", "kiss",
	"low-cut", "unbuttoned", "silk robe", "towel",
}

var complexPoseKeywords = []string{
	"lying", "straddling", "entangled", "carrying", "dancing", "embracing",
	"wrapped around", "on top of", "arched",
}

var moderatePoseKeywords = []string{
	"sitting", "leaning", "kneeling", "crouching", "stretching", "reclining",
	"looking over shoulder",
}

var dualKeywords = []string{
	"two people", "couple", "both of them", "together", "embracing",
	"facing each other", "holding each other", "in each other's arms",
}

// Classify analyzes a rendered prompt and scene kind into a tag-set.
// Pure keyword matching: deterministic for identical input, no I/O, and
// ambiguous text falls through to the conservative default.
func Classify(prompt string, kind domain.SceneKind) Classification {
	text := strings.ToLower(prompt)

	cls := Classification{
		Explicitness:   ExplicitnessTame,
		PoseComplexity: PoseSimple,
	}

	switch {
	case containsAny(text, explicitKeywords):
		cls.Explicitness = ExplicitnessExplicit
	case containsAny(text, suggestiveKeywords):
		cls.Explicitness = ExplicitnessSuggestive
	}

	// Portraits are framed head-and-shoulders; pose never grades above simple.
	if kind != domain.SceneKindPortrait {
		switch {
		case containsAny(text, complexPoseKeywords):
			cls.PoseComplexity = PoseComplex
		case containsAny(text, moderatePoseKeywords):
			cls.PoseComplexity = PoseModerate
		}
	}

	if kind == domain.SceneKindStoryScene && containsAny(text, dualKeywords) {
		cls.DualCharacter = true
	}

	return cls
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
