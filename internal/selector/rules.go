package selector

import "github.com/G858-debug/No-Safe-Word-sub002/internal/domain"

// Adapter is one LoRA with its table-constant strengths.
type Adapter struct {
	Name          string
	StrengthModel float64
	StrengthClip  float64
}

// Selection is the concrete resource choice for one generation request.
// Always fully populated; FellBack signals a degraded but valid selection.
type Selection struct {
	Checkpoint        string
	Adapters          []Adapter
	NegativeAdditions string
	FellBack          bool
	Reason            string
}

// DefaultCheckpoint is the guaranteed fallback base model.
const DefaultCheckpoint = "juggernautXL_v9Rundiffusion.safetensors"

const (
	checkpointRealism  = "realvisxlV50_v50Bakedvae.safetensors"
	checkpointIntimate = "lustifySDXL_v40.safetensors"
)

// Generic adapter inventory baked into the worker image.
var (
	adapterBetterBodies = Adapter{Name: "better-bodies-xl.safetensors", StrengthModel: 0.55, StrengthClip: 0.55}
	adapterCineColor    = Adapter{Name: "cinecolor-harmonizer.safetensors", StrengthModel: 0.3, StrengthClip: 0.3}
	adapterMelaninMix   = Adapter{Name: "melanin-mix-xl.safetensors", StrengthModel: 0.35, StrengthClip: 0.35}
	adapterCouplesPoses = Adapter{Name: "couples-poses-xl.safetensors", StrengthModel: 0.7, StrengthClip: 0.7}
)

// rule maps a classification shape onto a resource choice. Nil match fields
// are wildcards. Rules are evaluated in order; first match wins.
type rule struct {
	name         string
	explicitness []Explicitness
	pose         []PoseComplexity
	dual         *bool
	kinds        []domain.SceneKind

	checkpoint string
	adapters   []Adapter
	negative   string
}

func boolPtr(b bool) *bool { return &b }

// ruleTable is ordered by priority, most specific first.
var ruleTable = []rule{
	{
		name:         "dual-explicit",
		explicitness: []Explicitness{ExplicitnessExplicit},
		dual:         boolPtr(true),
		checkpoint:   checkpointIntimate,
		adapters:     []Adapter{adapterCouplesPoses, adapterBetterBodies, adapterMelaninMix},
		negative:     "extra limbs, merged bodies, fused fingers, duplicated face",
	},
	{
		name:       "dual-any",
		dual:       boolPtr(true),
		checkpoint: checkpointRealism,
		adapters:   []Adapter{adapterCouplesPoses, adapterMelaninMix},
		negative:   "extra limbs, merged bodies, duplicated face",
	},
	{
		name:         "explicit-single",
		explicitness: []Explicitness{ExplicitnessExplicit},
		checkpoint:   checkpointIntimate,
		adapters:     []Adapter{adapterBetterBodies, adapterMelaninMix},
		negative:     "deformed anatomy, extra limbs",
	},
	{
		name:         "suggestive",
		explicitness: []Explicitness{ExplicitnessSuggestive},
		checkpoint:   checkpointRealism,
		adapters:     []Adapter{adapterBetterBodies, adapterCineColor, adapterMelaninMix},
		negative:     "deformed anatomy",
	},
	{
		name:       "complex-pose",
		pose:       []PoseComplexity{PoseComplex},
		checkpoint: checkpointRealism,
		adapters:   []Adapter{adapterBetterBodies, adapterMelaninMix},
		negative:   "bad anatomy, broken limbs, dislocated joints",
	},
	{
		name:       "portrait-tame",
		kinds:      []domain.SceneKind{domain.SceneKindPortrait},
		checkpoint: checkpointRealism,
		adapters:   []Adapter{adapterCineColor, adapterMelaninMix},
	},
}

func (r rule) matches(cls Classification, kind domain.SceneKind) bool {
	if r.dual != nil && *r.dual != cls.DualCharacter {
		return false
	}
	if len(r.explicitness) > 0 && !containsExplicitness(r.explicitness, cls.Explicitness) {
		return false
	}
	if len(r.pose) > 0 && !containsPose(r.pose, cls.PoseComplexity) {
		return false
	}
	if len(r.kinds) > 0 && !containsKind(r.kinds, kind) {
		return false
	}
	return true
}

func containsExplicitness(list []Explicitness, v Explicitness) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func containsPose(list []PoseComplexity, v PoseComplexity) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

func containsKind(list []domain.SceneKind, v domain.SceneKind) bool {
	for _, k := range list {
		if k == v {
			return true
		}
	}
	return false
}

// Options tunes a Select call.
type Options struct {
	// ForceModel bypasses the rule table entirely: the named checkpoint is
	// used verbatim with no inferred adapters. Diagnostic escape hatch.
	ForceModel string
}

// Select is a total function from classification to resources. It never
// fails: when no rule matches it falls back to the default checkpoint with
// an empty adapter list and a human-readable reason.
func Select(cls Classification, kind domain.SceneKind, opts Options) Selection {
	if opts.ForceModel != "" {
		return Selection{
			Checkpoint: opts.ForceModel,
			Adapters:   []Adapter{},
			Reason:     "forced model override",
		}
	}
	for _, r := range ruleTable {
		if r.matches(cls, kind) {
			return Selection{
				Checkpoint:        r.checkpoint,
				Adapters:          append([]Adapter(nil), r.adapters...),
				NegativeAdditions: r.negative,
				Reason:            "rule: " + r.name,
			}
		}
	}
	return Selection{
		Checkpoint: DefaultCheckpoint,
		Adapters:   []Adapter{},
		FellBack:   true,
		Reason:     "no rule matched",
	}
}
