package pipeline

import (
	"fmt"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
)

// VariationRequest describes one dataset variation render for identity
// training: img2img over an approved reference image with a variation prompt.
type VariationRequest struct {
	Checkpoint     string `validate:"required"`
	ReferenceImage string `validate:"required"`
	Prompt         string `validate:"required"`
	Seed           int64
	Width          int `validate:"gt=0"`
	Height         int `validate:"gt=0"`
}

// BuildVariationGraph builds the small single-pass graph used to produce one
// training dataset image. Moderate denoise: enough to move pose/lighting,
// not enough to lose the face.
func BuildVariationGraph(req VariationRequest) (*comfy.Graph, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("pipeline: invalid variation request: %w", err)
	}
	g := comfy.New()
	base := g.CheckpointLoader("10", req.Checkpoint)
	ref := g.LoadImage("20", req.ReferenceImage)
	lat := g.VAEEncode("21", ref.Image, base.VAE)
	up := g.LatentUpscale("22", lat.Latent, req.Width, req.Height)
	pos := g.CLIPTextEncode("23", base.CLIP, req.Prompt)
	neg := g.CLIPTextEncode("24", base.CLIP, defaultNegative)
	out := g.KSampler("30", base.Model, pos.Cond, neg.Cond, up.Latent, comfy.SamplerParams{
		Seed:    req.Seed,
		Steps:   26,
		CFG:     7.0,
		Denoise: 0.5,
	})
	final := g.VAEDecode("31", out.Latent, base.VAE)
	g.SaveImage("32", final.Image, "dataset")
	return g, nil
}

// ValidationRequest renders one sample with a freshly trained adapter so its
// fidelity can be scored before deployment.
type ValidationRequest struct {
	Checkpoint  string `validate:"required"`
	AdapterKey  string `validate:"required"`
	TriggerWord string `validate:"required"`
	Seed        int64
	Width       int `validate:"gt=0"`
	Height      int `validate:"gt=0"`
}

// BuildValidationGraph builds a plain txt2img pass through the trained adapter.
func BuildValidationGraph(req ValidationRequest) (*comfy.Graph, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("pipeline: invalid validation request: %w", err)
	}
	adapter := selector.Adapter{Name: req.AdapterKey, StrengthModel: 0.85, StrengthClip: 0.85}
	g := comfy.New()
	base := g.CheckpointLoader("10", req.Checkpoint)
	lora := g.LoraLoader("11", base.Model, base.CLIP, adapter.Name, adapter.StrengthModel, adapter.StrengthClip)
	lat := g.EmptyLatent("20", req.Width, req.Height, 1)
	pos := g.CLIPTextEncode("21", lora.CLIP, req.TriggerWord+", portrait photo, neutral background, looking at camera")
	neg := g.CLIPTextEncode("22", lora.CLIP, defaultNegative)
	out := g.KSampler("30", lora.Model, pos.Cond, neg.Cond, lat.Latent, comfy.SamplerParams{
		Seed:    req.Seed,
		Steps:   30,
		CFG:     7.5,
		Denoise: 1.0,
	})
	final := g.VAEDecode("31", out.Latent, base.VAE)
	g.SaveImage("32", final.Image, "validation")
	return g, nil
}
