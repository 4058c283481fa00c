package comfy

// Output handle types. Each constructor returns the handle matching the
// node's output slots so downstream wiring is type-checked.

// ModelOut bundles the outputs of a checkpoint loader.
type ModelOut struct {
	Model Ref
	CLIP  Ref
	VAE   Ref
}

// LoraOut bundles the patched model and clip outputs of a LoRA loader.
type LoraOut struct {
	Model Ref
	CLIP  Ref
}

// CondOut is an encoded text conditioning.
type CondOut struct{ Cond Ref }

// LatentOut is a latent image output.
type LatentOut struct{ Latent Ref }

// ImageOut is a decoded pixel image output.
type ImageOut struct{ Image Ref }

// MaskOut is a binary or feathered mask output.
type MaskOut struct{ Mask Ref }

// DetectorOut is a bbox detector provider output.
type DetectorOut struct{ Detector Ref }

// CheckpointLoader loads base model weights and returns model/clip/vae handles.
func (g *Graph) CheckpointLoader(id NodeID, ckptName string) ModelOut {
	g.add(id, "CheckpointLoaderSimple", map[string]any{
		"ckpt_name": ckptName,
	})
	return ModelOut{
		Model: Ref{Node: id, Slot: 0},
		CLIP:  Ref{Node: id, Slot: 1},
		VAE:   Ref{Node: id, Slot: 2},
	}
}

// LoraLoader applies one adapter on top of a model/clip pair.
func (g *Graph) LoraLoader(id NodeID, model, clip Ref, loraName string, strengthModel, strengthClip float64) LoraOut {
	g.add(id, "LoraLoader", map[string]any{
		"model":          model,
		"clip":           clip,
		"lora_name":      loraName,
		"strength_model": strengthModel,
		"strength_clip":  strengthClip,
	})
	return LoraOut{
		Model: Ref{Node: id, Slot: 0},
		CLIP:  Ref{Node: id, Slot: 1},
	}
}

// CLIPTextEncode encodes prompt text into conditioning.
func (g *Graph) CLIPTextEncode(id NodeID, clip Ref, text string) CondOut {
	g.add(id, "CLIPTextEncode", map[string]any{
		"clip": clip,
		"text": text,
	})
	return CondOut{Cond: Ref{Node: id, Slot: 0}}
}

// EmptyLatent creates a blank latent canvas.
func (g *Graph) EmptyLatent(id NodeID, width, height, batch int) LatentOut {
	g.add(id, "EmptyLatentImage", map[string]any{
		"width":      width,
		"height":     height,
		"batch_size": batch,
	})
	return LatentOut{Latent: Ref{Node: id, Slot: 0}}
}

// SamplerParams collects the per-pass sampling knobs.
type SamplerParams struct {
	Seed      int64
	Steps     int
	CFG       float64
	Denoise   float64
	Sampler   string
	Scheduler string
}

// KSampler runs a sampling pass over a latent.
func (g *Graph) KSampler(id NodeID, model, positive, negative Ref, latent Ref, p SamplerParams) LatentOut {
	sampler := p.Sampler
	if sampler == "" {
		sampler = "dpmpp_2m"
	}
	scheduler := p.Scheduler
	if scheduler == "" {
		scheduler = "karras"
	}
	g.add(id, "KSampler", map[string]any{
		"model":        model,
		"positive":     positive,
		"negative":     negative,
		"latent_image": latent,
		"seed":         p.Seed,
		"steps":        p.Steps,
		"cfg":          p.CFG,
		"denoise":      p.Denoise,
		"sampler_name": sampler,
		"scheduler":    scheduler,
	})
	return LatentOut{Latent: Ref{Node: id, Slot: 0}}
}

// LatentUpscale resizes a latent to the target resolution.
func (g *Graph) LatentUpscale(id NodeID, latent Ref, width, height int) LatentOut {
	g.add(id, "LatentUpscale", map[string]any{
		"samples":        latent,
		"upscale_method": "nearest-exact",
		"width":          width,
		"height":         height,
		"crop":           "disabled",
	})
	return LatentOut{Latent: Ref{Node: id, Slot: 0}}
}

// VAEDecode decodes a latent into pixels.
func (g *Graph) VAEDecode(id NodeID, latent, vae Ref) ImageOut {
	g.add(id, "VAEDecode", map[string]any{
		"samples": latent,
		"vae":     vae,
	})
	return ImageOut{Image: Ref{Node: id, Slot: 0}}
}

// VAEEncode encodes pixels back into a latent.
func (g *Graph) VAEEncode(id NodeID, image, vae Ref) LatentOut {
	g.add(id, "VAEEncode", map[string]any{
		"pixels": image,
		"vae":    vae,
	})
	return LatentOut{Latent: Ref{Node: id, Slot: 0}}
}

// SaveImage writes an image output under the given filename prefix.
func (g *Graph) SaveImage(id NodeID, image Ref, prefix string) {
	g.add(id, "SaveImage", map[string]any{
		"images":          image,
		"filename_prefix": prefix,
	})
}

// SoftRegionMask creates a feathered horizontal region mask. Backed by the
// NSWCreateSoftRegionMask custom node shipped with the worker image.
func (g *Graph) SoftRegionMask(id NodeID, width, height int, startPct, endPct, featherPct float64) MaskOut {
	g.add(id, "NSWCreateSoftRegionMask", map[string]any{
		"width":       width,
		"height":      height,
		"start_pct":   startPct,
		"end_pct":     endPct,
		"feather_pct": featherPct,
	})
	return MaskOut{Mask: Ref{Node: id, Slot: 0}}
}

// PersonMask derives a person-region mask from pixels using an Ultralytics
// segmentation model.
func (g *Graph) PersonMask(id NodeID, image Ref, modelName string) MaskOut {
	g.add(id, "PersonMaskUltra", map[string]any{
		"images":     image,
		"model_name": modelName,
		"confidence": 0.4,
	})
	return MaskOut{Mask: Ref{Node: id, Slot: 0}}
}

// SetLatentNoiseMask restricts re-noising of a latent to the masked region.
func (g *Graph) SetLatentNoiseMask(id NodeID, latent, mask Ref) LatentOut {
	g.add(id, "SetLatentNoiseMask", map[string]any{
		"samples": latent,
		"mask":    mask,
	})
	return LatentOut{Latent: Ref{Node: id, Slot: 0}}
}

// UltralyticsDetector loads a bbox detector used by the face detailer.
func (g *Graph) UltralyticsDetector(id NodeID, modelName string) DetectorOut {
	g.add(id, "UltralyticsDetectorProvider", map[string]any{
		"model_name": modelName,
	})
	return DetectorOut{Detector: Ref{Node: id, Slot: 0}}
}

// FaceDetailer detects faces in an image and re-synthesizes each region.
func (g *Graph) FaceDetailer(id NodeID, image Ref, model, clip, vae Ref, positive, negative Ref, detector Ref, p SamplerParams) ImageOut {
	sampler := p.Sampler
	if sampler == "" {
		sampler = "dpmpp_2m"
	}
	scheduler := p.Scheduler
	if scheduler == "" {
		scheduler = "karras"
	}
	g.add(id, "FaceDetailer", map[string]any{
		"image":         image,
		"model":         model,
		"clip":          clip,
		"vae":           vae,
		"positive":      positive,
		"negative":      negative,
		"bbox_detector": detector,
		"seed":          p.Seed,
		"steps":         p.Steps,
		"cfg":           p.CFG,
		"denoise":       p.Denoise,
		"sampler_name":  sampler,
		"scheduler":     scheduler,
		"feather":       5,
		"crop_factor":   3.0,
	})
	return ImageOut{Image: Ref{Node: id, Slot: 0}}
}

// LoadImage loads a stored reference image by name.
func (g *Graph) LoadImage(id NodeID, name string) ImageOut {
	g.add(id, "LoadImage", map[string]any{
		"image": name,
	})
	return ImageOut{Image: Ref{Node: id, Slot: 0}}
}
