package pipeline

import (
	"fmt"
	"strconv"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
)

// Pass 1 renders at 1/compositionScale of the target resolution; layout and
// pose survive the upscale, detail does not need to.
const compositionScale = 1.6

const defaultNegative = "lowres, bad hands, bad anatomy, watermark, text, jpeg artifacts"

// Shared nodes live below 100; each pass owns a hundred-range (4.5 and 5.5
// take the 450/550 sub-ranges); diagnostic taps start at 800.
const (
	nodeCheckpoint = 10
	nodeNegative   = 11
	debugBase      = 800
)

var passNodeBase = map[float64]int{
	1:   100,
	2:   200,
	3:   300,
	4:   400,
	4.5: 450,
	5:   500,
	5.5: 550,
	7:   700,
}

// Result is a fully built pipeline.
type Result struct {
	Graph  *comfy.Graph
	Passes []PassSpec
	Seeds  PassSeeds
}

// FinalSaveTag is the filename prefix of the terminal save node.
const FinalSaveTag = "nsw_final"

// Build assembles the multi-pass refinement graph for one scene. Six passes
// for single-character scenes, eight when a secondary character is present.
// The request is validated up front; the returned graph carries no further
// runtime validation.
func Build(req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	seeds := DeriveSeeds(req.BaseSeed)
	passes := buildPassSpecs(req, seeds)
	if err := validatePasses(passes); err != nil {
		return nil, err
	}

	b := &graphBuilder{g: comfy.New(), req: req}
	b.buildShared()
	b.buildPasses(passes)

	return &Result{Graph: b.g, Passes: passes, Seeds: seeds}, nil
}

func buildPassSpecs(req Request, seeds PassSeeds) []PassSpec {
	dual := req.Secondary != nil
	compW := roundToLatentGrid(int(float64(req.Width) / compositionScale))
	compH := roundToLatentGrid(int(float64(req.Height) / compositionScale))

	passes := []PassSpec{
		{
			Index: 1, Name: "composition",
			Prompt: req.Prompt,
			Seed:   seeds.Pass1, Steps: 28, CFG: 8.5, Denoise: 1.0,
			Width: compW, Height: compH,
			OutputTag: "pass1_composition",
		},
		{
			Index: 2, Name: "identity",
			Prompt:   withTrigger(req.Primary, req.Prompt),
			Adapters: adapterList(req.Primary.Adapter),
			Seed:     seeds.Pass2, Steps: 30, CFG: 7.5, Denoise: 0.55,
			Width: req.Width, Height: req.Height,
			OutputTag: "pass2_identity",
		},
		{
			Index: 3, Name: "quality",
			Prompt: req.Prompt,
			// Generic adapters only. Character adapters are excluded here so
			// identities cannot cross-contaminate in dual-character scenes.
			Adapters: append([]selector.Adapter(nil), req.Selection.Adapters...),
			Seed:     seeds.Pass3, Steps: 24, CFG: 7.0, Denoise: 0.3,
			OutputTag: "pass3_quality",
		},
		{
			Index: 4, Name: "person_inpaint_primary",
			Prompt:   bodyPrompt(req.Primary),
			Adapters: personAdapters(req.Primary),
			Seed:     seeds.Pass4A, Steps: 20, CFG: 7.0, Denoise: 0.35,
			OutputTag: "pass4_person_primary",
		},
	}

	if dual {
		passes = append(passes, PassSpec{
			Index: 4.5, Name: "person_inpaint_secondary",
			Prompt:   bodyPrompt(*req.Secondary),
			Adapters: personAdapters(*req.Secondary),
			Seed:     seeds.Pass4B, Steps: 20, CFG: 7.0, Denoise: 0.35,
			OutputTag: "pass4b_person_secondary",
		})
	}

	if !req.SkipFaceDetailer {
		passes = append(passes, PassSpec{
			Index: 5, Name: "face_refine_primary",
			Prompt:   facePrompt(req.Primary),
			Adapters: adapterList(req.Primary.Adapter),
			Seed:     seeds.Pass5A, Steps: 20, CFG: 8.0, Denoise: 0.45,
			OutputTag: "pass5_face_primary",
		})
		if dual {
			passes = append(passes, PassSpec{
				Index: 5.5, Name: "face_refine_secondary",
				Prompt:   facePrompt(*req.Secondary),
				Adapters: adapterList(req.Secondary.Adapter),
				Seed:     seeds.Pass5B, Steps: 20, CFG: 8.0, Denoise: 0.45,
				OutputTag: "pass5b_face_secondary",
			})
		}
	}

	passes = append(passes, PassSpec{
		Index: 7, Name: "cleanup",
		Prompt: req.Prompt,
		Seed:   seeds.Pass7, Steps: 12, CFG: 5.0, Denoise: 0.05,
		OutputTag: "pass7_cleanup",
	})

	return passes
}

type graphBuilder struct {
	g   *comfy.Graph
	req Request

	base     comfy.ModelOut
	negative comfy.CondOut

	debugSeq int
}

func (b *graphBuilder) buildShared() {
	b.base = b.g.CheckpointLoader(nid(nodeCheckpoint, 0), b.req.Selection.Checkpoint)
	negText := defaultNegative
	if b.req.Selection.NegativeAdditions != "" {
		negText += ", " + b.req.Selection.NegativeAdditions
	}
	b.negative = b.g.CLIPTextEncode(nid(nodeNegative, 0), b.base.CLIP, negText)
}

func (b *graphBuilder) buildPasses(passes []PassSpec) {
	dual := b.req.Secondary != nil

	specs := make(map[float64]PassSpec, len(passes))
	for _, p := range passes {
		specs[p.Index] = p
	}

	// Pass 1: composition at reduced resolution, base model only.
	p1 := specs[1]
	lat := b.g.EmptyLatent(b.nid(1, 1), p1.Width, p1.Height, 1)
	pos1 := b.encode(1, 2, b.base.CLIP, p1.Prompt)
	cur := b.sample(1, b.base.Model, pos1, lat, p1)

	// Pass 2: upscale to target and inject the primary identity.
	p2 := specs[2]
	up := b.g.LatentUpscale(b.nid(2, 1), cur.Latent, p2.Width, p2.Height)
	model2, clip2 := b.chainAdapters(2, 2, p2.Adapters)
	pos2 := b.encode(2, 5, clip2, p2.Prompt)
	cur = b.sample(2, model2, pos2, up, p2)

	// Pass 3: quality adapters, light denoise.
	p3 := specs[3]
	model3, clip3 := b.chainAdapters(3, 1, p3.Adapters)
	pos3 := b.encode(3, 6, clip3, p3.Prompt)
	cur = b.sample(3, model3, pos3, cur, p3)

	// Pass 4: region-local person re-synthesis for the primary character.
	p4 := specs[4]
	img4 := b.g.VAEDecode(b.nid(4, 1), cur.Latent, b.base.VAE)
	var mask4 comfy.MaskOut
	if dual {
		// Left region for the primary; feathered so the seam stays soft.
		mask4 = b.g.SoftRegionMask(b.nid(4, 2), b.req.Width, b.req.Height, 0.0, 0.55, 0.1)
	} else {
		mask4 = b.g.PersonMask(b.nid(4, 2), img4.Image, "person_yolov8m-seg.pt")
	}
	enc4 := b.g.VAEEncode(b.nid(4, 3), img4.Image, b.base.VAE)
	masked4 := b.g.SetLatentNoiseMask(b.nid(4, 4), enc4.Latent, mask4.Mask)
	model4, clip4 := b.chainAdapters(4, 5, p4.Adapters)
	pos4 := b.encode(4, 8, clip4, p4.Prompt)
	cur = b.sample(4, model4, pos4, masked4, p4)

	if dual {
		p45 := specs[4.5]
		mask45 := b.g.SoftRegionMask(b.nid(4.5, 2), b.req.Width, b.req.Height, 0.45, 1.0, 0.1)
		masked45 := b.g.SetLatentNoiseMask(b.nid(4.5, 4), cur.Latent, mask45.Mask)
		model45, clip45 := b.chainAdapters(4.5, 5, p45.Adapters)
		pos45 := b.encode(4.5, 8, clip45, p45.Prompt)
		cur = b.sample(4.5, model45, pos45, masked45, p45)
	}

	// Pass 5: face-region refinement, one detailer per character.
	var faceOut comfy.ImageOut
	haveFace := !b.req.SkipFaceDetailer
	if haveFace {
		p5 := specs[5]
		img5 := b.g.VAEDecode(b.nid(5, 1), cur.Latent, b.base.VAE)
		faceOut = b.faceDetail(5, img5, p5)
		if dual {
			faceOut = b.faceDetail(5.5, faceOut, specs[5.5])
		}
	}

	// Pass 7: near-zero denoise cleanup on the base checkpoint alone.
	p7 := specs[7]
	var cleanIn comfy.LatentOut
	if haveFace {
		cleanIn = b.g.VAEEncode(b.nid(7, 1), faceOut.Image, b.base.VAE)
	} else {
		cleanIn = cur
	}
	pos7 := b.encode(7, 2, b.base.CLIP, p7.Prompt)
	out7 := b.sample(7, b.base.Model, pos7, cleanIn, p7)
	final := b.g.VAEDecode(b.nid(7, 11), out7.Latent, b.base.VAE)
	b.g.SaveImage(b.nid(7, 12), final.Image, FinalSaveTag)
}

// faceDetail wires one face refinement pass taking and returning pixels.
func (b *graphBuilder) faceDetail(index float64, in comfy.ImageOut, p PassSpec) comfy.ImageOut {
	det := b.g.UltralyticsDetector(b.nid(index, 2), "bbox/face_yolov8m.pt")
	model, clip := b.chainAdapters(index, 3, p.Adapters)
	pos := b.encode(index, 6, clip, p.Prompt)
	out := b.g.FaceDetailer(b.samplerID(index), in.Image, model, clip, b.base.VAE, pos.Cond, b.negative.Cond, det.Detector, samplerParams(p))
	if b.req.Debug {
		b.tapImage(out, p.OutputTag)
	}
	return out
}

// sample wires one KSampler node at the pass's sampling slot and, in debug
// mode, taps its decoded output.
func (b *graphBuilder) sample(index float64, model comfy.Ref, pos comfy.CondOut, latent comfy.LatentOut, p PassSpec) comfy.LatentOut {
	out := b.g.KSampler(b.samplerID(index), model, pos.Cond, b.negative.Cond, latent.Latent, samplerParams(p))
	if b.req.Debug {
		dec := b.g.VAEDecode(b.debugID(), out.Latent, b.base.VAE)
		b.tapImage(dec, p.OutputTag)
	}
	return out
}

func (b *graphBuilder) tapImage(img comfy.ImageOut, tag string) {
	b.g.SaveImage(b.debugID(), img.Image, "debug/"+tag)
}

// chainAdapters stacks LoRA loaders over the shared checkpoint in order and
// returns the resulting model/clip pair.
func (b *graphBuilder) chainAdapters(index float64, startOffset int, adapters []selector.Adapter) (comfy.Ref, comfy.Ref) {
	model, clip := b.base.Model, b.base.CLIP
	for i, a := range adapters {
		out := b.g.LoraLoader(b.nid(index, startOffset+i), model, clip, a.Name, a.StrengthModel, a.StrengthClip)
		model, clip = out.Model, out.CLIP
	}
	return model, clip
}

func (b *graphBuilder) encode(index float64, offset int, clip comfy.Ref, text string) comfy.CondOut {
	return b.g.CLIPTextEncode(b.nid(index, offset), clip, text)
}

// samplerID is the fixed sampling-node slot (+10) within a pass's range, so
// tests and debug tooling can locate each pass's sampler deterministically.
func (b *graphBuilder) samplerID(index float64) comfy.NodeID {
	return b.nid(index, 10)
}

func (b *graphBuilder) nid(index float64, offset int) comfy.NodeID {
	base, ok := passNodeBase[index]
	if !ok {
		panic(fmt.Sprintf("pipeline: no node range for pass %v", index))
	}
	return nid(base, offset)
}

func (b *graphBuilder) debugID() comfy.NodeID {
	id := nid(debugBase, b.debugSeq)
	b.debugSeq++
	return id
}

func nid(base, offset int) comfy.NodeID {
	return comfy.NodeID(strconv.Itoa(base + offset))
}

func samplerParams(p PassSpec) comfy.SamplerParams {
	return comfy.SamplerParams{
		Seed:    p.Seed,
		Steps:   p.Steps,
		CFG:     p.CFG,
		Denoise: p.Denoise,
	}
}

func withTrigger(c CharacterRef, prompt string) string {
	if c.TriggerWord == "" {
		return prompt
	}
	return c.TriggerWord + ", " + prompt
}

func bodyPrompt(c CharacterRef) string {
	return withTrigger(c, "detailed body, natural skin texture, correct anatomy")
}

func facePrompt(c CharacterRef) string {
	return withTrigger(c, "detailed face, sharp eyes, natural expression")
}

func adapterList(a *selector.Adapter) []selector.Adapter {
	if a == nil {
		return nil
	}
	return []selector.Adapter{*a}
}

func personAdapters(c CharacterRef) []selector.Adapter {
	out := adapterList(c.Adapter)
	if ga, ok := selector.GenderAdapter(c.Gender); ok {
		out = append(out, ga)
	}
	return out
}

func roundToLatentGrid(v int) int {
	v -= v % 8
	if v < 64 {
		v = 64
	}
	return v
}
