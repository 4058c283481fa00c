package comfy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefMarshalsToPairForm(t *testing.T) {
	raw, err := json.Marshal(Ref{Node: "10", Slot: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `["10", 2]`, string(raw))
}

func TestGraphMarshalShape(t *testing.T) {
	g := New()
	base := g.CheckpointLoader("10", "base.safetensors")
	g.CLIPTextEncode("11", base.CLIP, "hello")

	raw, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)

	enc := decoded["11"]
	assert.Equal(t, "CLIPTextEncode", enc["class_type"])
	inputs := enc["inputs"].(map[string]any)
	assert.Equal(t, []any{"10", float64(1)}, inputs["clip"])
	assert.Equal(t, "hello", inputs["text"])
}

func TestDuplicateNodeIDPanics(t *testing.T) {
	g := New()
	g.CheckpointLoader("10", "a.safetensors")
	assert.Panics(t, func() {
		g.CheckpointLoader("10", "b.safetensors")
	})
}

func TestNodeIDsSorted(t *testing.T) {
	g := New()
	base := g.CheckpointLoader("30", "base.safetensors")
	g.CLIPTextEncode("11", base.CLIP, "x")
	g.CLIPTextEncode("20", base.CLIP, "y")

	assert.Equal(t, []NodeID{"11", "20", "30"}, g.NodeIDs())
}

func TestCheckpointLoaderSlots(t *testing.T) {
	g := New()
	out := g.CheckpointLoader("10", "base.safetensors")
	assert.Equal(t, Ref{Node: "10", Slot: 0}, out.Model)
	assert.Equal(t, Ref{Node: "10", Slot: 1}, out.CLIP)
	assert.Equal(t, Ref{Node: "10", Slot: 2}, out.VAE)
}

func TestKSamplerDefaults(t *testing.T) {
	g := New()
	base := g.CheckpointLoader("10", "base.safetensors")
	pos := g.CLIPTextEncode("11", base.CLIP, "pos")
	neg := g.CLIPTextEncode("12", base.CLIP, "neg")
	lat := g.EmptyLatent("13", 512, 512, 1)
	g.KSampler("14", base.Model, pos.Cond, neg.Cond, lat.Latent, SamplerParams{Seed: 1, Steps: 20, CFG: 7, Denoise: 1})

	node, ok := g.Node("14")
	require.True(t, ok)
	assert.Equal(t, "dpmpp_2m", node.Inputs["sampler_name"])
	assert.Equal(t, "karras", node.Inputs["scheduler"])
}

func TestSoftRegionMaskNode(t *testing.T) {
	g := New()
	g.SoftRegionMask("40", 1024, 768, 0.0, 0.55, 0.1)

	node, ok := g.Node("40")
	require.True(t, ok)
	assert.Equal(t, "NSWCreateSoftRegionMask", node.ClassType)
	assert.Equal(t, 0.55, node.Inputs["end_pct"])
	assert.Equal(t, 0.1, node.Inputs["feather_pct"])
}
