// Package comfy builds ComfyUI prompt graphs as typed Go values.
//
// A graph is the JSON mapping submitted to the execution backend: node id ->
// {class_type, inputs}, where an input is either a literal or a [nodeId, slot]
// reference to another node's output. Node constructors return typed output
// handles so wiring mistakes fail at compile time instead of inside the
// worker's workflow validation.
package comfy

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeID identifies one node in the graph.
type NodeID string

// Ref points at a specific output slot of another node.
type Ref struct {
	Node NodeID
	Slot int
}

// MarshalJSON encodes the reference in ComfyUI's [nodeId, slot] form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{string(r.Node), r.Slot})
}

// Node is one operation in the graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is an acyclic ComfyUI prompt graph under construction.
type Graph struct {
	nodes map[NodeID]Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]Node)}
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in lexical order. Useful in tests and debug dumps.
func (g *Graph) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON renders the graph in the wire format expected by all backends.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := make(map[string]Node, len(g.nodes))
	for id, n := range g.nodes {
		out[string(id)] = n
	}
	return json.Marshal(out)
}

// add registers a node. Pass-indexed id namespacing makes collisions a
// programming error, so this panics rather than returning an error.
func (g *Graph) add(id NodeID, classType string, inputs map[string]any) {
	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("comfy: duplicate node id %q (%s)", id, classType))
	}
	g.nodes[id] = Node{ClassType: classType, Inputs: inputs}
}
