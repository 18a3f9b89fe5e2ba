// Package circuit wires many Intcode engines together: chains, rings with
// feedback, and a packet network arbitrated by a NAT.
package circuit

import (
	"errors"
	"fmt"
)

// ErrTopology reports an invalid node graph.
var ErrTopology = errors.New("circuit: invalid topology")

// Edge carries one engine's output to another engine's input.
type Edge struct {
	From, To int
}

// Topology is a directed graph of engine ids in which every node has at
// most one inbound and one outbound edge.
type Topology struct {
	nodes   int
	edges   []Edge
	closing *Edge
}

// NewTopology validates edges over nodes 0..n-1.
func NewTopology(n int, edges ...Edge) (*Topology, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d nodes", ErrTopology, n)
	}
	in := make([]bool, n)
	out := make([]bool, n)
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, fmt.Errorf("%w: edge %d->%d outside 0..%d", ErrTopology, e.From, e.To, n-1)
		}
		if out[e.From] {
			return nil, fmt.Errorf("%w: node %d has two outbound edges", ErrTopology, e.From)
		}
		if in[e.To] {
			return nil, fmt.Errorf("%w: node %d has two inbound edges", ErrTopology, e.To)
		}
		out[e.From], in[e.To] = true, true
	}
	return &Topology{nodes: n, edges: append([]Edge(nil), edges...)}, nil
}

// Chain returns 0 -> 1 -> ... -> n-1.
func Chain(n int) (*Topology, error) {
	edges := make([]Edge, 0, n)
	for i := 1; i < n; i++ {
		edges = append(edges, Edge{From: i - 1, To: i})
	}
	return NewTopology(n, edges...)
}

// Ring returns a chain whose last node feeds node 0. The closing edge is
// where the ring's result is observed.
func Ring(n int) (*Topology, error) {
	t, err := Chain(n)
	if err != nil {
		return nil, err
	}
	closing := Edge{From: n - 1, To: 0}
	t.edges = append(t.edges, closing)
	t.closing = &closing
	return t, nil
}

// Nodes returns the node count.
func (t *Topology) Nodes() int { return t.nodes }

// Edges returns a copy of the edge list.
func (t *Topology) Edges() []Edge { return append([]Edge(nil), t.edges...) }

// Closing returns the edge that closes a ring.
func (t *Topology) Closing() (Edge, bool) {
	if t.closing == nil {
		return Edge{}, false
	}
	return *t.closing, true
}

// Inbound returns the edge feeding node, if any.
func (t *Topology) Inbound(node int) (Edge, bool) {
	for _, e := range t.edges {
		if e.To == node {
			return e, true
		}
	}
	return Edge{}, false
}

// Outbound returns the edge leaving node, if any.
func (t *Topology) Outbound(node int) (Edge, bool) {
	for _, e := range t.edges {
		if e.From == node {
			return e, true
		}
	}
	return Edge{}, false
}
