package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// Edge is a transition between two workflow states
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Topology describes the workflow graph for visualization
type Topology struct {
	States    []string `json:"states"`
	Edges     []Edge   `json:"edges"`
	Entry     string   `json:"entry"`
	Terminals []string `json:"terminals"`
	Cyclic    bool     `json:"cyclic"`
}

// edges lists every transition the engine can take
var edges = []struct {
	from, to Node
	label    string
}{
	{NodeStart, NodeDecide, ""},
	{NodeDecide, NodeGather, "request_evidence"},
	{NodeDecide, NodeCompose, "compose_now"},
	{NodeGather, NodeExtract, ""},
	{NodeExtract, NodeDecide, ""},
	{NodeCompose, NodeScore, "drafted"},
	{NodeCompose, NodeEnd, "template fallback or deadline"},
	{NodeScore, NodeEnd, "accepted, exhausted or deadline"},
	{NodeScore, NodeDecide, "below threshold"},
	{NodeStart, NodeEnd, "deadline"},
	{NodeDecide, NodeEnd, "deadline"},
	{NodeGather, NodeEnd, "deadline"},
	{NodeExtract, NodeEnd, "deadline"},
	{NodeStart, NodeFailed, "cancelled"},
	{NodeDecide, NodeFailed, "cancelled"},
	{NodeGather, NodeFailed, "cancelled"},
	{NodeExtract, NodeFailed, "cancelled"},
	{NodeCompose, NodeFailed, "cancelled"},
	{NodeScore, NodeFailed, "cancelled"},
}

// Describe returns the workflow topology. Cyclic is computed from the edges.
func Describe() Topology {
	t := Topology{
		Entry:     NodeStart.String(),
		Terminals: []string{NodeEnd.String(), NodeFailed.String()},
	}
	for n := NodeStart; n <= NodeFailed; n++ {
		t.States = append(t.States, n.String())
	}
	for _, e := range edges {
		t.Edges = append(t.Edges, Edge{From: e.from.String(), To: e.to.String(), Label: e.label})
	}
	t.Cyclic = hasCycle(t.States, t.Edges)
	return t
}

// hasCycle runs a depth-first search looking for a back edge
func hasCycle(states []string, edges []Edge) bool {
	adj := make(map[string][]string, len(states))
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(states))

	var visit func(string) bool
	visit = func(n string) bool {
		mark[n] = visiting
		for _, next := range adj[n] {
			switch mark[next] {
			case visiting:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		mark[n] = done
		return false
	}

	for _, s := range states {
		if mark[s] == unvisited && visit(s) {
			return true
		}
	}
	return false
}

// Mermaid renders the topology as a Mermaid flowchart
func (t Topology) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, s := range t.States {
		switch {
		case s == t.Entry:
			fmt.Fprintf(&b, "    %s([%s])\n", s, s)
		case slices.Contains(t.Terminals, s):
			fmt.Fprintf(&b, "    %s((%s))\n", s, s)
		default:
			fmt.Fprintf(&b, "    %s[%s]\n", s, s)
		}
	}
	for _, e := range t.Edges {
		if e.Label == "" {
			fmt.Fprintf(&b, "    %s --> %s\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&b, "    %s -->|%s| %s\n", e.From, e.Label, e.To)
	}
	return b.String()
}
