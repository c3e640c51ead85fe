package intakeflow

import (
	"slices"
)

// FlowGraph is a validated, immutable flow version. It is safe for
// concurrent use by any number of interpreters.
type FlowGraph struct {
	def       FlowDefinition
	nodes     map[string]Node
	order     []string
	questions int
	warnings  []Warning
}

// Key identifies the flow version a session is pinned to: "id@version".
func (g *FlowGraph) Key() string {
	return FlowKey(g.def.ID, g.def.Version)
}

// FlowKey formats a flow id and version the way FlowGraph.Key does.
func FlowKey(id, version string) string {
	return id + "@" + version
}

// ID returns the flow id.
func (g *FlowGraph) ID() string { return g.def.ID }

// Name returns the flow display name.
func (g *FlowGraph) Name() string { return g.def.Name }

// Version returns the flow version.
func (g *FlowGraph) Version() string { return g.def.Version }

// StartNodeID returns the entry node id.
func (g *FlowGraph) StartNodeID() string { return g.def.StartNodeID }

// MaxQuestions returns the authored question budget.
func (g *FlowGraph) MaxQuestions() int { return g.def.MaxQuestions }

// Node returns the node with the given id.
func (g *FlowGraph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports whether id names a node in the graph.
func (g *FlowGraph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodeIDs returns node ids in authored order.
func (g *FlowGraph) NodeIDs() []string {
	return slices.Clone(g.order)
}

// Len returns the number of nodes.
func (g *FlowGraph) Len() int { return len(g.nodes) }

// QuestionCount returns the number of question nodes.
func (g *FlowGraph) QuestionCount() int { return g.questions }

// Warnings returns the non-fatal findings from validation.
func (g *FlowGraph) Warnings() []Warning {
	return slices.Clone(g.warnings)
}

// Enum returns the members of a named enum.
func (g *FlowGraph) Enum(name string) ([]string, bool) {
	v, ok := g.def.Enums[name]
	return slices.Clone(v), ok
}

// Personas returns the authored personas.
func (g *FlowGraph) Personas() []Persona {
	return slices.Clone(g.def.Personas)
}

// Definition returns a copy of the normalized definition the graph was
// built from.
func (g *FlowGraph) Definition() FlowDefinition {
	return g.def.clone()
}

// questionsInOrder returns question nodes in authored order.
func (g *FlowGraph) questionsInOrder() []*QuestionNode {
	var out []*QuestionNode
	for _, id := range g.order {
		if q, ok := g.nodes[id].(*QuestionNode); ok {
			out = append(out, q)
		}
	}
	return out
}
