package intakeflow

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
)

func TestValidate_ValidFlow(t *testing.T) {
	g := mustGraph(t, cleaningDef())

	assert.Equal(t, "cleaning@1", g.Key())
	assert.Equal(t, "cleaning", g.ID())
	assert.Equal(t, "House cleaning intake", g.Name())
	assert.Equal(t, "welcome", g.StartNodeID())
	assert.Equal(t, 9, g.Len())
	assert.Equal(t, 6, g.QuestionCount())
	assert.Empty(t, g.Warnings())
	assert.Equal(t, []string{
		"welcome", "service", "deep_details", "pets", "pet_details",
		"bedrooms", "email", "review", "book",
	}, g.NodeIDs())

	n, ok := g.Node("pets")
	require.True(t, ok)
	q := n.(*QuestionNode)
	assert.Equal(t, KindQuestion, q.Kind())
	assert.Equal(t, "pets", q.Key, "key defaults to the node id")
	assert.True(t, q.Input.Required, "required defaults to true")
	assert.Equal(t, []string{"pet_details", "bedrooms"}, q.Successors())

	members, ok := g.Enum("services")
	require.True(t, ok)
	assert.Equal(t, []string{"standard", "deep", "move_out"}, members)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	def := cleaningDef()
	def.Nodes = append(def.Nodes, NodeSpec{
		ID: "size", Type: "question", Question: "Size?", InputType: "single_select", OptionsEnum: "services",
	})
	_, err := Validate(def, WithValidationLogger(nil))
	require.NoError(t, err)

	last := def.Nodes[len(def.Nodes)-1]
	assert.Nil(t, last.Options, "enum expansion happens on a copy")
	assert.Empty(t, last.Key)
	assert.Nil(t, last.Required)
}

func TestValidate_EnumExpansion(t *testing.T) {
	def := cleaningDef()
	def.Nodes[2].Next = "size"
	def.Nodes = append(def.Nodes, NodeSpec{
		ID: "size", Type: "question", Question: "Size?", InputType: "single_select",
		OptionsEnum: "services", Next: "pets",
	})
	g := mustGraph(t, def)

	n, _ := g.Node("size")
	assert.Equal(t, []Option{
		{Key: "standard", Label: "standard"},
		{Key: "deep", Label: "deep"},
		{Key: "move_out", Label: "move_out"},
	}, n.(*QuestionNode).Input.Options)
}

func TestValidate_Defects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlowDefinition)
		want   error
	}{
		{"missing id", func(d *FlowDefinition) { d.ID = "" }, ErrMissingFlowID},
		{"missing name", func(d *FlowDefinition) { d.Name = " " }, ErrMissingFlowName},
		{"missing version", func(d *FlowDefinition) { d.Version = "" }, ErrMissingFlowVersion},
		{"missing start", func(d *FlowDefinition) { d.StartNodeID = "" }, ErrMissingStartNode},
		{"start not found", func(d *FlowDefinition) { d.StartNodeID = "nope" }, ErrStartNodeNotFound},
		{"max questions", func(d *FlowDefinition) { d.MaxQuestions = 0 }, ErrInvalidMaxQuestions},
		{"no nodes", func(d *FlowDefinition) { d.Nodes = nil }, ErrNoNodes},
		{"missing node id", func(d *FlowDefinition) { d.Nodes[8].ID = "" }, ErrMissingNodeID},
		{"duplicate node id", func(d *FlowDefinition) { d.Nodes[8].ID = "review" }, ErrDuplicateNodeID},
		{"missing type", func(d *FlowDefinition) { d.Nodes[0].Type = "" }, ErrMissingNodeType},
		{"unknown type", func(d *FlowDefinition) { d.Nodes[0].Type = "banner" }, ErrUnknownNodeType},
		{"missing question text", func(d *FlowDefinition) { d.Nodes[1].Question = "" }, ErrMissingQuestionText},
		{"missing input type", func(d *FlowDefinition) { d.Nodes[1].InputType = "" }, ErrMissingInputType},
		{"unknown input type", func(d *FlowDefinition) { d.Nodes[1].InputType = "slider" }, ErrUnknownInputType},
		{"missing options", func(d *FlowDefinition) { d.Nodes[1].Options = nil }, ErrMissingOptions},
		{"duplicate option", func(d *FlowDefinition) { d.Nodes[1].Options[1].Key = "Standard" }, ErrDuplicateOption},
		{"missing message text", func(d *FlowDefinition) { d.Nodes[0].Text = "" }, ErrMissingMessageText},
		{"dangling next", func(d *FlowDefinition) { d.Nodes[0].Next = "ghost" }, ErrDanglingReference},
		{"dangling transition", func(d *FlowDefinition) { d.Nodes[1].Transitions[0].Target = "ghost" }, ErrDanglingReference},
		{"empty follow-up target", func(d *FlowDefinition) { d.Nodes[3].FollowUps[0].Target = "" }, ErrDanglingReference},
		{"dangling default", func(d *FlowDefinition) { d.Nodes[7].DefaultNext = "ghost" }, ErrDanglingReference},
		{"bad pattern", func(d *FlowDefinition) { d.Nodes[4].Validation.Pattern = "([a-z" }, ErrInvalidPattern},
		{"bad predicate", func(d *FlowDefinition) { d.Nodes[3].FollowUps[0].Predicate = "collected.pets ==" }, ErrInvalidPredicate},
		{"unknown options enum", func(d *FlowDefinition) { d.Nodes[1].OptionsEnum = "sizes" }, ErrUnknownEnum},
		{"unknown mapping enum", func(d *FlowDefinition) { d.ConfigMappings[0].Enum = "sizes" }, ErrUnknownEnum},
		{"mapping without source", func(d *FlowDefinition) { d.ConfigMappings[1].Source = "" }, ErrInvalidMapping},
		{"mapping bad transform", func(d *FlowDefinition) { d.ConfigMappings[2].Transform = "reverse" }, ErrInvalidMapping},
		{"derivation without fact", func(d *FlowDefinition) { d.Derivations[0].Fact = "" }, ErrInvalidDerivation},
		{"derivation empty predicate", func(d *FlowDefinition) { d.Derivations[0].Predicate = "" }, ErrInvalidPredicate},
		{"negative max attempts", func(d *FlowDefinition) { d.Nodes[5].MaxAttempts = -1 }, ErrInvalidMaxAttempts},
		{"schedule off activation", func(d *FlowDefinition) { d.Nodes[6].Schedule = &Schedule{WindowDays: 1, MaxSlots: 1} }, ErrInvalidSchedule},
		{"schedule bounds", func(d *FlowDefinition) { d.Nodes[8].Schedule.MaxSlots = 0 }, ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := cleaningDef()
			tt.mutate(&def)

			g, err := Validate(def, WithValidationLogger(nil))
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.want)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, ierrors.CategoryStructural, ierrors.Categorize(err))

			report := Check(def, WithValidationLogger(nil))
			assert.False(t, report.OK())
			assert.ErrorIs(t, report.Err(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	def := cleaningDef()
	def.ID = ""
	def.Nodes[0].Next = "ghost"
	def.Nodes[1].InputType = "slider"
	def.Nodes[7].DefaultNext = "phantom"

	report := Check(def, WithValidationLogger(nil))
	require.Len(t, report.Errors, 4)
	assert.ErrorIs(t, report.Err(), ErrMissingFlowID)
	assert.ErrorIs(t, report.Err(), ErrUnknownInputType)

	var dangling []string
	for _, e := range report.Errors {
		if errors.Is(e, ErrDanglingReference) {
			dangling = append(dangling, e.NodeID+":"+e.Detail)
		}
	}
	assert.Equal(t, []string{"welcome:ghost", "review:phantom"}, dangling)

	assert.Equal(t, "node welcome next: reference to unknown node: ghost", report.Errors[1].Error())
}

// TestValidate_ReferentialIntegrity checks that any successor of any node in
// a validated graph resolves, over definitions with random-looking targets.
func TestValidate_ReferentialIntegrity(t *testing.T) {
	targets := []string{"welcome", "service", "x", "", "book", "review", "pets", "zz"}
	for i, a := range targets {
		for j, b := range targets {
			def := cleaningDef()
			def.Nodes[0].Next = a
			def.Nodes[7].DefaultNext = b

			g, err := Validate(def, WithValidationLogger(nil), WithReachability(ReachabilityIgnore))
			if err != nil {
				assert.ErrorIs(t, err, ErrDanglingReference, "case %d/%d", i, j)
				continue
			}
			for _, id := range g.NodeIDs() {
				n, _ := g.Node(id)
				for _, next := range n.Successors() {
					assert.True(t, g.HasNode(next), "case %d/%d: %s -> %s", i, j, id, next)
				}
			}
		}
	}
}

func TestValidate_DanglingReferenceOnEveryKind(t *testing.T) {
	kinds := map[string]NodeSpec{
		"message":    {Type: "message", Text: "Hello."},
		"question":   {Type: "question", Question: "Name?", InputType: "free_text"},
		"review":     {Type: "review", Text: "Look right?"},
		"activation": {Type: "activation", Text: "Done."},
	}
	fields := map[string]func(n *NodeSpec){
		"next":        func(n *NodeSpec) { n.Next = "ghost" },
		"defaultNext": func(n *NodeSpec) { n.DefaultNext = "ghost" },
		"transitions": func(n *NodeSpec) {
			n.Transitions = []Edge{{Predicate: "answer == 'x'", Target: "ghost"}}
		},
		"followUps": func(n *NodeSpec) {
			n.FollowUps = []Edge{{Predicate: "answer == 'x'", Target: "ghost"}}
		},
	}

	for kind, spec := range kinds {
		for field, set := range fields {
			t.Run(kind+"."+field, func(t *testing.T) {
				b := spec
				b.ID = "b"
				set(&b)
				def := FlowDefinition{
					ID: "refs", Name: "Refs", Version: "1", MaxQuestions: 3, StartNodeID: "a",
					Nodes: []NodeSpec{{ID: "a", Type: "message", Text: "Hi.", Next: "b"}, b},
				}

				g, err := Validate(def, WithValidationLogger(nil))
				assert.Nil(t, g)
				require.ErrorIs(t, err, ErrDanglingReference)

				var ve ValidationErrors
				require.ErrorAs(t, err, &ve)
				var hit bool
				for _, e := range ve {
					if errors.Is(e, ErrDanglingReference) {
						hit = true
						assert.Equal(t, "b", e.NodeID)
						assert.Equal(t, "ghost", e.Detail)
					}
				}
				assert.True(t, hit)
			})
		}
	}
}

func TestValidate_UnusedEdges(t *testing.T) {
	def := FlowDefinition{
		ID: "edges", Name: "Edges", Version: "1", MaxQuestions: 3, StartNodeID: "a",
		Nodes: []NodeSpec{
			{ID: "a", Type: "message", Text: "Hi.", Next: "b",
				Transitions: []Edge{{Predicate: "answer == 'x'", Target: "b"}}},
			{ID: "b", Type: "activation", Text: "Done.", Next: "a"},
		},
	}

	report := Check(def, WithValidationLogger(nil))
	var unused []string
	for _, e := range report.Errors {
		if errors.Is(e, ErrUnusedEdge) {
			unused = append(unused, e.NodeID+":"+e.Field)
		}
	}
	assert.Equal(t, []string{"a:transitions[0]", "b:next"}, unused)

	t.Run("predicates still parse", func(t *testing.T) {
		def.Nodes[0].Transitions[0].Predicate = "answer =="
		_, err := Validate(def, WithValidationLogger(nil))
		assert.ErrorIs(t, err, ErrInvalidPredicate)
	})
}

func TestValidate_Reachability(t *testing.T) {
	def := cleaningDef()
	def.Nodes = append(def.Nodes, NodeSpec{ID: "orphan", Type: "message", Text: "never shown"})

	t.Run("warn by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		g, err := Validate(def, WithValidationLogger(logger))
		require.NoError(t, err)
		require.Len(t, g.Warnings(), 1)
		w := g.Warnings()[0]
		assert.ErrorIs(t, w.Kind, WarnUnreachableNode)
		assert.Equal(t, "orphan", w.NodeID)
		assert.Contains(t, buf.String(), `"node_id":"orphan"`)
	})

	t.Run("ignore", func(t *testing.T) {
		g := mustGraph(t, def, WithReachability(ReachabilityIgnore))
		assert.Empty(t, g.Warnings())
	})

	t.Run("error", func(t *testing.T) {
		_, err := Validate(def, WithValidationLogger(nil), WithReachability(ReachabilityError))
		assert.ErrorIs(t, err, ErrUnreachableNode)
	})
}

func TestValidate_TooManyQuestions(t *testing.T) {
	def := cleaningDef()
	def.MaxQuestions = 4

	g := mustGraph(t, def)
	require.Len(t, g.Warnings(), 1)
	assert.ErrorIs(t, g.Warnings()[0].Kind, WarnTooManyQuestions)
	assert.Equal(t, "flow: question count exceeds maxQuestions: 6 questions, maxQuestions is 4", g.Warnings()[0].String())
}

func TestValidate_Placeholders(t *testing.T) {
	def := cleaningDef()
	def.Nodes[0].Text = "Hi ${name}! Urgency ${derived.urgency}, sentiment ${derived.sentiment}. Bye ${name}."
	def.Nodes[6].Question = "Thanks! Email for ${bedrooms} bedrooms? ${derived.vip}"

	g := mustGraph(t, def)
	require.Len(t, g.Warnings(), 2)
	assert.ErrorIs(t, g.Warnings()[0].Kind, WarnUnknownPlaceholder)
	assert.Equal(t, "welcome", g.Warnings()[0].NodeID)
	assert.Equal(t, "name", g.Warnings()[0].Detail)
	assert.Equal(t, "email", g.Warnings()[1].NodeID)
	assert.Equal(t, "derived.vip", g.Warnings()[1].Detail)
}

func TestParseReachability(t *testing.T) {
	for _, s := range []string{"", "warn", "ignore", "error"} {
		r, err := ParseReachability(s)
		require.NoError(t, err)
		if s != "" {
			assert.Equal(t, s, r.String())
		}
	}
	_, err := ParseReachability("loud")
	assert.Error(t, err)
}
