package intakeflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

// cleaningDef is a small but complete flow used across tests:
//
//	welcome -> service -(deep|move_out)-> deep_details -> pets
//	                   \-----------------------------/
//	pets -(yes)-> pet_details (returns to bedrooms)
//	pets -> bedrooms -> email -> review -> book
func cleaningDef() FlowDefinition {
	optional := false
	return FlowDefinition{
		ID:           "cleaning",
		Name:         "House cleaning intake",
		Version:      "1",
		MaxQuestions: 6,
		StartNodeID:  "welcome",
		Enums: map[string][]string{
			"services": {"standard", "deep", "move_out"},
		},
		ConfigMappings: []ConfigMapping{
			{Target: "service.type", Source: "collected.service", Enum: "services"},
			{Target: "customer.email", Source: "email"},
			{Target: "home.bedrooms", Source: "collected.bedrooms", Transform: "number"},
			{Target: "home.pets", Source: "collected.pets", Default: false},
			{Target: "channel", Value: "sms"},
		},
		Derivations: []Derivation{
			{Fact: "urgency", Predicate: "collected.service == 'move_out'", Value: "high"},
		},
		Nodes: []NodeSpec{
			{ID: "welcome", Type: "message", Text: "Hi! Let's get your cleaning booked.", Next: "service"},
			{
				ID: "service", Type: "question", Question: "What kind of clean?", InputType: "single_select",
				Options: []Option{
					{Key: "standard", Label: "Standard clean"},
					{Key: "deep", Label: "Deep clean"},
					{Key: "move_out", Label: "Move-out clean"},
				},
				Transitions: []Edge{{Predicate: "collected.service in ['deep', 'move_out']", Target: "deep_details"}},
				DefaultNext: "pets",
			},
			{
				ID: "deep_details", Type: "question", Question: "Anything we should focus on?",
				InputType: "free_text", Required: &optional, Next: "pets",
			},
			{
				ID: "pets", Type: "question", Question: "Any pets at home?", InputType: "yes_no",
				FollowUps: []Edge{{Predicate: "collected.pets == true", Target: "pet_details"}},
				Next:      "bedrooms",
			},
			{ID: "pet_details", Type: "question", Question: "What pets?", InputType: "free_text"},
			{
				ID: "bedrooms", Type: "question", Question: "How many bedrooms?", InputType: "number",
				MaxAttempts: 2, Next: "email",
			},
			{ID: "email", Type: "question", Question: "Your email?", InputType: "email", Next: "review"},
			{ID: "review", Type: "review", Text: "Does this look right?", DefaultNext: "book"},
			{ID: "book", Type: "activation", Text: "You're all set.", Schedule: &Schedule{WindowDays: 3, MaxSlots: 2}},
		},
	}
}

func mustGraph(t *testing.T, def FlowDefinition, opts ...ValidateOption) *FlowGraph {
	t.Helper()
	opts = append([]ValidateOption{WithValidationLogger(nil)}, opts...)
	g, err := Validate(def, opts...)
	require.NoError(t, err)
	return g
}

func mustInterpreter(t *testing.T, def FlowDefinition, opts ...InterpreterOption) *Interpreter {
	t.Helper()
	in, err := NewInterpreter(mustGraph(t, def), opts...)
	require.NoError(t, err)
	return in
}

// converse feeds replies to prompts in order, following Advanced outcomes.
// It returns the first Prompt seen after the replies run out, or the first
// Completed or Escalated outcome.
func converse(t *testing.T, in *Interpreter, st *session.State, replies ...string) Outcome {
	t.Helper()
	ctx := context.Background()
	var ans *Answer
	for range 100 {
		out, err := in.Advance(ctx, st, ans)
		require.NoError(t, err)
		ans = nil
		switch o := out.(type) {
		case *Advanced:
			continue
		case *Prompt:
			if len(replies) == 0 {
				return o
			}
			ans = &Answer{Text: replies[0]}
			replies = replies[1:]
		default:
			return out
		}
	}
	t.Fatal("conversation did not settle")
	return nil
}
