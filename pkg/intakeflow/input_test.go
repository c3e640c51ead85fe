package intakeflow

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
)

func question(typ InputType, opts ...Option) *QuestionNode {
	return &QuestionNode{
		nodeBase: nodeBase{id: "q"},
		Text:     "?",
		Input:    InputSpec{Type: typ, Options: opts, Required: true},
		Key:      "q",
	}
}

var sizes = []Option{
	{Key: "small", Label: "Small (1-2 rooms)"},
	{Key: "medium", Label: "Medium"},
	{Key: "large", Label: "Large"},
}

func TestParseAnswer_Accepts(t *testing.T) {
	tests := []struct {
		name string
		q    *QuestionNode
		in   string
		want any
	}{
		{"free text trimmed", question(InputFreeText), "  hello  ", "hello"},
		{"select by key", question(InputSingleSelect, sizes...), "medium", "medium"},
		{"select by label", question(InputSingleSelect, sizes...), "small (1-2 rooms)", "small"},
		{"select by index", question(InputSingleSelect, sizes...), "3", "large"},
		{"multi", question(InputMultiSelect, sizes...), "Large; small, large", []string{"large", "small"}},
		{"multi by index", question(InputMultiSelect, sizes...), "1,2", []string{"small", "medium"}},
		{"number", question(InputNumber), "$1,250.50", 1250.5},
		{"integer", question(InputNumber), "3", 3.0},
		{"yes", question(InputYesNo), "Yep", true},
		{"no", question(InputYesNo), "N", false},
		{"email", question(InputEmail), "Jane.Doe@Example.COM", "jane.doe@example.com"},
		{"email with name", question(InputEmail), "Jane <jane@example.com>", "jane@example.com"},
		{"phone ten digits", question(InputPhone), "(555) 010-2000", "+15550102000"},
		{"phone eleven digits", question(InputPhone), "1-555-010-2000", "+15550102000"},
		{"phone international", question(InputPhone), "+44 20 7946 0958", "+442079460958"},
		{"date iso", question(InputDate), "2026-03-15", "2026-03-15"},
		{"date us", question(InputDate), "3/5/2026", "2026-03-05"},
		{"date long", question(InputDate), "March 5, 2026", "2026-03-05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stored, err := ParseAnswer(tt.q, tt.in)
			require.NoError(t, err)
			assert.True(t, stored)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnswer_Rejects(t *testing.T) {
	tests := []struct {
		name string
		q    *QuestionNode
		in   string
		msg  string
	}{
		{"required empty", question(InputFreeText), "   ", "An answer is required."},
		{"select miss", question(InputSingleSelect, sizes...), "huge", "Please choose one of: Small (1-2 rooms), Medium, Large."},
		{"select index out of range", question(InputSingleSelect, sizes...), "4", "Please choose one of: Small (1-2 rooms), Medium, Large."},
		{"multi miss", question(InputMultiSelect, sizes...), "small, huge", `"huge" is not an option. Choose from: Small (1-2 rooms), Medium, Large.`},
		{"number", question(InputNumber), "a few", "Please enter a number."},
		{"yes no", question(InputYesNo), "maybe", "Please answer yes or no."},
		{"email no at", question(InputEmail), "jane.example.com", "Please enter a valid email address."},
		{"email no dot", question(InputEmail), "jane@localhost", "Please enter a valid email address."},
		{"phone short", question(InputPhone), "555-0100", "Please enter a valid phone number."},
		{"phone letters", question(InputPhone), "555-CALL-NOW", "Please enter a valid phone number."},
		{"phone bad country", question(InputPhone), "25550102000", "Please enter a valid phone number."},
		{"date", question(InputDate), "next tuesday", "Please enter a date like 2026-03-15."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stored, err := ParseAnswer(tt.q, tt.in)
			require.Error(t, err)
			assert.False(t, stored)

			var inputErr *ierrors.InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, "q", inputErr.NodeID)
			assert.Equal(t, tt.msg, inputErr.Message)
			assert.Equal(t, ierrors.CategoryInput, ierrors.Categorize(err))
		})
	}
}

func TestParseAnswer_Optional(t *testing.T) {
	q := question(InputNumber)
	q.Input.Required = false

	v, stored, err := ParseAnswer(q, "")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Nil(t, v)

	_, _, err = ParseAnswer(q, "lots")
	assert.Error(t, err, "optional answers are still checked when given")
}

func TestParseAnswer_Pattern(t *testing.T) {
	q := question(InputFreeText)
	q.Pattern = regexp.MustCompile(`^\d{5}$`)

	v, _, err := ParseAnswer(q, "02139")
	require.NoError(t, err)
	assert.Equal(t, "02139", v)

	_, _, err = ParseAnswer(q, "Boston")
	var inputErr *ierrors.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "That answer isn't in the expected format.", inputErr.Message)

	q.PatternError = "Please enter a 5-digit ZIP code."
	_, _, err = ParseAnswer(q, "2139")
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "Please enter a 5-digit ZIP code.", inputErr.Message)
}

func TestNormalizePhone(t *testing.T) {
	got, ok := NormalizePhone("555.010.2000")
	assert.True(t, ok)
	assert.Equal(t, "+15550102000", got)

	_, ok = NormalizePhone("+1234567")
	assert.False(t, ok, "fewer than 8 digits")

	_, ok = NormalizePhone("٥٥٥٠١٠٢٠٠٠")
	assert.False(t, ok, "only ASCII digits")
	_, ok = NormalizePhone("+1 555 ０１０ 2000")
	assert.False(t, ok, "fullwidth digits")
}
