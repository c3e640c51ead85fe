package template

// MissingAction specifies how to handle placeholders without a value.
type MissingAction int

const (
	// MissingEmpty replaces the placeholder with an empty string. This is
	// the default.
	MissingEmpty MissingAction = iota

	// MissingError leaves the placeholder in place and returns an
	// *UndefinedVariableError naming every one without a value.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing values are handled.
//
// Default: MissingEmpty
//
// Example:
//
//	exp := NewExpander(WithMissingAction(MissingError))
//	_, err := exp.Expand("${missing}", MapLookup(nil))
//	// err: "undefined variable: missing"
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}
