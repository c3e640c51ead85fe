/*
Package template personalizes prompt text with session values.

# Placeholders

A placeholder is ${name}. Bare names resolve collected answers; names
prefixed with "derived." resolve derived facts:

	Thanks ${name}! We'll send the quote to ${email}.
	We'll treat this as ${derived.urgency}.

Names are letters, digits and underscores and may not start with a digit.
Anything else, including "$50" or "${ spaced }", is left untouched.

# Missing Values

What happens when a placeholder has no value is configurable:

  - MissingEmpty removes it (the default)
  - MissingError keeps it and reports an *UndefinedVariableError

The interpreter renders with MissingEmpty so a customer never sees raw
placeholders. The validator renders with MissingError against the names a
flow can fill and warns about the rest.

# Thread Safety

An Expander is immutable after construction and safe for concurrent use.
*/
package template
