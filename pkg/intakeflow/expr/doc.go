/*
Package expr evaluates the predicates attached to follow-ups, transitions
and derivations in a flow definition.

# Expression Syntax

	<expr> := <comparison>
	        | <expr> 'and' <expr>
	        | <expr> 'or' <expr>
	        | 'not' <expr>
	        | '!' <expr>
	        | <value>

	<comparison> := <value> <op> <value>
	<op> := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains' | 'in' | 'matches'
	<value> := 'string' | "string" | number | true | false | null | [list] | path

Operators are only recognized outside quotes and list brackets, so
`service == 'move in'` compares against the literal "move in".

# Variables

Paths are dotted lookups into the vars map. The interpreter binds three roots:

	collected.<key>   validated answers
	derived.<fact>    derived facts and external signals
	answer            the raw reply of the current step

An unknown dotted path resolves to null. An unknown bare identifier resolves
to itself as a string literal, so `derived.urgency == high` works unquoted.

# Operators

	==, !=     string comparison of the rendered values
	<, >, <=, >=  numeric comparison
	contains   substring, or membership when the left side is a list
	in         membership in a list literal or list value, or substring of a string
	matches    regular expression match of the left side

# Examples

	derived.urgency == 'high' or derived.timeline == 'asap'
	collected.bedrooms >= 4
	collected.service in ['deep_clean', 'move_out']
	collected.addons contains 'windows'
	not collected.pets
	answer matches '^(?i)(yes|y|correct)$'

# Truthiness

Single values are evaluated for truthiness: null is false, booleans are
themselves, empty strings and zero numbers are false, empty lists are false,
everything else is true.
*/
package expr
