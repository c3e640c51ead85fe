package intakeflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// FlowDefinition is one version of a flow as authored.
type FlowDefinition struct {
	ID             string              `json:"id" yaml:"id"`
	Name           string              `json:"name" yaml:"name"`
	Version        string              `json:"version" yaml:"version"`
	MaxQuestions   int                 `json:"maxQuestions" yaml:"maxQuestions"`
	StartNodeID    string              `json:"startNodeId" yaml:"startNodeId"`
	Personas       []Persona           `json:"personas,omitempty" yaml:"personas,omitempty"`
	Enums          map[string][]string `json:"enums,omitempty" yaml:"enums,omitempty"`
	ConfigMappings []ConfigMapping     `json:"configMappings,omitempty" yaml:"configMappings,omitempty"`
	Derivations    []Derivation        `json:"derivations,omitempty" yaml:"derivations,omitempty"`
	Nodes          []NodeSpec          `json:"nodes" yaml:"nodes"`
}

// Persona is the voice a channel may use when rendering prompts.
type Persona struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Tone string `json:"tone,omitempty" yaml:"tone,omitempty"`
}

// ConfigMapping projects one collected or derived value onto a field of the
// external record produced at activation.
type ConfigMapping struct {
	// Target is a dotted path in the output record ("customer.address").
	Target string `json:"target" yaml:"target"`
	// Source is "collected.<key>", "derived.<fact>" or a bare collected key.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Value is a constant used instead of Source.
	Value any `json:"value,omitempty" yaml:"value,omitempty"`
	// Enum restricts the value to members of a named enum.
	Enum string `json:"enum,omitempty" yaml:"enum,omitempty"`
	// Transform is one of Transforms.
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
	// Default is used when the source is absent or outside Enum.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// Transforms lists the supported mapping transforms.
var Transforms = []string{"lower", "upper", "trim", "string", "number", "bool", "join"}

// Derivation sets a derived fact when its predicate holds after an
// accepted answer.
type Derivation struct {
	Fact      string `json:"fact" yaml:"fact"`
	Predicate string `json:"predicate" yaml:"predicate"`
	// Value defaults to true.
	Value any `json:"value,omitempty" yaml:"value,omitempty"`
}

// NodeSpec is the authored shape of a node. Which fields apply depends on Type.
type NodeSpec struct {
	ID          string     `json:"id" yaml:"id"`
	Type        string     `json:"type" yaml:"type"`
	Text        string     `json:"text,omitempty" yaml:"text,omitempty"`
	Question    string     `json:"question,omitempty" yaml:"question,omitempty"`
	InputType   string     `json:"inputType,omitempty" yaml:"inputType,omitempty"`
	Options     []Option   `json:"options,omitempty" yaml:"options,omitempty"`
	OptionsEnum string     `json:"optionsEnum,omitempty" yaml:"optionsEnum,omitempty"`
	Required    *bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Validation  Validation `json:"validation,omitzero" yaml:"validation,omitempty"`
	Key         string     `json:"key,omitempty" yaml:"key,omitempty"`
	MaxAttempts int        `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	Extract     []string   `json:"extract,omitempty" yaml:"extract,omitempty"`
	FollowUps   []Edge     `json:"followUps,omitempty" yaml:"followUps,omitempty"`
	Transitions []Edge     `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	DefaultNext string     `json:"defaultNext,omitempty" yaml:"defaultNext,omitempty"`
	Next        string     `json:"next,omitempty" yaml:"next,omitempty"`
	Schedule    *Schedule  `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Flags       Flags      `json:"flags,omitzero" yaml:"flags,omitempty"`
}

// Option is one choice of a select question.
type Option struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Validation is an optional pattern check on the raw answer.
type Validation struct {
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Edge is a predicate-guarded transition. An empty predicate always matches.
type Edge struct {
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Target    string `json:"targetNodeId" yaml:"targetNodeId"`
}

// Schedule asks an activation node to offer appointment slots.
type Schedule struct {
	WindowDays int `json:"windowDays" yaml:"windowDays"`
	MaxSlots   int `json:"maxSlots" yaml:"maxSlots"`
}

// Flags are informational authoring marks; they never affect control flow.
type Flags struct {
	AssumptionMade bool `json:"assumptionMade,omitempty" yaml:"assumptionMade,omitempty"`
	RevisitLater   bool `json:"revisitLater,omitempty" yaml:"revisitLater,omitempty"`
}

// ErrUnsupportedFormat is returned for definition files that are neither
// YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported definition format")

// DecodeYAML parses a YAML flow definition.
func DecodeYAML(data []byte) (FlowDefinition, error) {
	var def FlowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return FlowDefinition{}, fmt.Errorf("decode yaml definition: %w", err)
	}
	return def, nil
}

// DecodeJSON parses a JSON flow definition. Unknown fields are rejected.
func DecodeJSON(data []byte) (FlowDefinition, error) {
	var def FlowDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return FlowDefinition{}, fmt.Errorf("decode json definition: %w", err)
	}
	return def, nil
}

// ParseDefinition decodes data as JSON when it starts with '{' and as YAML
// otherwise.
func ParseDefinition(data []byte) (FlowDefinition, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return DecodeJSON(data)
	}
	return DecodeYAML(data)
}

// LoadDefinition reads a definition file, choosing the decoder by extension.
func LoadDefinition(path string) (FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FlowDefinition{}, fmt.Errorf("read definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	case ".json":
		return DecodeJSON(data)
	default:
		return FlowDefinition{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// clone returns a deep copy. Validation normalizes a clone so the caller's
// definition is never modified.
func (d FlowDefinition) clone() FlowDefinition {
	c := d
	c.Personas = slices.Clone(d.Personas)
	c.ConfigMappings = slices.Clone(d.ConfigMappings)
	c.Derivations = slices.Clone(d.Derivations)
	if d.Enums != nil {
		c.Enums = make(map[string][]string, len(d.Enums))
		for k, v := range d.Enums {
			c.Enums[k] = slices.Clone(v)
		}
	}
	c.Nodes = make([]NodeSpec, len(d.Nodes))
	for i, n := range d.Nodes {
		c.Nodes[i] = n.clone()
	}
	return c
}

func (n NodeSpec) clone() NodeSpec {
	c := n
	c.Options = slices.Clone(n.Options)
	c.Extract = slices.Clone(n.Extract)
	c.FollowUps = slices.Clone(n.FollowUps)
	c.Transitions = slices.Clone(n.Transitions)
	if n.Required != nil {
		r := *n.Required
		c.Required = &r
	}
	if n.Schedule != nil {
		s := *n.Schedule
		c.Schedule = &s
	}
	return c
}
