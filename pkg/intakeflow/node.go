package intakeflow

import "regexp"

// NodeKind is the type label of a node.
type NodeKind string

// Node kinds.
const (
	KindMessage    NodeKind = "message"
	KindQuestion   NodeKind = "question"
	KindReview     NodeKind = "review"
	KindActivation NodeKind = "activation"
)

// InputType constrains what a question accepts.
type InputType string

// Input types.
const (
	InputFreeText     InputType = "free_text"
	InputSingleSelect InputType = "single_select"
	InputMultiSelect  InputType = "multi_select"
	InputNumber       InputType = "number"
	InputYesNo        InputType = "yes_no"
	InputEmail        InputType = "email"
	InputPhone        InputType = "phone"
	InputDate         InputType = "date"
)

var knownInputTypes = map[InputType]bool{
	InputFreeText:     true,
	InputSingleSelect: true,
	InputMultiSelect:  true,
	InputNumber:       true,
	InputYesNo:        true,
	InputEmail:        true,
	InputPhone:        true,
	InputDate:         true,
}

// IsSelect reports whether the type picks from a fixed option list.
func (t InputType) IsSelect() bool {
	return t == InputSingleSelect || t == InputMultiSelect
}

// Node is a validated graph node. The concrete type is one of
// *MessageNode, *QuestionNode, *ReviewNode or *ActivationNode.
type Node interface {
	ID() string
	Kind() NodeKind
	// Successors lists every node id this node can move to, in
	// resolution order.
	Successors() []string
	Flags() Flags
	isNode()
}

type nodeBase struct {
	id    string
	flags Flags
}

func (b nodeBase) ID() string   { return b.id }
func (b nodeBase) Flags() Flags { return b.flags }
func (nodeBase) isNode()        {}

// Routes is the outgoing edge set shared by question and review nodes.
type Routes struct {
	FollowUps   []Edge
	Transitions []Edge
	DefaultNext string
	Next        string
}

func (r Routes) successors() []string {
	var out []string
	for _, e := range r.FollowUps {
		out = append(out, e.Target)
	}
	for _, e := range r.Transitions {
		out = append(out, e.Target)
	}
	if r.DefaultNext != "" {
		out = append(out, r.DefaultNext)
	}
	if r.Next != "" {
		out = append(out, r.Next)
	}
	return out
}

// MessageNode emits text and moves on unconditionally.
type MessageNode struct {
	nodeBase
	Text string
	// Next is the resolved successor (next, else defaultNext); empty ends
	// the flow.
	Next string
}

// Kind implements Node.
func (*MessageNode) Kind() NodeKind { return KindMessage }

// Successors implements Node.
func (n *MessageNode) Successors() []string {
	if n.Next == "" {
		return nil
	}
	return []string{n.Next}
}

// InputSpec tells a channel how to collect an answer.
type InputSpec struct {
	Type     InputType `json:"type"`
	Options  []Option  `json:"options,omitempty"`
	Required bool      `json:"required"`
}

// QuestionNode collects one validated answer.
type QuestionNode struct {
	nodeBase
	Text  string
	Input InputSpec
	// Key is where the answer is stored in collected.
	Key string
	// MaxAttempts overrides the interpreter limit when positive.
	MaxAttempts  int
	Pattern      *regexp.Regexp
	PatternError string
	// Extract lists fields the extraction collaborator should pull from
	// the reply.
	Extract []string
	Routes
}

// Kind implements Node.
func (*QuestionNode) Kind() NodeKind { return KindQuestion }

// Successors implements Node.
func (n *QuestionNode) Successors() []string { return n.Routes.successors() }

// ReviewNode shows a recap of collected answers and waits for any reply.
type ReviewNode struct {
	nodeBase
	Text string
	Routes
}

// Kind implements Node.
func (*ReviewNode) Kind() NodeKind { return KindReview }

// Successors implements Node.
func (n *ReviewNode) Successors() []string { return n.Routes.successors() }

// ActivationNode ends the happy path and projects the record.
type ActivationNode struct {
	nodeBase
	Text     string
	Schedule *Schedule
}

// Kind implements Node.
func (*ActivationNode) Kind() NodeKind { return KindActivation }

// Successors implements Node. Activation nodes are terminal.
func (*ActivationNode) Successors() []string { return nil }
