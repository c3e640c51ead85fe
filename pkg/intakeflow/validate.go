package intakeflow

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/expr"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/template"
)

// Report is the outcome of checking a definition.
type Report struct {
	Errors   ValidationErrors
	Warnings []Warning
}

// OK reports whether the definition has no errors.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the errors as a single error, or nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors
}

// Validate checks def and builds an immutable FlowGraph from it.
// Every defect is collected; on failure the error is a ValidationErrors
// and no graph is returned.
//
// Checks:
//  1. id, name, version and startNodeId present; maxQuestions >= 1
//  2. at least one node; every node has a unique id
//  3. every node has a known type and the fields that type needs
//  4. startNodeId and every next, defaultNext and edge target resolve
//  5. patterns compile, predicates parse, enum names exist
//  6. mappings and derivations are well formed
//
// Exceeding maxQuestions is a warning. Unreachable nodes are warned about,
// ignored or rejected according to WithReachability.
func Validate(def FlowDefinition, opts ...ValidateOption) (*FlowGraph, error) {
	v := newValidator(def, opts...)
	report := v.run()
	if !report.OK() {
		return nil, report.Errors
	}
	g := v.build(report.Warnings)
	observability.LogFlowCompiled(v.cfg.logger, g.Key(), g.Len(), g.QuestionCount())
	return g, nil
}

// Check runs every validation without building a graph.
func Check(def FlowDefinition, opts ...ValidateOption) Report {
	return newValidator(def, opts...).run()
}

type validator struct {
	cfg   validateConfig
	def   FlowDefinition // normalized clone
	ids   map[string]bool
	nodes map[string]Node
	order []string
	errs  ValidationErrors
	warns []Warning
}

func newValidator(def FlowDefinition, opts ...ValidateOption) *validator {
	cfg := defaultValidateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &validator{
		cfg:   cfg,
		def:   def.clone(),
		ids:   make(map[string]bool),
		nodes: make(map[string]Node),
	}
}

func (v *validator) fail(kind error, nodeID, field, detail string) {
	v.errs = append(v.errs, &ValidationError{Kind: kind, NodeID: nodeID, Field: field, Detail: detail})
}

func (v *validator) warn(kind error, nodeID, detail string) {
	w := Warning{Kind: kind, NodeID: nodeID, Detail: detail}
	v.warns = append(v.warns, w)
	observability.LogFlowWarning(v.cfg.logger, v.def.ID, nodeID, kind.Error(), w.String())
}

func (v *validator) run() Report {
	v.checkFlow()
	v.collectIDs()
	for i := range v.def.Nodes {
		v.checkNode(&v.def.Nodes[i])
	}
	if v.def.StartNodeID != "" && !v.ids[v.def.StartNodeID] {
		v.fail(ErrStartNodeNotFound, "", "startNodeId", v.def.StartNodeID)
	}
	v.checkMappings()
	v.checkDerivations()
	v.checkQuestionCount()
	v.checkPlaceholders()
	v.checkReachability()
	return Report{Errors: v.errs, Warnings: v.warns}
}

func (v *validator) checkFlow() {
	d := v.def
	if strings.TrimSpace(d.ID) == "" {
		v.fail(ErrMissingFlowID, "", "id", "")
	}
	if strings.TrimSpace(d.Name) == "" {
		v.fail(ErrMissingFlowName, "", "name", "")
	}
	if strings.TrimSpace(d.Version) == "" {
		v.fail(ErrMissingFlowVersion, "", "version", "")
	}
	if strings.TrimSpace(d.StartNodeID) == "" {
		v.fail(ErrMissingStartNode, "", "startNodeId", "")
	}
	if d.MaxQuestions < 1 {
		v.fail(ErrInvalidMaxQuestions, "", "maxQuestions", fmt.Sprint(d.MaxQuestions))
	}
	if len(d.Nodes) == 0 {
		v.fail(ErrNoNodes, "", "nodes", "")
	}
}

func (v *validator) collectIDs() {
	for i, n := range v.def.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			v.fail(ErrMissingNodeID, "", fmt.Sprintf("nodes[%d].id", i), "")
			continue
		}
		if v.ids[n.ID] {
			v.fail(ErrDuplicateNodeID, n.ID, "id", "")
			continue
		}
		v.ids[n.ID] = true
		v.order = append(v.order, n.ID)
	}
}

func (v *validator) checkNode(n *NodeSpec) {
	id := n.ID
	if strings.TrimSpace(id) == "" {
		return
	}
	base := nodeBase{id: id, flags: n.Flags}

	if n.Schedule != nil && n.Type != string(KindActivation) {
		v.fail(ErrInvalidSchedule, id, "schedule", "only activation nodes schedule")
	}
	if n.MaxAttempts < 0 {
		v.fail(ErrInvalidMaxAttempts, id, "maxAttempts", fmt.Sprint(n.MaxAttempts))
	}

	var node Node
	switch NodeKind(n.Type) {
	case "":
		v.fail(ErrMissingNodeType, id, "type", "")
		return

	case KindMessage:
		if strings.TrimSpace(n.Text) == "" {
			v.fail(ErrMissingMessageText, id, "text", "")
		}
		v.checkRoutes(n)
		v.rejectEdges(id, "followUps", n.FollowUps)
		v.rejectEdges(id, "transitions", n.Transitions)
		next := n.Next
		if next == "" {
			next = n.DefaultNext
		}
		node = &MessageNode{nodeBase: base, Text: n.Text, Next: next}

	case KindQuestion:
		node = v.checkQuestion(n, base)

	case KindReview:
		text := n.Text
		if text == "" {
			text = n.Question
		}
		node = &ReviewNode{nodeBase: base, Text: text, Routes: v.checkRoutes(n)}

	case KindActivation:
		if s := n.Schedule; s != nil {
			if s.WindowDays < 1 || s.MaxSlots < 1 {
				v.fail(ErrInvalidSchedule, id, "schedule",
					fmt.Sprintf("windowDays=%d maxSlots=%d", s.WindowDays, s.MaxSlots))
			}
		}
		v.checkRoutes(n)
		v.rejectEdges(id, "followUps", n.FollowUps)
		v.rejectEdges(id, "transitions", n.Transitions)
		if n.Next != "" {
			v.fail(ErrUnusedEdge, id, "next", n.Next)
		}
		if n.DefaultNext != "" {
			v.fail(ErrUnusedEdge, id, "defaultNext", n.DefaultNext)
		}
		node = &ActivationNode{nodeBase: base, Text: n.Text, Schedule: n.Schedule}

	default:
		v.fail(ErrUnknownNodeType, id, "type", n.Type)
		return
	}

	if _, dup := v.nodes[id]; !dup {
		v.nodes[id] = node
	}
}

func (v *validator) checkQuestion(n *NodeSpec, base nodeBase) Node {
	id := n.ID

	// Normalize: question text, key, required, enum options.
	if n.Question == "" {
		n.Question = n.Text
	}
	if strings.TrimSpace(n.Question) == "" {
		v.fail(ErrMissingQuestionText, id, "question", "")
	}
	if n.Key == "" {
		n.Key = id
	}
	if n.Required == nil {
		required := true
		n.Required = &required
	}

	input := InputType(n.InputType)
	switch {
	case n.InputType == "":
		v.fail(ErrMissingInputType, id, "inputType", "")
	case !knownInputTypes[input]:
		v.fail(ErrUnknownInputType, id, "inputType", n.InputType)
	}

	if n.OptionsEnum != "" {
		values, ok := v.def.Enums[n.OptionsEnum]
		if !ok {
			v.fail(ErrUnknownEnum, id, "optionsEnum", n.OptionsEnum)
		} else if len(n.Options) == 0 {
			for _, val := range values {
				n.Options = append(n.Options, Option{Key: val, Label: val})
			}
		}
	}
	seen := make(map[string]bool, len(n.Options))
	for i, opt := range n.Options {
		key := strings.ToLower(opt.Key)
		if opt.Key == "" {
			v.fail(ErrMissingOptions, id, fmt.Sprintf("options[%d].key", i), "empty key")
			continue
		}
		if seen[key] {
			v.fail(ErrDuplicateOption, id, fmt.Sprintf("options[%d].key", i), opt.Key)
		}
		seen[key] = true
		if opt.Label == "" {
			n.Options[i].Label = opt.Key
		}
	}
	if input.IsSelect() && len(n.Options) == 0 && n.OptionsEnum == "" {
		v.fail(ErrMissingOptions, id, "options", "")
	}

	var pattern *regexp.Regexp
	if n.Validation.Pattern != "" {
		re, err := regexp.Compile(n.Validation.Pattern)
		if err != nil {
			v.fail(ErrInvalidPattern, id, "validation.pattern", err.Error())
		} else {
			pattern = re
		}
	}

	return &QuestionNode{
		nodeBase: base,
		Text:     n.Question,
		Input: InputSpec{
			Type:     input,
			Options:  slices.Clone(n.Options),
			Required: *n.Required,
		},
		Key:          n.Key,
		MaxAttempts:  n.MaxAttempts,
		Pattern:      pattern,
		PatternError: n.Validation.Error,
		Extract:      slices.Clone(n.Extract),
		Routes:       v.checkRoutes(n),
	}
}

func (v *validator) checkRoutes(n *NodeSpec) Routes {
	v.checkEdges(n.ID, "followUps", n.FollowUps)
	v.checkEdges(n.ID, "transitions", n.Transitions)
	v.checkRef(n.ID, "defaultNext", n.DefaultNext)
	v.checkRef(n.ID, "next", n.Next)
	return Routes{
		FollowUps:   slices.Clone(n.FollowUps),
		Transitions: slices.Clone(n.Transitions),
		DefaultNext: n.DefaultNext,
		Next:        n.Next,
	}
}

func (v *validator) checkEdges(nodeID, field string, edges []Edge) {
	for i, e := range edges {
		f := fmt.Sprintf("%s[%d]", field, i)
		if e.Target == "" {
			v.fail(ErrDanglingReference, nodeID, f+".targetNodeId", "empty target")
		} else {
			v.checkRef(nodeID, f+".targetNodeId", e.Target)
		}
		v.checkPredicate(nodeID, f+".predicate", e.Predicate, true)
	}
}

// rejectEdges reports edges a node kind never follows.
func (v *validator) rejectEdges(nodeID, field string, edges []Edge) {
	for i, e := range edges {
		v.fail(ErrUnusedEdge, nodeID, fmt.Sprintf("%s[%d]", field, i), e.Target)
	}
}

func (v *validator) checkRef(nodeID, field, target string) {
	if target != "" && !v.ids[target] {
		v.fail(ErrDanglingReference, nodeID, field, target)
	}
}

func (v *validator) checkPredicate(nodeID, field, predicate string, allowEmpty bool) {
	if strings.TrimSpace(predicate) == "" {
		if !allowEmpty {
			v.fail(ErrInvalidPredicate, nodeID, field, "empty predicate")
		}
		return
	}
	if err := expr.Check(predicate); err != nil {
		v.fail(ErrInvalidPredicate, nodeID, field, err.Error())
	}
}

func (v *validator) checkMappings() {
	for i, m := range v.def.ConfigMappings {
		field := fmt.Sprintf("configMappings[%d]", i)
		if strings.TrimSpace(m.Target) == "" {
			v.fail(ErrInvalidMapping, "", field+".target", "empty target")
		}
		if m.Source == "" && m.Value == nil {
			v.fail(ErrInvalidMapping, "", field, "needs a source or a value")
		}
		if m.Transform != "" && !slices.Contains(Transforms, m.Transform) {
			v.fail(ErrInvalidMapping, "", field+".transform", m.Transform)
		}
		if m.Enum != "" {
			if _, ok := v.def.Enums[m.Enum]; !ok {
				v.fail(ErrUnknownEnum, "", field+".enum", m.Enum)
			}
		}
	}
}

func (v *validator) checkDerivations() {
	for i, d := range v.def.Derivations {
		field := fmt.Sprintf("derivations[%d]", i)
		if strings.TrimSpace(d.Fact) == "" {
			v.fail(ErrInvalidDerivation, "", field+".fact", "empty fact")
		}
		v.checkPredicate("", field+".predicate", d.Predicate, false)
		if v.def.Derivations[i].Value == nil {
			v.def.Derivations[i].Value = true
		}
	}
}

func (v *validator) checkQuestionCount() {
	if v.def.MaxQuestions < 1 {
		return
	}
	count := 0
	for _, n := range v.def.Nodes {
		if n.Type == string(KindQuestion) {
			count++
		}
	}
	if count > v.def.MaxQuestions {
		v.warn(WarnTooManyQuestions, "", fmt.Sprintf("%d questions, maxQuestions is %d", count, v.def.MaxQuestions))
	}
}

// engineFacts are derived facts the runtime sets without a derivation.
var engineFacts = []string{
	session.FactHumanRequested,
	session.FactNegativeSentiment,
	session.FactMaxAttemptsExceeded,
	session.FactExceededState,
	session.FactEscalateToHandoff,
	session.FactUrgency,
	session.FactTimeline,
	session.FactSentiment,
}

func (v *validator) checkPlaceholders() {
	keys := map[string]bool{}
	facts := map[string]bool{}
	for _, f := range engineFacts {
		facts[f] = true
	}
	for _, d := range v.def.Derivations {
		facts[d.Fact] = true
	}
	for _, n := range v.def.Nodes {
		if n.Type != string(KindQuestion) {
			continue
		}
		keys[n.Key] = true
		for _, f := range n.Extract {
			keys[f] = true
		}
	}

	fillable := func(name string) (string, bool) {
		if fact, ok := strings.CutPrefix(name, template.DerivedPrefix); ok {
			return "", facts[fact]
		}
		return "", keys[name]
	}
	strict := template.NewExpander(template.WithMissingAction(template.MissingError))
	for _, n := range v.def.Nodes {
		_, err := strict.Expand(n.Text+"\n"+n.Question, fillable)
		var undef *template.UndefinedVariableError
		if !errors.As(err, &undef) {
			continue
		}
		for _, name := range undef.Names {
			v.warn(WarnUnknownPlaceholder, n.ID, name)
		}
	}
}

func (v *validator) checkReachability() {
	if v.cfg.reachability == ReachabilityIgnore {
		return
	}
	start, ok := v.nodes[v.def.StartNodeID]
	if !ok {
		return
	}

	// BFS from start over resolvable successors
	reachable := map[string]bool{start.ID(): true}
	queue := []string{start.ID()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := v.nodes[cur]
		if !ok {
			continue
		}
		for _, next := range n.Successors() {
			if v.ids[next] && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, id := range v.order {
		if reachable[id] {
			continue
		}
		if v.cfg.reachability == ReachabilityError {
			v.fail(ErrUnreachableNode, id, "", "")
		} else {
			v.warn(WarnUnreachableNode, id, "")
		}
	}
}

// build assembles the graph. Only called when there are no errors.
func (v *validator) build(warnings []Warning) *FlowGraph {
	questions := 0
	for _, n := range v.nodes {
		if n.Kind() == KindQuestion {
			questions++
		}
	}
	return &FlowGraph{
		def:       v.def,
		nodes:     v.nodes,
		order:     v.order,
		questions: questions,
		warnings:  warnings,
	}
}
