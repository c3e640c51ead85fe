package sms

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
)

// Canned texts for outcomes that carry no authored text.
const (
	TextEscalated = "Thanks. A member of our team will pick this up and get back to you shortly."
	TextCompleted = "Thanks, you're all set."
	TextCallLink  = "Prefer to talk? Call us here: %s"
	TextSlotsHead = "Reply with a number to pick a time:"
	TextFailure   = "Sorry, something went wrong on our side. Please try again in a minute."
)

// Render turns a step result into outbound texts, one per message.
func Render(res *runtime.Result) []string {
	out := append([]string(nil), res.Messages...)

	switch o := res.Outcome.(type) {
	case *intakeflow.Prompt:
		out = append(out, renderPrompt(o))
	case *intakeflow.Completed:
		if len(out) == 0 {
			out = append(out, TextCompleted)
		}
		if len(res.Slots) > 0 {
			lines := []string{TextSlotsHead}
			for i, s := range res.Slots {
				lines = append(lines, fmt.Sprintf("%d) %s", i+1, s.Label))
			}
			out = append(out, strings.Join(lines, "\n"))
		}
	case *intakeflow.Escalated:
		out = append(out, TextEscalated)
		if res.CallURL != "" {
			out = append(out, fmt.Sprintf(TextCallLink, res.CallURL))
		}
	}
	return out
}

func renderPrompt(p *intakeflow.Prompt) string {
	var b strings.Builder
	if p.Error != "" {
		b.WriteString(p.Error)
		b.WriteString(" ")
	}
	b.WriteString(p.Text)

	for _, item := range p.Recap {
		label := item.Label
		if label == "" {
			label = item.Key
		}
		fmt.Fprintf(&b, "\n- %s: %v", label, item.Value)
	}

	switch p.Input.Type {
	case intakeflow.InputSingleSelect, intakeflow.InputMultiSelect:
		labels := make([]string, len(p.Input.Options))
		for i, opt := range p.Input.Options {
			labels[i] = opt.Label
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(labels, ", "))
	case intakeflow.InputYesNo:
		b.WriteString(" (yes/no)")
	}
	return b.String()
}
