package intakeflow

import (
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
)

// DateLayout is the canonical form of accepted date answers.
const DateLayout = "2006-01-02"

// dateLayouts are tried in order when parsing a date answer.
var dateLayouts = []string{
	DateLayout,
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var (
	yesWords = []string{"yes", "y", "yeah", "yep", "sure", "true", "1"}
	noWords  = []string{"no", "n", "nope", "false", "0"}
)

// ParseAnswer checks text against a question's input constraints and
// returns the value to store. An empty answer to an optional question
// returns (nil, false, nil): accepted, nothing stored.
//
// Every rejection is an *errors.InputError whose Message is safe to show
// the customer.
func ParseAnswer(q *QuestionNode, text string) (value any, stored bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		if !q.Input.Required {
			return nil, false, nil
		}
		return nil, false, q.reject("An answer is required.")
	}

	switch q.Input.Type {
	case InputSingleSelect:
		key, ok := q.matchOption(text)
		if !ok {
			return nil, false, q.reject("Please choose one of: " + q.optionLabels() + ".")
		}
		value = key
	case InputMultiSelect:
		keys, bad := q.matchOptions(text)
		if bad != "" {
			return nil, false, q.reject(fmt.Sprintf("%q is not an option. Choose from: %s.", bad, q.optionLabels()))
		}
		value = keys
	case InputNumber:
		n, err := strconv.ParseFloat(strings.NewReplacer(",", "", "$", "").Replace(text), 64)
		if err != nil {
			return nil, false, q.reject("Please enter a number.")
		}
		value = n
	case InputYesNo:
		lower := strings.ToLower(text)
		switch {
		case slices.Contains(yesWords, lower):
			value = true
		case slices.Contains(noWords, lower):
			value = false
		default:
			return nil, false, q.reject("Please answer yes or no.")
		}
	case InputEmail:
		addr, ok := parseEmail(text)
		if !ok {
			return nil, false, q.reject("Please enter a valid email address.")
		}
		value = addr
	case InputPhone:
		phone, ok := NormalizePhone(text)
		if !ok {
			return nil, false, q.reject("Please enter a valid phone number.")
		}
		value = phone
	case InputDate:
		d, ok := parseDate(text)
		if !ok {
			return nil, false, q.reject("Please enter a date like 2026-03-15.")
		}
		value = d
	default:
		value = text
	}

	if q.Pattern != nil && !q.Pattern.MatchString(text) {
		msg := q.PatternError
		if msg == "" {
			msg = "That answer isn't in the expected format."
		}
		return nil, false, q.reject(msg)
	}
	return value, true, nil
}

func (q *QuestionNode) reject(msg string) error {
	return &ierrors.InputError{NodeID: q.ID(), InputType: string(q.Input.Type), Message: msg}
}

// matchOption resolves text to an option key by key, label or 1-based index.
func (q *QuestionNode) matchOption(text string) (string, bool) {
	for _, o := range q.Input.Options {
		if strings.EqualFold(o.Key, text) || strings.EqualFold(o.Label, text) {
			return o.Key, true
		}
	}
	if i, err := strconv.Atoi(text); err == nil && i >= 1 && i <= len(q.Input.Options) {
		return q.Input.Options[i-1].Key, true
	}
	return "", false
}

// matchOptions splits on commas and semicolons. It returns the deduplicated
// keys, or the first entry that matched nothing.
func (q *QuestionNode) matchOptions(text string) ([]string, string) {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' })
	var keys []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key, ok := q.matchOption(p)
		if !ok {
			return nil, p
		}
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, text
	}
	return keys, ""
}

func (q *QuestionNode) optionLabels() string {
	labels := make([]string, len(q.Input.Options))
	for i, o := range q.Input.Options {
		labels[i] = o.Label
	}
	return strings.Join(labels, ", ")
}

func parseEmail(text string) (string, bool) {
	addr, err := mail.ParseAddress(text)
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 1 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// NormalizePhone converts a North American or international number to
// E.164. Ten digits get a +1 prefix; eleven digits starting with 1 get a +.
// A leading + accepts 8 to 15 digits.
func NormalizePhone(text string) (string, bool) {
	text = strings.TrimSpace(text)
	var digits strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == '.' || r == '(' || r == ')' || r == ' ':
		default:
			return "", false
		}
	}
	d := digits.String()
	if strings.HasPrefix(text, "+") {
		if len(d) < 8 || len(d) > 15 {
			return "", false
		}
		return "+" + d, true
	}
	switch {
	case len(d) == 10:
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1':
		return "+" + d, true
	default:
		return "", false
	}
}

func parseDate(text string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}
