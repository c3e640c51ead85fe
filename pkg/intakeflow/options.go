package intakeflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
)

// Reachability controls how nodes unreachable from the start node are
// treated during validation.
type Reachability int

// Reachability policies. The default is ReachabilityWarn.
const (
	ReachabilityWarn Reachability = iota
	ReachabilityIgnore
	ReachabilityError
)

// String returns the config spelling of the policy.
func (r Reachability) String() string {
	switch r {
	case ReachabilityIgnore:
		return "ignore"
	case ReachabilityError:
		return "error"
	default:
		return "warn"
	}
}

// ParseReachability accepts "ignore", "warn" or "error". An empty string
// means warn.
func ParseReachability(s string) (Reachability, error) {
	switch s {
	case "", "warn":
		return ReachabilityWarn, nil
	case "ignore":
		return ReachabilityIgnore, nil
	case "error":
		return ReachabilityError, nil
	default:
		return ReachabilityWarn, fmt.Errorf("unknown reachability policy %q", s)
	}
}

// validateConfig holds configuration for Check and Validate.
type validateConfig struct {
	reachability Reachability
	logger       *slog.Logger
}

func defaultValidateConfig() validateConfig {
	return validateConfig{
		reachability: ReachabilityWarn,
		logger:       slog.Default(),
	}
}

// ValidateOption configures validation.
type ValidateOption func(*validateConfig)

// WithReachability sets the unreachable-node policy.
func WithReachability(r Reachability) ValidateOption {
	return func(c *validateConfig) {
		c.reachability = r
	}
}

// WithValidationLogger sets where warnings are logged. Default: slog.Default().
// A nil logger silences them; they are still returned in the report.
func WithValidationLogger(logger *slog.Logger) ValidateOption {
	return func(c *validateConfig) {
		c.logger = logger
	}
}

// DefaultMaxAttempts is the retry limit for question nodes that don't set one.
const DefaultMaxAttempts = 3

// interpreterConfig holds configuration for an Interpreter.
type interpreterConfig struct {
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
	ticketOpts  []handoff.TicketOption
}

func defaultInterpreterConfig() interpreterConfig {
	return interpreterConfig{
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*interpreterConfig)

// WithMaxAttempts sets the default per-node retry limit.
// Default: 3
//
// A question escalates once its attempt counter exceeds the limit, so a
// limit of 2 escalates on the third invalid answer.
func WithMaxAttempts(n int) InterpreterOption {
	return func(c *interpreterConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) InterpreterOption {
	return func(c *interpreterConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the interpreter logger. Default: none.
func WithLogger(logger *slog.Logger) InterpreterOption {
	return func(c *interpreterConfig) {
		c.logger = logger
	}
}

// WithTicketOptions passes options to handoff.CreateTicket.
func WithTicketOptions(opts ...handoff.TicketOption) InterpreterOption {
	return func(c *interpreterConfig) {
		c.ticketOpts = append(c.ticketOpts, opts...)
	}
}
