// Package observability provides structured logging, metrics and tracing
// for flow compilation and session execution.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every log helper accepts a nil logger and does nothing.
package observability

import (
	"log/slog"
	"strings"
	"time"
)

// EnrichLogger adds session context to a logger.
//
// Example:
//
//	log := EnrichLogger(logger, "sess-1", "cleaning@2")
//	log.Info("answer received") // includes session_id and flow_version
func EnrichLogger(logger *slog.Logger, sessionID, flowVersion string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("session_id", sessionID),
		slog.String("flow_version", flowVersion),
	)
}

// LogFlowCompiled logs a successful flow validation.
func LogFlowCompiled(logger *slog.Logger, flowVersion string, nodes, questions int) {
	if logger == nil {
		return
	}
	logger.Info("flow compiled",
		slog.String("flow_version", flowVersion),
		slog.Int("nodes", nodes),
		slog.Int("questions", questions),
	)
}

// LogFlowWarning logs a non-fatal validation finding.
func LogFlowWarning(logger *slog.Logger, flowID, nodeID, kind, message string) {
	if logger == nil {
		return
	}
	logger.Warn(message,
		slog.String("flow_id", flowID),
		slog.String("node_id", nodeID),
		slog.String("kind", kind),
	)
}

// LogStepStart logs the start of one inbound event.
func LogStepStart(logger *slog.Logger, sessionID, nodeID string, hasAnswer bool) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		slog.String("session_id", sessionID),
		slog.String("node_id", nodeID),
		slog.Bool("has_answer", hasAnswer),
	)
}

// LogStepComplete logs the outcome of one inbound event.
func LogStepComplete(logger *slog.Logger, sessionID, fromNode, toNode, outcome string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed",
		slog.String("session_id", sessionID),
		slog.String("from_node", fromNode),
		slog.String("to_node", toNode),
		slog.String("outcome", outcome),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepError logs a failed step.
func LogStepError(logger *slog.Logger, sessionID, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String("session_id", sessionID),
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogInvalidAnswer logs a rejected answer and the attempt it counted as.
func LogInvalidAnswer(logger *slog.Logger, sessionID, nodeID string, attempt, maxAttempts int) {
	if logger == nil {
		return
	}
	logger.Info("answer rejected",
		slog.String("session_id", sessionID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
	)
}

// LogEscalation logs a handoff ticket being issued.
func LogEscalation(logger *slog.Logger, sessionID, ticketID, priority string, reasons []string) {
	if logger == nil {
		return
	}
	logger.Warn("session escalated",
		slog.String("session_id", sessionID),
		slog.String("ticket_id", ticketID),
		slog.String("priority", priority),
		slog.String("reasons", strings.Join(reasons, ",")),
	)
}

// LogReservation logs a slot hold, confirmation or conflict.
func LogReservation(logger *slog.Logger, sessionID, slotID, result string) {
	if logger == nil {
		return
	}
	logger.Info("slot reservation",
		slog.String("session_id", sessionID),
		slog.String("slot_id", slotID),
		slog.String("result", result),
	)
}

// LogFallback logs a collaborator call that fell back to a canned result.
func LogFallback(logger *slog.Logger, kind string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("collaborator call fell back",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
