// Command intakeflow compiles intake flow definitions and serves them over
// HTTP and SMS.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !isReported(err) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "intakeflow",
		Short:         "Declarative intake conversations",
		Long:          "intakeflow validates conversation flow definitions and runs them as customer intake sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newChatCommand())
	return rootCmd
}

// reportedError marks failures already printed to the user.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func isReported(err error) bool {
	_, ok := err.(reportedError)
	return ok
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadGraph reads and validates one flow file.
func loadGraph(path string, reach intakeflow.Reachability, logger *slog.Logger) (*intakeflow.FlowGraph, error) {
	def, err := intakeflow.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	g, err := intakeflow.Validate(def,
		intakeflow.WithReachability(reach),
		intakeflow.WithValidationLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:\n%w", path, err)
	}
	return g, nil
}
