package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
)

func newCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <flow.yaml|flow.json>",
		Short: "Validate a flow definition and print it normalized",
		Long: "compile checks a flow definition and reports every defect, one per line.\n" +
			"A valid flow is written as normalized JSON to stdout or --out.",
		Args: cobra.ExactArgs(1),
		RunE: runCompile,
	}
	cmd.Flags().StringP("out", "o", "", "Write normalized JSON to this file instead of stdout")
	cmd.Flags().String("reachability", "warn", "Unreachable node policy: ignore, warn or error")
	cmd.Flags().BoolP("quiet", "q", false, "Only print errors")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	path := args[0]
	out, _ := cmd.Flags().GetString("out")
	quiet, _ := cmd.Flags().GetBool("quiet")
	reachFlag, _ := cmd.Flags().GetString("reachability")

	reach, err := intakeflow.ParseReachability(reachFlag)
	if err != nil {
		return err
	}
	def, err := intakeflow.LoadDefinition(path)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	errColor := color.New(color.FgRed)
	warnColor := color.New(color.FgYellow)
	okColor := color.New(color.FgGreen)

	report := intakeflow.Check(def, intakeflow.WithReachability(reach), intakeflow.WithValidationLogger(nil))
	if !quiet {
		for _, w := range report.Warnings {
			warnColor.Fprintf(stderr, "warning: %s\n", w)
		}
	}
	if !report.OK() {
		for _, e := range report.Errors {
			errColor.Fprintln(stderr, e.Error())
		}
		errColor.Fprintf(stderr, "%s: %d error(s)\n", path, len(report.Errors))
		return reportedError{report.Err()}
	}

	g, err := intakeflow.Validate(def, intakeflow.WithReachability(reach), intakeflow.WithValidationLogger(nil))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(g.Definition(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	if out == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	} else if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	if !quiet {
		okColor.Fprintf(stderr, "%s: %s ok (%d nodes, %d questions, %d warnings)\n",
			path, g.Key(), g.Len(), g.QuestionCount(), len(report.Warnings))
	}
	return nil
}
