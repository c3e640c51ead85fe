package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/channel/sms"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <flow.yaml>",
		Short: "Walk through a flow in the terminal",
		Long:  "chat runs one in-memory session of a flow, reading answers from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			g, err := loadGraph(args[0], intakeflow.ReachabilityWarn, nil)
			if err != nil {
				return err
			}
			return chat(cmd.Context(), g, maxAttempts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int("max-attempts", intakeflow.DefaultMaxAttempts, "Invalid answers tolerated per question")
	return cmd
}

var recordBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("243")).
	Padding(0, 1)

func chat(ctx context.Context, g *intakeflow.FlowGraph, maxAttempts int, in io.Reader, out io.Writer) error {
	sessions := store.NewMemoryStore()
	if err := sessions.Open(ctx); err != nil {
		return err
	}
	defer sessions.Close()

	slots := scheduling.NewMemorySlotStore()
	if err := slots.Open(ctx); err != nil {
		return err
	}
	defer slots.Close()

	engine := runtime.NewEngine(sessions,
		runtime.WithScheduler(scheduling.NewScheduler(slots)),
	)
	if err := engine.Register(g, intakeflow.WithMaxAttempts(maxAttempts)); err != nil {
		return err
	}

	bot := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	res, err := engine.Start(ctx, g.Key(), "", "terminal")
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		for _, line := range sms.Render(res) {
			bot.Fprintln(out, line)
		}
		if res.Status != session.StatusActive {
			dim.Fprintf(out, "session %s %s\n", res.SessionID, res.Status)
			if c := res.Completed(); c != nil {
				data, err := json.MarshalIndent(c.Record, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, recordBox.Render(string(data)))
			}
			return nil
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		res, err = engine.Advance(ctx, "", res.SessionID, &intakeflow.Answer{Text: strings.TrimSpace(scanner.Text())})
		if err != nil {
			return err
		}
	}
}
