package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/malbeclabs/retail-insights/pkg/assistant"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
	"github.com/spf13/cobra"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		mode  string
		trace bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := workflow.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.answer(ctx, cmd.OutOrStdout(), opts, strings.Join(args, " "), m, trace)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(workflow.ModeQA), "qa or summary")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the generated SQL and validation status")
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Generate an executive summary across all datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel = context.WithTimeout(ctx, opts.queryTimeout)
			defer cancel()
			text, err := a.assistant.GetSummary(ctx)
			if err != nil {
				a.log.Error("summary failed", "error", err)
				return fmt.Errorf("failed to generate summary")
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

// newChatCmd runs an interactive session. Unlike one-shot commands, the
// cache and the query log persist across questions, so metrics and alerts
// are meaningful here.
func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session (type 'summary', 'metrics', 'alerts' or 'exit')",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.chat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, opts *options) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "metrics":
			renderMetrics(out, newMetricsView(a.assistant.GetPerformanceMetrics(), a.assistant.CostSummary()))
			continue
		case "alerts":
			renderAlerts(out, a.assistant.GetAlerts(0, 0))
			continue
		case "summary":
			line = assistant.SummaryPrompt
			if err := a.answer(ctx, out, opts, line, workflow.ModeSummary, false); err != nil {
				fmt.Fprintln(out, err)
			}
			continue
		}
		if err := a.answer(ctx, out, opts, line, workflow.ModeQA, false); err != nil {
			fmt.Fprintln(out, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *app) answer(ctx context.Context, out io.Writer, opts *options, question string, mode workflow.Mode, trace bool) error {
	ctx, cancel := context.WithTimeout(ctx, opts.queryTimeout)
	defer cancel()

	if trace {
		st, err := a.assistant.Trace(ctx, question, mode)
		if err != nil {
			a.log.Error("question failed", "error", err)
			return fmt.Errorf("failed to answer question")
		}
		fmt.Fprintln(out, st.FinalResponse)
		renderMessages(out, st.SQL, string(st.Status), st.Iteration)
		return nil
	}

	text, err := a.assistant.ProcessQuery(ctx, question, mode)
	if err != nil {
		a.log.Error("question failed", "error", err)
		return fmt.Errorf("failed to answer question")
	}
	fmt.Fprintln(out, text)
	return nil
}

