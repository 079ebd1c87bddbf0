package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/omicscout/omicscout/internal/llm"
)

func newAskCmd() *cobra.Command {
	var sessionID string
	var analyze bool
	var plan bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question non-interactively",
		Example: `  omicscout ask "single-cell RNA-seq datasets for human pancreatic islets"
  omicscout ask --analyze "ATAC-seq in mouse cortex"
  omicscout ask --plan "bulk RNA-seq, human liver fibrosis"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runAsk(question, sessionID, analyze, plan)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (default: new session)")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "run structured query analysis instead of a plain answer")
	cmd.Flags().BoolVar(&plan, "plan", false, "generate a structured retrieval plan instead of a plain answer")

	return cmd
}

func runAsk(question, sessionID string, analyze, plan bool) error {
	cfg := initConfig()
	logger := newLogger()

	svc, err := buildService(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var events <-chan llm.StreamEvent
	switch {
	case analyze:
		events, err = svc.AnalyzeQueryStream(ctx, question, sessionID)
	case plan:
		events, err = svc.GeneratePlanStream(ctx, question, sessionID)
	default:
		events, err = svc.AskStream(ctx, question, "", sessionID, "")
	}
	if err != nil {
		return err
	}

	return printEvents(events)
}

// printEvents renders a stream to the terminal: reasoning on stderr, answer
// text and final payloads on stdout.
func printEvents(events <-chan llm.StreamEvent) error {
	for ev := range events {
		switch ev.Kind {
		case llm.EventStatus:
			fmt.Fprintf(os.Stderr, "[%s]\n", ev.Status)
		case llm.EventReasoning:
			fmt.Fprintln(os.Stderr, ev.Delta)
		case llm.EventContent:
			fmt.Print(ev.Delta)
		case llm.EventFinal:
			printPayload(ev)
		case llm.EventError:
			return fmt.Errorf("%s", ev.Message)
		case llm.EventDone:
			fmt.Println()
		}
	}
	return nil
}

func printPayload(ev llm.StreamEvent) {
	if ev.Fallback {
		fmt.Fprintln(os.Stderr, "[unstructured response, best-effort payload]")
	}
	out, err := json.MarshalIndent(ev.Payload, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "render payload:", err)
		return
	}
	fmt.Println(string(out))
}
