package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samjosdev/deepresearch/config"
	"github.com/samjosdev/deepresearch/internal/agent/core"
	"github.com/samjosdev/deepresearch/internal/agent/telemetry"
	"github.com/samjosdev/deepresearch/internal/notify"
	"github.com/samjosdev/deepresearch/session"
	"github.com/samjosdev/deepresearch/session/inmemory"
)

// researchCMD runs the research dialogue in the terminal, no server needed.
func researchCMD() *cobra.Command {
	var cfgPath string
	var research = &cobra.Command{
		Use:   "research [topic]",
		Short: "Run an interactive research session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			manager, cleanup, err := buildManager(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return runDialogue(cmd.Context(), manager, strings.Join(args, " "))
		},
	}
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return research
}

func buildManager(cfg *config.Config) (*session.Manager, func(), error) {
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	questions := core.NewQuestionAgent(cfg, llm, tele)
	planner := core.NewPlanner(cfg, llm, tele)
	searcher, err := core.NewSearchAgent(cfg, llm, tele)
	if err != nil {
		return nil, nil, err
	}
	writer := core.NewWriterAgent(cfg, llm, tele)
	runner := core.NewRunner(cfg, planner, searcher, writer, tele)

	var notifier core.Notifier
	if cfg.Email.APIKey != "" {
		notifier = notify.NewSendGridNotifier(cfg.Email, tele)
	}

	registry := inmemory.NewRegistry(cfg.Session.TTL, cfg.Session.SweepInterval)
	manager := session.NewManager(cfg, registry, questions, runner, notifier, nil)
	cleanup := func() {
		_ = registry.Close()
		tele.Shutdown()
	}
	return manager, cleanup, nil
}

func runDialogue(ctx context.Context, manager *session.Manager, firstMessage string) error {
	reader := bufio.NewReader(os.Stdin)
	conversationID := ""
	message := strings.TrimSpace(firstMessage)

	for {
		if message == "" {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil
			}
			message = strings.TrimSpace(line)
			if message == "" {
				continue
			}
			if message == "exit" || message == "quit" {
				return nil
			}
		}

		id, events, err := manager.HandleTurn(ctx, conversationID, message)
		if err != nil {
			return err
		}
		conversationID = id
		message = ""

		for ev := range events {
			switch ev.Kind {
			case session.TurnStatus:
				fmt.Printf("... %s\n", ev.Text)
			case session.TurnReport:
				fmt.Printf("\n%s\n\n", ev.Text)
			case session.TurnError:
				fmt.Fprintf(os.Stderr, "error: %s\n", ev.Text)
			default:
				fmt.Println(ev.Text)
			}
		}
	}
}
