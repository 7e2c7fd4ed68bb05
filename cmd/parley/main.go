// parley
//
// A terminal chat client for hosted language models. Type a message, watch
// the reply stream in, type "exit" to leave.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parley-cli/parley/internal/agent"
	"github.com/parley-cli/parley/internal/chat"
	"github.com/parley-cli/parley/internal/config"
	"github.com/parley-cli/parley/internal/history"
	"github.com/parley-cli/parley/internal/llm"
	"github.com/parley-cli/parley/internal/logger"
)

var (
	version = "dev"

	configPath string
	modelFlag  string
	systemFlag string
	logLevel   string
	oneShot    string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with a hosted language model from your terminal",
	Long: `parley streams replies from a hosted language model to your terminal.

  parley                         Start an interactive session (type "exit" to quit)
  parley --prompt "question"     Ask one question and exit
  parley --model gpt-4o          Override the configured model

The credential comes from the API_KEY environment variable (a .env file in
the working directory is honored). See config.yaml for providers, the system
prompt, and MCP tool servers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (overrides CONFIG_PATH)")
	rootCmd.Flags().StringVar(&modelFlag, "model", "", "model name (overrides config)")
	rootCmd.Flags().StringVar(&systemFlag, "system", "", "system prompt (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVarP(&oneShot, "prompt", "p", "", "run a single request and exit")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if modelFlag != "" {
		cfg.LLM.Model = modelFlag
	}
	if systemFlag != "" {
		cfg.LLM.SystemPrompt = systemFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger.SetLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	ag := agent.New(client, *cfg)
	defer ag.Close()

	transcript := history.New()
	logger.L.Info("session started",
		"session_id", transcript.ID(),
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)

	sess := chat.New(ag, transcript, os.Stdin, os.Stdout, cfg.Chat.Prompt)
	if oneShot != "" {
		return sess.RunOnce(ctx, oneShot)
	}

	fmt.Printf("parley %s — chatting with %s (type %q to quit)\n", version, cfg.LLM.Model, chat.ExitCommand)
	return sess.Run(ctx)
}

func main() {
	// A .env in the working directory may carry API_KEY; ignore if absent.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
