package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/omicscout/omicscout/internal/config"
	"github.com/omicscout/omicscout/internal/llm"
	"github.com/omicscout/omicscout/internal/provider"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string
	tierFlag     string

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "omicscout",
		Short: "LLM-assisted genomics dataset discovery",
		Long: "omicscout analyzes natural-language research questions, plans dataset\n" +
			"retrieval across public genomics repositories and drafts analysis code,\n" +
			"driven by a remote completion provider.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/omicscout/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().StringVar(&tierFlag, "tier", "", "preferred processing tier (e.g. flex)")

	// Subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if tierFlag != "" {
		cfg.PreferredTier = tierFlag
	}

	return cfg
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// buildClient creates a provider client based on configuration.
func buildClient(cfg *config.Config) (provider.Client, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)
	defaults := config.LoadProviderDefaults()

	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY",
			name, name,
		)
	}

	// Determine model: CLI flag > config file > provider defaults YAML
	model := cfg.Model
	if model == "" && pc.Model != "" {
		model = pc.Model
	}
	if model == "" {
		model = defaults[name].DefaultModel
	}

	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second

	switch name {
	case "anthropic":
		return provider.NewAnthropicClient(apiKey, model, timeout), nil
	default:
		// All other providers use OpenAI-compatible API
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = defaults[name].BaseURL
		}
		if baseURL == "" && name != "openai" {
			return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
		}
		return provider.NewOpenAIClient(apiKey, baseURL, model, timeout), nil
	}
}

// buildService wires the orchestration core from configuration.
func buildService(cfg *config.Config, recorder llm.AnalysisRecorder, logger *slog.Logger) (*llm.Service, error) {
	client, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewService(client, llm.ServiceConfig{
		SystemPrompt:       cfg.SystemPrompt,
		Model:              cfg.Model,
		PreferredTier:      cfg.PreferredTier,
		ContextWindows:     cfg.ContextWindows,
		MaxHistoryChars:    cfg.MaxHistoryChars,
		ReasoningVerbosity: cfg.ReasoningVerbosity,
	}, recorder, logger), nil
}
