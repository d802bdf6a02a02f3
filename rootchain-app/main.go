package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/rootchain/log"
	"github.com/compose-network/rootchain/rootchain-app/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "rootchain",
		Short: "Plasma rootchain ledger",
		Long: "Commits child-chain checkpoints, escrows enter/exit requests and settles them " +
			"after their challenge windows, forking on user-activated exits.",
		RunE: runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd, configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults and env only when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// API flags
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")
	rootCmd.PersistentFlags().Bool("cors", false, "enable permissive CORS")

	// Ledger flags
	rootCmd.PersistentFlags().String("operator", "", "operator address allowed to submit NRB/ORB")
	rootCmd.PersistentFlags().Duration("withholding-period", 0, "block finalization delay")
	rootCmd.PersistentFlags().Duration("exit-period", 0, "request finalization delay")

	// Component flags
	rootCmd.PersistentFlags().String("journal-path", "", "LevelDB event journal directory")
	rootCmd.PersistentFlags().Bool("finalizer", true, "run the finalization poller")
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("journal_path", cfg.Journal.Path).
		Bool("finalizer_enabled", cfg.Finalizer.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("Rootchain\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("cors").Changed {
		cfg.API.EnableCORS, _ = cmd.Flags().GetBool("cors")
	}

	if cmd.Flag("operator").Changed {
		cfg.Rootchain.Operator, _ = cmd.Flags().GetString("operator")
	}
	if cmd.Flag("withholding-period").Changed {
		cfg.Rootchain.WithholdingPeriod, _ = cmd.Flags().GetDuration("withholding-period")
	}
	if cmd.Flag("exit-period").Changed {
		cfg.Rootchain.ExitPeriod, _ = cmd.Flags().GetDuration("exit-period")
	}

	if cmd.Flag("journal-path").Changed {
		cfg.Journal.Path, _ = cmd.Flags().GetString("journal-path")
	}
	if cmd.Flag("finalizer").Changed {
		cfg.Finalizer.Enabled, _ = cmd.Flags().GetBool("finalizer")
	}
	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
