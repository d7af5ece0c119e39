package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"openfms/framekit/internal/config"
	"openfms/framekit/internal/logging"
)

// Set at build time with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "framekit",
		Short: "Protocol-agnostic device gateway",
		Long: "framekit accepts device connections, cuts their byte streams into frames\n" +
			"and builds outbound commands from declarative message structures.",
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the TCP gateway and management API",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
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
	rootCmd.AddCommand(serveCmd, versionCmd, buildCmd, frameCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().String("project", "", "protocol project file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Server flags
	rootCmd.PersistentFlags().String("gateway-id", "", "gateway id used in session keys and subjects")
	rootCmd.PersistentFlags().Int("gateway-port", 0, "device TCP port")
	rootCmd.PersistentFlags().Int("http-port", 0, "management API port")
	rootCmd.PersistentFlags().String("default-protocol", "", "protocol for connections no match prefix identifies")

	initToolFlags()
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

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("project_file", cfg.ProjectFile).
		Str("gateway_id", cfg.GatewayID).
		Int("gateway_port", cfg.GatewayPort).
		Int("http_port", cfg.HTTPPort).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	app, err := NewApp(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return app.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("framekit\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("project").Changed {
		cfg.ProjectFile, _ = cmd.Flags().GetString("project")
	}
	if cmd.Flag("log-level").Changed {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.LogPretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("gateway-id").Changed {
		cfg.GatewayID, _ = cmd.Flags().GetString("gateway-id")
	}
	if cmd.Flag("gateway-port").Changed {
		cfg.GatewayPort, _ = cmd.Flags().GetInt("gateway-port")
	}
	if cmd.Flag("http-port").Changed {
		cfg.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flag("default-protocol").Changed {
		cfg.DefaultProtocol, _ = cmd.Flags().GetString("default-protocol")
	}
}
