package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/bookwright"
	"github.com/aixgo-dev/bookwright/internal/observability"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "bookwright",
		Short:         "Write a book through a guided generation pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			if err := observability.InitFromEnv(); err != nil {
				log.Printf("Warning: Failed to initialize tracing: %v", err)
			}
			metrics.InitMetrics()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(ctx); err != nil {
				log.Printf("Warning: tracing shutdown: %v", err)
			}
		},
	}

	configPath string
	envFile    string
	dryRun     bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getEnv("BOOKWRIGHT_CONFIG", "bookwright.yaml"), "Run configuration file (- reads stdin)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file with provider credentials")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Use the mock provider for every role")

	rootCmd.AddCommand(runCmd, resumeCmd, statusCmd, publishCmd, pruneCmd, serveCmd)
}

// loadConfig reads the config file. A missing default config file falls
// back to the built-in defaults; an explicitly named one must exist.
func loadConfig(cmd *cobra.Command) (*bookwright.Config, error) {
	loader := bookwright.NewConfigLoader(&bookwright.OSFileReader{})

	var (
		cfg *bookwright.Config
		err error
	)
	switch {
	case configPath == "-":
		cfg, err = loader.LoadConfigFrom(os.Stdin)
	default:
		cfg, err = loader.LoadConfig(configPath)
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") && os.Getenv("BOOKWRIGHT_CONFIG") == "" {
			cfg, err = bookwright.DefaultConfig(), nil
		}
	}
	if err != nil {
		return nil, err
	}

	if dryRun {
		cfg.UseMockProviders()
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*bookwright.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return bookwright.New(cmd.Context(), cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
