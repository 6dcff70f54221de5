package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelgames/taleweaver/game"
	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/internal/profile"
	"github.com/kestrelgames/taleweaver/internal/version"
	"github.com/kestrelgames/taleweaver/journeylog"
	"github.com/kestrelgames/taleweaver/server"
)

var (
	rootCmd = &cobra.Command{
		Use:     "taleweaver",
		Short:   `An LLM-driven turn engine for text adventures. One player action in, one narrative beat and its world-state writes out.`,
		Version: version.StringFull(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			// Systemd service uses /etc/taleweaver/config for environment variables
			if !isRunningAsSystemdService() {
				// Try to load .env file from current directory (ignore error if file doesn't exist)
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode:        viper.GetString("mode"),
				Addr:        viper.GetString("addr"),
				Port:        viper.GetInt("port"),
				Data:        viper.GetString("data"),
				DSN:         viper.GetString("dsn"),
				InstanceURL: viper.GetString("instance-url"),
				Version:     version.String(),
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				printConfigError(err)
				slog.Error("invalid profile", "error", err)
				return
			}

			cfg := game.NewConfigFromProfile(instanceProfile)
			if err := cfg.Validate(); err != nil {
				printConfigError(err)
				slog.Error("invalid configuration", "error", err)
				return
			}

			logging.Setup(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSONFormat)

			ctx, cancel := context.WithCancel(context.Background())
			store := journeylog.NewClient(cfg.Store)

			s, err := server.NewServer(ctx, instanceProfile, cfg, store)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					slog.Error("failed to start server", "error", err)
					cancel()
				}
			}

			printGreetings(instanceProfile, cfg)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 8700)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8700, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory for the turn audit archive")
	rootCmd.PersistentFlags().String("dsn", "", "audit archive database path")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your taleweaver instance")

	if err := viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("data", rootCmd.PersistentFlags().Lookup("data")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("instance-url", rootCmd.PersistentFlags().Lookup("instance-url")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("taleweaver")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(instanceProfile *profile.Profile, cfg *game.Config) {
	fmt.Printf("TaleWeaver %s started successfully!\n", instanceProfile.Version)

	if instanceProfile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Mode: %s\n", instanceProfile.Mode)
	if cfg.LLM.StubMode {
		fmt.Printf("Narrative model: stub (canned narratives, no remote calls)\n")
	} else {
		fmt.Printf("Narrative model: %s via %s\n", cfg.LLM.Model, cfg.LLM.Provider)
	}
	fmt.Printf("Journey-log store: %s\n", cfg.Store.BaseURL)
	if cfg.Audit.ArchiveEnabled {
		fmt.Printf("Audit archive: %s\n", cfg.Audit.ArchiveDSN)
	}

	// Connection information
	if len(instanceProfile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", instanceProfile.Port)
		fmt.Printf("Process a turn: POST http://localhost:%d/api/v1/turns\n", instanceProfile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
		fmt.Printf("Process a turn: POST http://%s:%d/api/v1/turns\n", instanceProfile.Addr, instanceProfile.Port)
	}

	fmt.Println()
	fmt.Printf("Documentation: %s\n", "https://github.com/kestrelgames/taleweaver")
	fmt.Println("\nHappy adventuring!")
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printConfigError provides user-friendly messages for common setup mistakes
func printConfigError(err error) {
	fmt.Fprintln(os.Stderr, "\n❌ Invalid Configuration")
	fmt.Fprintln(os.Stderr, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "API key"):
		fmt.Fprintln(os.Stderr, "\n📌 The LLM provider needs an API key.")
		fmt.Fprintf(os.Stderr, "\n   Set one of:\n")
		fmt.Fprintf(os.Stderr, "   ■ export TALEWEAVER_LLM_API_KEY=sk-...\n")
		fmt.Fprintf(os.Stderr, "   ■ Or run without a provider: TALEWEAVER_LLM_STUB_MODE=true\n")

	case strings.Contains(errMsg, "journey-log"):
		fmt.Fprintln(os.Stderr, "\n📌 The journey-log store URL is not usable.")
		fmt.Fprintf(os.Stderr, "\n   ■ export TALEWEAVER_JOURNEY_LOG_BASE_URL=http://localhost:8600\n")

	case strings.Contains(errMsg, "data folder"):
		fmt.Fprintln(os.Stderr, "\n📌 The audit archive needs a writable data directory.")
		fmt.Fprintf(os.Stderr, "\n   ■ mkdir -p ./data && ./taleweaver --data=./data\n")
		fmt.Fprintf(os.Stderr, "   ■ Or disable it: TALEWEAVER_AUDIT_ARCHIVE_ENABLED=false\n")

	default:
		fmt.Fprintln(os.Stderr, "\n📌 Error:", errMsg)
	}

	// Check if .env file exists
	if _, statErr := os.Stat(".env"); statErr == nil {
		fmt.Fprintf(os.Stderr, "\n💡 Found .env file - configuration loaded from current directory.\n")
	} else {
		fmt.Fprintf(os.Stderr, "\n💡 Tip: Create a .env file for local configuration (see .env.example)\n")
	}

	fmt.Fprintln(os.Stderr, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
