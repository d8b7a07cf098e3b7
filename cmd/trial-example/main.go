// Package main is a demonstration host application for the trial guard.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/trialguard/internal/config"
	"github.com/MacJediWizard/trialguard/internal/diagnostics"
	"github.com/MacJediWizard/trialguard/internal/httpclient"
	"github.com/MacJediWizard/trialguard/internal/license"
	"github.com/MacJediWizard/trialguard/internal/metrics"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// The trial identity is fixed by the application, not by its users.
const (
	appName   = "ExampleApp"
	trialDays = config.DefaultTrialDays
)

var (
	errTrialExpired = errors.New("trial expired or corrupted")
	errUnhealthy    = errors.New("diagnostics reported failures")
)

type globalFlags struct {
	configPath string
	offline    bool
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "trial-example",
		Short: "Example application protected by a time-limited trial",
		Long: `trial-example demonstrates how a host application embeds the trial guard.

Without a subcommand it behaves like 'run': it checks the trial, reports the
remaining time and keeps running until interrupted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, flags, runOptions{checkInterval: time.Minute})
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: <user config dir>/ExampleApp/trial.yml)")
	rootCmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "disable external time verification")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(flags),
		newStatusCmd(flags),
		newDiagnoseCmd(flags),
		newConfigCmd(flags),
	)
	rootCmd.AddCommand(adminCommands(flags)...)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trial-example %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

type runOptions struct {
	checkInterval time.Duration
	metricsAddr   string
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check the trial and run the application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, flags, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.checkInterval, "check-interval", time.Minute, "how often the trial is re-checked while running")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func runApp(cmd *cobra.Command, flags *globalFlags, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(flags.debug)
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return err
	}

	guard, err := license.New(ctx, cfg, license.WithLogger(logger), license.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initialize trial: %w", err)
	}

	fmt.Println("Trial License Example")
	fmt.Println("=====================")

	if !guard.IsTrialValid(ctx) {
		printExpired()
		return errTrialExpired
	}

	fmt.Println("Trial is valid!")
	fmt.Printf("Remaining days: %.1f\n", guard.RemainingDays(ctx))
	if expires, ok := guard.ExpirationDate(ctx); ok {
		fmt.Printf("Expiration date: %s\n", expires.Local().Format("2006-01-02 15:04:05"))
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", opts.metricsAddr).Msg("serving metrics")
	}

	fmt.Println()
	fmt.Println("Application is running...")
	fmt.Println("Press Ctrl+C to exit")

	if opts.checkInterval <= 0 {
		opts.checkInterval = time.Minute
	}
	ticker := time.NewTicker(opts.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nApplication closed by user")
			return nil
		case <-ticker.C:
			if !guard.IsTrialValid(ctx) {
				fmt.Println()
				printExpired()
				return errTrialExpired
			}
			logger.Debug().Float64("remaining_days", guard.RemainingDays(ctx)).Msg("trial still valid")
		}
	}
}

func printExpired() {
	fmt.Println("Trial has expired or been corrupted.")
	fmt.Println("Please purchase a license to continue using this application.")
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the trial status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			guard, err := license.New(cmd.Context(), cfg, license.WithLogger(newLogger(flags.debug)))
			if err != nil {
				return fmt.Errorf("initialize trial: %w", err)
			}

			status := guard.Status(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Printf("Application:     %s\n", status.AppName)
			fmt.Printf("State:           %s\n", status.State)
			fmt.Printf("Valid:           %t\n", status.Valid)
			fmt.Printf("Remaining days:  %.2f\n", status.RemainingDays)
			fmt.Printf("Installed:       %s\n", status.InstalledAt.Local().Format(time.RFC3339))
			if status.ExpiresAt != nil {
				fmt.Printf("Expires:         %s\n", status.ExpiresAt.Local().Format(time.RFC3339))
			} else {
				fmt.Printf("Expires:         -\n")
			}
			fmt.Printf("License file:    %s\n", cfg.LicenseFile)
			fmt.Printf("Online checks:   %t\n", cfg.OnlineVerification)
			fmt.Printf("Proxy:           %s\n", httpclient.ProxyInfo(&cfg.Proxy))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func newDiagnoseCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check fingerprint probes, storage and time sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := httpclient.NewWithConfig(cfg)
			if err != nil {
				return fmt.Errorf("create time source client: %w", err)
			}

			result := diagnostics.NewRunner(cfg, Version, diagnostics.WithClient(client)).Run(cmd.Context())
			if asJSON {
				data, err := result.ToJSON()
				if err != nil {
					return fmt.Errorf("encode diagnostics: %w", err)
				}
				fmt.Println(string(data))
			} else {
				for _, c := range result.Checks {
					fmt.Printf("[%-4s] %-18s %s\n", c.Status, c.Name, c.Message)
				}
				fmt.Printf("\n%d passed, %d warned, %d failed, %d skipped\n",
					result.Summary.Passed, result.Summary.Warned, result.Summary.Failed, result.Summary.Skipped)
			}

			if !result.Summary.Healthy {
				return errUnhealthy
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the trial configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(flags)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			cfg := hostConfig()
			cfg.OnlineVerification = !flags.offline
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			fmt.Printf("App name:        %s\n", cfg.AppName)
			fmt.Printf("Trial days:      %d\n", cfg.TrialDays)
			fmt.Printf("Online checks:   %t\n", cfg.OnlineVerification)
			fmt.Printf("License file:    %s\n", cfg.LicenseFile)
			fmt.Printf("Registry:        %s\\%s\n", cfg.RegistryKey, cfg.RegistryValue)
			fmt.Printf("Cache duration:  %s\n", cfg.CacheDuration)
			fmt.Printf("Time sources:    %d\n", len(cfg.TimeSources))
			fmt.Printf("Proxy:           %s\n", httpclient.ProxyInfo(&cfg.Proxy))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func configPath(flags *globalFlags) (string, error) {
	if flags.configPath != "" {
		return flags.configPath, nil
	}
	return config.DefaultConfigPath(appName)
}

// hostConfig returns the defaults with this application's identity.
func hostConfig() *config.TrialConfig {
	cfg := config.Default(appName)
	cfg.TrialDays = trialDays
	return cfg
}

// loadConfig reads the operational settings from the config file over the
// application's identity. --offline wins over the file.
func loadConfig(flags *globalFlags) (*config.TrialConfig, error) {
	path, err := configPath(flags)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path, hostConfig())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.offline {
		cfg.OnlineVerification = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
