package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prh-dash/dash-status/internal/metrics"
	"github.com/prh-dash/dash-status/internal/prober"
)

const envPrefix = "DASH_STATUS"

// bindFlag binds a command flag to a viper key. Lookup only fails for flags
// that were never defined.
func bindFlag(cmd *cobra.Command, key, flag string) {
	_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
}

func bindPersistentFlag(cmd *cobra.Command, key, flag string) {
	_ = viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
}

func newRootCmd() *cobra.Command {
	// rootCmd represents the base command when called without any subcommands
	rootCmd := &cobra.Command{
		Use:           "dash-status",
		Short:         "Availability prober for the hosted dashboards.",
		Long:          `dash-status loads each dashboard in a headless browser, records every probe run and serves the results over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.SetEnvPrefix(envPrefix)
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			viper.AutomaticEnv()

			configPath := viper.GetString("config")
			if configPath != "" {
				viper.SetConfigFile(configPath)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config: %w", err)
				}
				log.Printf("Loaded config from %q", configPath)
			}
			return nil
		},
	}

	// General config flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to Viper config")
	flags.String("log-level", "info", "Log verbosity: debug, info")

	// Prober flags
	flags.StringSlice("targets", prober.DefaultTargets, "Ordered list of dashboard URLs to probe")
	flags.Duration("navigation-timeout", 30*time.Second, "Max time to wait for a page to reach network idle")
	flags.String("chrome-path", "", "Path to the Chrome binary (default: found on PATH)")
	flags.String("chrome-remote-url", "", "DevTools websocket URL of a running Chrome to use instead of starting one")
	flags.Bool("headless", true, "Run Chrome headless")
	flags.Bool("no-sandbox", false, "Disable the Chrome sandbox (needed in most containers)")

	// Run store flags
	flags.String("database-engine", "local", "Backend for recorded runs: auto, local, kubernetes, sqlite or none")
	flags.String("data-dir", "data", "Directory for the local run store")
	flags.String("sqlite-path", "dash-status.db", "Database file for the sqlite run store")
	flags.String("kubeconfig", "", "Path to kubeconfig file (optional, for out-of-cluster development)")
	flags.String("namespace", "", "Namespace for run configmaps (default: the pod's namespace)")
	flags.Int("max-runs", 500, "Number of runs to keep; 0 keeps everything")

	bindPersistentFlag(rootCmd, "config", "config")
	bindPersistentFlag(rootCmd, "log_level", "log-level")
	bindPersistentFlag(rootCmd, "targets", "targets")
	bindPersistentFlag(rootCmd, "navigation_timeout", "navigation-timeout")
	bindPersistentFlag(rootCmd, "chrome_path", "chrome-path")
	bindPersistentFlag(rootCmd, "chrome_remote_url", "chrome-remote-url")
	bindPersistentFlag(rootCmd, "headless", "headless")
	bindPersistentFlag(rootCmd, "no_sandbox", "no-sandbox")
	bindPersistentFlag(rootCmd, "database_engine", "database-engine")
	bindPersistentFlag(rootCmd, "data_dir", "data-dir")
	bindPersistentFlag(rootCmd, "sqlite_path", "sqlite-path")
	bindPersistentFlag(rootCmd, "kubeconfig", "kubeconfig")
	bindPersistentFlag(rootCmd, "namespace", "namespace")
	bindPersistentFlag(rootCmd, "max_runs", "max-runs")

	rootCmd.AddCommand(newServeCmd(), newProbeCmd(), newTargetsCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the scheduled prober",
		Long:  `Serves the fetch trigger on /, the runs API on /api/v1 and metrics on /metrics, and probes the dashboards on a schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listenAddr := fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
			if err := runWebServer(ctx, listenAddr); err != nil {
				return fmt.Errorf("web server failed: %w", err)
			}
			return nil
		},
	}

	serveCmd.Flags().IntP("port", "p", 8080, "Port to run the server on (e.g., 8080)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host address to bind")
	serveCmd.Flags().Duration("read-timeout", 5*time.Second, "Max duration for reading the entire request (e.g. 5s)")
	serveCmd.Flags().Duration("write-timeout", 120*time.Second, "Max duration before timing out writes; covers a full probe run")
	serveCmd.Flags().Duration("graceful-timeout", 15*time.Second, "Time allowed for graceful shutdown")
	serveCmd.Flags().Duration("schedule-interval", 5*time.Minute, "Period of the scheduled probe; 0 disables it")

	bindFlag(serveCmd, "port", "port")
	bindFlag(serveCmd, "host", "host")
	bindFlag(serveCmd, "read_timeout", "read-timeout")
	bindFlag(serveCmd, "write_timeout", "write-timeout")
	bindFlag(serveCmd, "graceful_timeout", "graceful-timeout")
	bindFlag(serveCmd, "schedule_interval", "schedule-interval")

	return serveCmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe every dashboard once and exit",
		Long:  `Runs the scheduled check once and exits non-zero if any dashboard failed to load or did not answer 200. Suitable for an external cron.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics.RegisterMetrics()
			r, cleanup, err := createRunner(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := r.Scheduled(ctx); err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), prober.JoinTargets(r.Targets()))
			return nil
		},
	}
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "Print the configured target list without probing",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := createProber()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prober.JoinTargets(p.Targets()))
			return nil
		},
	}
}

func main() {
	log.SetOutput(os.Stdout)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
