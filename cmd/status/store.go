package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"

	"github.com/prh-dash/dash-status/internal/browser"
	"github.com/prh-dash/dash-status/internal/prober"
	"github.com/prh-dash/dash-status/internal/runner"
	"github.com/prh-dash/dash-status/internal/runstore"
	"github.com/prh-dash/dash-status/pkg/kubeclient"
)

// createRunStore creates the run store selected by database_engine. The
// clientset is only returned for the kubernetes engine and is used by /readyz.
func createRunStore(ctx context.Context) (runstore.RunStorage, kubernetes.Interface, error) {
	engine := resolveEngine(viper.GetString("database_engine"))

	switch engine {
	case "local":
		store, err := runstore.NewLocalRunStore(viper.GetString("data_dir"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create local run store: %w", err)
		}
		log.Printf("Using local run store in %q", store.Directory)
		return runstore.NewInstrumentedRunStore(store), nil, nil

	case "kubernetes":
		client, err := kubeclient.NewClient(kubeclient.Config{KubeconfigPath: viper.GetString("kubeconfig")})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		namespace := kubeclient.ResolveNamespace(viper.GetString("namespace"))
		store, err := runstore.NewKubernetesRunStore(ctx, client.Clientset(), namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes run store: %w", err)
		}
		log.Printf("Using kubernetes run store in namespace %q on %s (in-cluster: %t)", namespace, client.Config().Host, client.IsInCluster())
		return runstore.NewInstrumentedRunStore(store), client.Clientset(), nil

	case "sqlite":
		store, err := runstore.NewSQLiteRunStore(ctx, viper.GetString("sqlite_path"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite run store: %w", err)
		}
		log.Printf("Using sqlite run store at %q", viper.GetString("sqlite_path"))
		return runstore.NewInstrumentedRunStore(store), nil, nil

	case "none":
		log.Printf("Run recording disabled")
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database engine %q: expected auto, local, kubernetes, sqlite or none", engine)
	}
}

// resolveEngine maps "auto" to kubernetes inside a pod and local elsewhere.
func resolveEngine(engine string) string {
	if engine != "auto" {
		return engine
	}
	if kubeclient.IsRunningInK8sCluster() {
		log.Printf("Kubernetes environment detected, using the kubernetes run store")
		return "kubernetes"
	}
	return "local"
}

// configuredTargets reads the target list. Entries may themselves be
// comma-separated so a single DASH_STATUS_TARGETS variable can carry the list.
func configuredTargets() []string {
	var targets []string
	for _, entry := range viper.GetStringSlice("targets") {
		for _, target := range strings.Split(entry, ",") {
			if target = strings.TrimSpace(target); target != "" {
				targets = append(targets, target)
			}
		}
	}
	return targets
}

func createProber() (*prober.Prober, error) {
	launcher := browser.NewChromeLauncher(browser.Config{
		RemoteURL:         viper.GetString("chrome_remote_url"),
		ExecPath:          viper.GetString("chrome_path"),
		Headless:          viper.GetBool("headless"),
		NoSandbox:         viper.GetBool("no_sandbox"),
		NavigationTimeout: viper.GetDuration("navigation_timeout"),
	})

	opts := []prober.Option{prober.WithDebug(viper.GetString("log_level") == "debug")}
	if targets := configuredTargets(); len(targets) > 0 {
		opts = append(opts, prober.WithTargets(targets))
	}
	if headers := viper.GetStringMapString("headers"); len(headers) > 0 {
		opts = append(opts, prober.WithHeaders(headers))
	}

	p, err := prober.New(launcher, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prober: %w", err)
	}
	return p, nil
}

// createRunner wires the prober to the configured run store. The returned
// cleanup closes the store.
func createRunner(ctx context.Context) (*runner.Runner, func(), error) {
	store, _, err := createRunStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return newRunner(store)
}

func newRunner(store runstore.RunStorage) (*runner.Runner, func(), error) {
	cleanup := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("Failed to close run store: %v", err)
			}
		}
	}

	p, err := createProber()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	r, err := runner.New(p, store, runner.WithMaxRuns(viper.GetInt("max_runs")))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create runner: %w", err)
	}
	return r, cleanup, nil
}
