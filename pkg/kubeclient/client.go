package kubeclient

import (
	"fmt"
	"log"
	"os"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const defaultNamespace = "default"

// serviceAccountDir is where the pod's service account is mounted.
var serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"

// Client wraps the clientset used by the kubernetes run store.
type Client struct {
	config      *rest.Config
	clientset   kubernetes.Interface
	isInCluster bool
}

// Config holds configuration options for creating a Kubernetes client
type Config struct {
	KubeconfigPath string
}

// NewClient creates a new Kubernetes client with the provided configuration
func NewClient(cfg Config) (*Client, error) {
	config, isInCluster, err := createConfig(cfg.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Client{
		config:      config,
		clientset:   clientset,
		isInCluster: isInCluster,
	}, nil
}

// Clientset returns the standard Kubernetes clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// Config returns the underlying rest.Config
func (c *Client) Config() *rest.Config {
	return c.config
}

// IsInCluster returns true if the client was created using in-cluster configuration
func (c *Client) IsInCluster() bool {
	return c.isInCluster
}

// IsRunningInK8sCluster checks if the current environment is a Kubernetes cluster
func IsRunningInK8sCluster() bool {
	if _, err := os.Stat(serviceAccountDir + "/token"); err == nil {
		return true
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// ResolveNamespace returns configured if set, then the namespace of the
// mounted service account, then "default".
func ResolveNamespace(configured string) string {
	if configured != "" {
		return configured
	}
	data, err := os.ReadFile(serviceAccountDir + "/namespace")
	if err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			return ns
		}
	}
	return defaultNamespace
}

// createConfig creates a Kubernetes client configuration
func createConfig(kubeconfigPath string) (*rest.Config, bool, error) {
	if kubeconfigPath != "" {
		config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create kubernetes client config from kubeconfig: %w", err)
		}
		return config, false, nil
	}

	config, err := rest.InClusterConfig()
	if err == nil {
		return config, true, nil
	}

	log.Printf("Could not create in-cluster config: %v. Trying to use kubeconfig.", err)
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create kubernetes client config from kubeconfig: %w", err)
	}

	return config, false, nil
}
