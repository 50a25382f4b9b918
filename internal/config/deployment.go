package config

import (
	"fmt"
	"strings"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Deployment describes where the collector runs. It decides both the
// processor base URL and how Kubernetes credentials are obtained.
type Deployment interface {
	// Name identifies the mode in logs.
	Name() string
	// BaseURL is the processor root, without trailing slash.
	BaseURL() string
	// CredentialSource loads the rest config for the cluster metrics API.
	CredentialSource() (*rest.Config, error)
}

// ResolveDeployment picks local mode when METRICS_PROCESSOR_URL is set and
// cluster mode otherwise.
func ResolveDeployment(lookup LookupFunc) Deployment {
	if url := env(lookup, EnvProcessorURL, ""); url != "" {
		return LocalDeployment{URL: strings.TrimRight(url, "/")}
	}
	return ClusterDeployment{
		Service:   env(lookup, EnvProcessorService, defaultProcessorService),
		Namespace: env(lookup, EnvProcessorNamespace, defaultProcessorNamespace),
		Port:      env(lookup, EnvProcessorPort, defaultProcessorPort),
	}
}

// ClusterDeployment reaches the processor through its Service DNS name and
// authenticates with the pod's service account.
type ClusterDeployment struct {
	Service   string
	Namespace string
	Port      string
}

func (ClusterDeployment) Name() string { return "cluster" }

func (d ClusterDeployment) BaseURL() string {
	return fmt.Sprintf("http://%s.%s.svc:%s", d.Service, d.Namespace, d.Port)
}

func (ClusterDeployment) CredentialSource() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
	}
	return cfg, nil
}

// LocalDeployment is used during development: an absolute processor URL and
// the user's kubeconfig.
type LocalDeployment struct {
	URL string
}

func (LocalDeployment) Name() string { return "local" }

func (d LocalDeployment) BaseURL() string { return d.URL }

func (LocalDeployment) CredentialSource() (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg, nil
}
