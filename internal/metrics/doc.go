// Package metrics provides functionality for collecting node usage metrics
// from a Kubernetes cluster. It lists the metrics.k8s.io NodeMetrics
// resources served by metrics-server and returns them as one snapshot,
// retrying transient API failures with a bounded back-off.
package metrics
