// Package normalize converts the raw values reported by the cluster metrics
// API into the units and datetime format stored in the node_metrics table.
// CPU usage arrives in nanocores and is stored in millicores, memory usage
// arrives in kibibytes and is stored in mebibytes.
package normalize
