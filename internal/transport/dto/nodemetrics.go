package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NodeMetricsList is one collection cycle's snapshot as returned by the
// metrics.k8s.io API. List metadata is carried through untouched.
type NodeMetricsList struct {
	Kind       string          `json:"kind"`
	APIVersion string          `json:"apiVersion"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Items      []NodeMetrics   `json:"items"`
}

// NodeMetrics is one node's usage at one instant.
type NodeMetrics struct {
	Metadata  ObjectMeta `json:"metadata"`
	Timestamp string     `json:"timestamp"`
	Window    string     `json:"window"`
	Usage     Usage      `json:"usage"`
}

// Validate reports every required field missing from the snapshot. An empty
// items list is valid, an absent one is not.
func (l *NodeMetricsList) Validate() error {
	var missing []string
	if l.Kind == "" {
		missing = append(missing, "kind")
	}
	if l.APIVersion == "" {
		missing = append(missing, "apiVersion")
	}
	if l.Items == nil {
		missing = append(missing, "items")
	}
	for i, item := range l.Items {
		for _, field := range item.missingFields() {
			missing = append(missing, fmt.Sprintf("items[%d].%s", i, field))
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

func (m NodeMetrics) missingFields() []string {
	var missing []string
	if !m.Metadata.present() {
		missing = append(missing, "metadata")
	}
	if m.Metadata.Name == "" {
		missing = append(missing, "metadata.name")
	}
	if m.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if m.Window == "" {
		missing = append(missing, "window")
	}
	if m.Usage == (Usage{}) {
		missing = append(missing, "usage")
	}
	return missing
}

// ObjectMeta exposes the node name and keeps every other field verbatim.
type ObjectMeta struct {
	Name string
	raw  json.RawMessage
}

func (m *ObjectMeta) UnmarshalJSON(data []byte) error {
	var fields struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	m.Name = fields.Name
	m.raw = append(m.raw[:0], data...)
	return nil
}

// present is false when metadata was absent or null on the wire. A value
// built in code counts as present once it carries a name.
func (m ObjectMeta) present() bool {
	if len(m.raw) == 0 {
		return m.Name != ""
	}
	return string(m.raw) != "null"
}

func (m ObjectMeta) MarshalJSON() ([]byte, error) {
	if len(m.raw) > 0 {
		return m.raw, nil
	}
	return json.Marshal(struct {
		Name string `json:"name"`
	}{Name: m.Name})
}

// Usage holds the raw usage values: nanocores for cpu, kibibytes for memory.
type Usage struct {
	CPU    Quantity `json:"cpu"`
	Memory Quantity `json:"memory"`
}

// Quantity keeps a usage value as text. The API reports suffixed strings
// ("123456n", "2048Ki") but bare JSON integers are accepted as well.
type Quantity string

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("usage value must be a string or a number: %w", err)
	}
	*q = Quantity(n.String())
	return nil
}

func (q Quantity) String() string { return string(q) }
