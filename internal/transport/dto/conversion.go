package dto

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// FromUnstructuredList converts the dynamic client's list into the wire
// snapshot without reinterpreting any field.
func FromUnstructuredList(list *unstructured.UnstructuredList) (*NodeMetricsList, error) {
	raw, err := list.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode node metrics list: %w", err)
	}

	snapshot := &NodeMetricsList{}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode node metrics list: %w", err)
	}
	if snapshot.Items == nil {
		snapshot.Items = []NodeMetrics{}
	}
	return snapshot, nil
}
