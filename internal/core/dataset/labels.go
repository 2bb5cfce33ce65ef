package dataset

import (
	"encoding/json"
	"fmt"
)

// LabelIndex maps original label values to contiguous zero-based indices.
// It is built once from the training data and reused for every split and for
// saved models so predictions keep the same meaning.
type LabelIndex struct {
	labels  []string
	indices map[string]int
}

// NewLabelIndex assigns indices in order of first appearance.
func NewLabelIndex(records []Record) *LabelIndex {
	li := &LabelIndex{indices: make(map[string]int)}
	for _, r := range records {
		if _, ok := li.indices[r.Label]; !ok {
			li.indices[r.Label] = len(li.labels)
			li.labels = append(li.labels, r.Label)
		}
	}
	return li
}

// LabelIndexFromLabels rebuilds an index where labels[i] has index i.
func LabelIndexFromLabels(labels []string) (*LabelIndex, error) {
	li := &LabelIndex{
		labels:  make([]string, 0, len(labels)),
		indices: make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		if _, ok := li.indices[l]; ok {
			return nil, fmt.Errorf("duplicate label '%s'", l)
		}
		li.indices[l] = i
		li.labels = append(li.labels, l)
	}
	return li, nil
}

func (li *LabelIndex) Len() int {
	return len(li.labels)
}

func (li *LabelIndex) Index(label string) (int, bool) {
	idx, ok := li.indices[label]
	return idx, ok
}

func (li *LabelIndex) Label(idx int) (string, error) {
	if idx < 0 || idx >= len(li.labels) {
		return "", fmt.Errorf("label index %d out of range [0, %d)", idx, len(li.labels))
	}
	return li.labels[idx], nil
}

// Labels returns a copy of the labels ordered by index.
func (li *LabelIndex) Labels() []string {
	return append([]string(nil), li.labels...)
}

func (li *LabelIndex) Equal(other *LabelIndex) bool {
	if other == nil || li.Len() != other.Len() {
		return false
	}
	for i, l := range li.labels {
		if other.labels[i] != l {
			return false
		}
	}
	return true
}

func (li *LabelIndex) Reindex(records []Record) ([]Example, error) {
	out := make([]Example, len(records))
	for i, r := range records {
		idx, ok := li.indices[r.Label]
		if !ok {
			return nil, fmt.Errorf("record %d has unknown label '%s'", i, r.Label)
		}
		out[i] = Example{Label: idx, Text: r.Question}
	}
	return out, nil
}

func (li *LabelIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(li.labels)
}

func (li *LabelIndex) UnmarshalJSON(data []byte) error {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	rebuilt, err := LabelIndexFromLabels(labels)
	if err != nil {
		return err
	}
	*li = *rebuilt
	return nil
}
