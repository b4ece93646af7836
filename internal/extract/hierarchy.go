package extract

import (
	"errors"
	"fmt"
	"strings"
)

// InputKind selects the traversal rules of a stage.
type InputKind string

// Input kinds.
const (
	InputMarkup   InputKind = "markup"
	InputDocument InputKind = "document"
)

// Transform names a pure function applied to a stage's output.
type Transform string

// Transforms dispatched by the engine.
const (
	TransformNone Transform = ""
	// TransformJSON decodes the node text into a document.
	TransformJSON Transform = "json"
	// TransformText turns a markup node into its trimmed text.
	TransformText Transform = "text"
	// TransformSelectKeys filters a map, or each map of a list, to Args.
	TransformSelectKeys Transform = "select_keys"
	// TransformByLabel reshapes a list of labelled maps into label -> map of Args.
	TransformByLabel Transform = "by_label"
	// TransformLabelValues reshapes a list of labelled maps into label -> "values".
	TransformLabelValues Transform = "label_values"
	// TransformPluck flattens a list of maps into the values of the Args keys.
	TransformPluck Transform = "pluck"
)

// Step narrows the current node to the first descendant (markup) or child key
// (document) named Tag. Attrs filters markup matches; empty matches any node.
// Attribute values match exactly, except class, which matches by token so
// {class: "a b"} selects a node whose classes include both a and b.
type Step struct {
	Tag   string            `yaml:"tag"`
	Attrs map[string]string `yaml:"attrs,omitempty"`
}

// Stage is one descent plus an optional transform.
type Stage struct {
	Input     InputKind `yaml:"input"`
	Path      []Step    `yaml:"path"`
	Transform Transform `yaml:"transform,omitempty"`
	Args      []string  `yaml:"args,omitempty"`
}

// Hierarchy is an ordered stage list. Attributes lists keys the caller
// requires in the final document.
type Hierarchy struct {
	Stages     []Stage  `yaml:"stages"`
	Attributes []string `yaml:"attributes,omitempty"`
}

// Validate checks the hierarchy is well formed.
func (h Hierarchy) Validate() error {
	if len(h.Stages) == 0 {
		return errors.New("hierarchy has no stages")
	}
	for i, st := range h.Stages {
		if st.Input != InputMarkup && st.Input != InputDocument {
			return fmt.Errorf("stage %d: unknown input kind %q", i, st.Input)
		}
		for j, step := range st.Path {
			if strings.TrimSpace(step.Tag) == "" {
				return fmt.Errorf("stage %d step %d: tag is required", i, j)
			}
			if st.Input == InputDocument && len(step.Attrs) > 0 {
				return fmt.Errorf("stage %d step %d: attribute filters apply to markup only", i, j)
			}
		}
		if err := validateTransform(st); err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return nil
}

func validateTransform(st Stage) error {
	switch st.Transform {
	case TransformNone, TransformJSON:
		return nil
	case TransformText:
		if st.Input != InputMarkup {
			return errors.New("text transform requires markup input")
		}
		return nil
	case TransformSelectKeys, TransformByLabel, TransformPluck:
		if st.Input != InputDocument {
			return fmt.Errorf("%s transform requires document input", st.Transform)
		}
		if len(st.Args) == 0 {
			return fmt.Errorf("%s transform requires args", st.Transform)
		}
		return nil
	case TransformLabelValues:
		if st.Input != InputDocument {
			return fmt.Errorf("%s transform requires document input", st.Transform)
		}
		return nil
	default:
		return fmt.Errorf("unknown transform %q", st.Transform)
	}
}
