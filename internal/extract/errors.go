package extract

import (
	"fmt"
	"sort"
	"strings"
)

// StructuralError reports expected markup that is absent, or a node of the
// wrong kind for a stage. It is fatal to the extraction.
type StructuralError struct {
	Stage  int
	Step   int
	Tag    string
	Attrs  map[string]string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stage %d: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("stage %d step %d: tag %q with attributes %s not found", e.Stage, e.Step, e.Tag, formatAttrs(e.Attrs))
}

// TransformError reports a transform that could not be applied.
type TransformError struct {
	Stage     int
	Transform Transform
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("stage %d: transform %s: %v", e.Stage, e.Transform, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
