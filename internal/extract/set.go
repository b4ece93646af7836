package extract

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed hierarchies.yaml
var defaultHierarchies []byte

// Set groups the hierarchies needed to process listing and detail pages.
// Fields are applied to the document produced by OfferDetails.
type Set struct {
	Pagination   Hierarchy            `yaml:"pagination"`
	OfferLinks   Hierarchy            `yaml:"offer_links"`
	OfferDetails Hierarchy            `yaml:"offer_details"`
	Fields       map[string]Hierarchy `yaml:"fields"`
}

// DefaultSet returns the embedded hierarchy set.
func DefaultSet() (Set, error) {
	return ParseSet(defaultHierarchies)
}

// LoadSet reads a hierarchy set from a YAML file. An empty path returns the
// embedded default.
func LoadSet(path string) (Set, error) {
	if path == "" {
		return DefaultSet()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		return Set{}, fmt.Errorf("read hierarchies: %w", err)
	}
	return ParseSet(data)
}

// ParseSet decodes and validates a YAML hierarchy set.
func ParseSet(data []byte) (Set, error) {
	var s Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Set{}, fmt.Errorf("decode hierarchies: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Validate checks every hierarchy of the set.
func (s Set) Validate() error {
	named := map[string]Hierarchy{
		"pagination":    s.Pagination,
		"offer_links":   s.OfferLinks,
		"offer_details": s.OfferDetails,
	}
	for name, h := range named {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(s.Fields) == 0 {
		return errors.New("fields: at least one field hierarchy is required")
	}
	for _, name := range s.FieldNames() {
		h := s.Fields[name]
		if err := h.Validate(); err != nil {
			return fmt.Errorf("fields.%s: %w", name, err)
		}
		if h.Stages[0].Input != InputDocument {
			return fmt.Errorf("fields.%s: first stage must take document input", name)
		}
	}
	return nil
}

// FieldNames returns the field hierarchy names in sorted order.
func (s Set) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
