// Package linkstore reads and writes the repository-level link database.
package linkstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/gitmarks/internal/apperr"
)

// Record is one bookmark in the link store.
type Record struct {
	Title      string   `yaml:"title"`
	Target     string   `yaml:"target"`
	Standalone bool     `yaml:"standalone,omitempty"`
	OwnLabels  []string `yaml:"ownLabels,omitempty"`
}

// Validate validates a record.
func (r *Record) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Target, validation.Required),
	)
}

type document struct {
	Links []Record `yaml:"links"`
}

// Sort orders records canonically: standalone first, then by title
// (case-insensitive), then by target.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Standalone != b.Standalone {
			return a.Standalone
		}
		if la, lb := strings.ToLower(a.Title), strings.ToLower(b.Title); la != lb {
			return la < lb
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.Target < b.Target
	})
}

// Serialize renders records in canonical order.
func Serialize(records []Record) (string, error) {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	Sort(sorted)
	for i := range sorted {
		if len(sorted[i].OwnLabels) == 0 {
			sorted[i].OwnLabels = nil
		}
	}
	out, err := yaml.Marshal(document{Links: sorted})
	if err != nil {
		return "", fmt.Errorf("linkstore: marshal: %w", err)
	}
	return string(out), nil
}

// Parse decodes a link store. Empty input yields no records.
func Parse(text string) ([]Record, error) {
	if strings.TrimSpace(text) == "" {
		return []Record{}, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(text)))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []Record{}, nil
		}
		return nil, &apperr.ParseError{Source: "link store", Reason: err.Error(), Err: err}
	}
	for i := range doc.Links {
		if err := doc.Links[i].Validate(); err != nil {
			return nil, &apperr.ParseError{
				Source: "link store",
				Reason: fmt.Sprintf("links[%d]: %v", i, err),
				Err:    err,
			}
		}
	}
	if doc.Links == nil {
		return []Record{}, nil
	}
	return doc.Links, nil
}
