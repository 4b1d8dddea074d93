// Package metadata reads and writes the YAML sidecar that stores labels and
// timestamps for a note or document.
package metadata

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/gitmarks/internal/apperr"
)

// TimeLayout is local time with second precision and no zone.
const TimeLayout = "2006-01-02T15:04:05"

// MetaData is the decoded sidecar.
type MetaData struct {
	Labels      []string
	TimeCreated time.Time
	TimeUpdated time.Time
}

// New returns metadata without labels created and updated at now.
func New(now time.Time) MetaData {
	now = now.Truncate(time.Second)
	return MetaData{Labels: []string{}, TimeCreated: now, TimeUpdated: now}
}

type document struct {
	Labels      []string `yaml:"labels"`
	TimeCreated string   `yaml:"timeCreated"`
	TimeUpdated string   `yaml:"timeUpdated"`
}

// Serialize renders m as sidecar YAML. Sub-second precision is dropped.
func Serialize(m MetaData) (string, error) {
	labels := m.Labels
	if labels == nil {
		labels = []string{}
	}
	out, err := yaml.Marshal(document{
		Labels:      labels,
		TimeCreated: m.TimeCreated.In(time.Local).Format(TimeLayout),
		TimeUpdated: m.TimeUpdated.In(time.Local).Format(TimeLayout),
	})
	if err != nil {
		return "", fmt.Errorf("metadata: marshal: %w", err)
	}
	return string(out), nil
}

// Parse decodes sidecar YAML. A missing or malformed timestamp, or labels
// that are not a string sequence, invalidate the whole record.
func Parse(text string) (MetaData, error) {
	var doc document
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return MetaData{}, &apperr.ParseError{Source: "metadata", Reason: err.Error(), Err: err}
	}
	created, err := parseTime("timeCreated", doc.TimeCreated)
	if err != nil {
		return MetaData{}, err
	}
	updated, err := parseTime("timeUpdated", doc.TimeUpdated)
	if err != nil {
		return MetaData{}, err
	}
	labels := doc.Labels
	if labels == nil {
		labels = []string{}
	}
	return MetaData{Labels: labels, TimeCreated: created, TimeUpdated: updated}, nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &apperr.ParseError{Source: "metadata", Reason: field + " is missing"}
	}
	t, err := time.ParseInLocation(TimeLayout, value, time.Local)
	if err != nil {
		return time.Time{}, &apperr.ParseError{Source: "metadata", Reason: fmt.Sprintf("%s: %v", field, err), Err: err}
	}
	return t, nil
}
