// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrorPattern describes a systemic failure signature. Patterns are
// registered once and only matched afterwards, never mutated.
type ErrorPattern struct {
	ID   string
	Name string

	// Matching predicate. Zero values act as wildcards; all set
	// constraints must hold for a classification to match.
	Category      Category
	Subcategories []string
	Components    []string
	messageRes    []*regexp.Regexp

	// Frequency trigger: fire when at least FrequencyThreshold matches
	// fall inside TimeWindow.
	FrequencyThreshold int
	TimeWindow         time.Duration

	// CorrelationWindow bounds the related-error scan for this pattern.
	CorrelationWindow time.Duration

	// Auto-actions emitted as a PatternSignal when the pattern fires.
	Notify              bool
	CreateIncident      bool
	Escalate            bool
	ApplyCircuitBreaker bool
}

// Duration wraps time.Duration so pattern packs can use "30s"/"5m"
// notation in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// PatternSpec is the registration form of an ErrorPattern, with message
// regexes as source strings. It is also the YAML wire format.
type PatternSpec struct {
	Name                string   `yaml:"name"`
	Category            Category `yaml:"category"`
	Subcategories       []string `yaml:"subcategories"`
	Components          []string `yaml:"components"`
	MessagePatterns     []string `yaml:"message_patterns"`
	FrequencyThreshold  int      `yaml:"frequency_threshold"`
	TimeWindow          Duration `yaml:"time_window"`
	CorrelationWindow   Duration `yaml:"correlation_window"`
	Notify              bool     `yaml:"notify"`
	CreateIncident      bool     `yaml:"create_incident"`
	Escalate            bool     `yaml:"escalate"`
	ApplyCircuitBreaker bool     `yaml:"apply_circuit_breaker"`
}

// Compile validates the spec and builds an immutable ErrorPattern.
func (ps PatternSpec) Compile() (*ErrorPattern, error) {
	if ps.Name == "" {
		return nil, fmt.Errorf("pattern name is required")
	}
	if ps.FrequencyThreshold < 1 {
		return nil, fmt.Errorf("pattern %q: frequency_threshold must be >= 1", ps.Name)
	}
	if time.Duration(ps.TimeWindow) <= 0 {
		return nil, fmt.Errorf("pattern %q: time_window must be positive", ps.Name)
	}
	if ps.Category != "" && !KnownCategory(ps.Category) {
		return nil, fmt.Errorf("pattern %q: unknown category %q", ps.Name, ps.Category)
	}
	var res []*regexp.Regexp
	for _, raw := range ps.MessagePatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: bad message pattern %q: %w", ps.Name, raw, err)
		}
		res = append(res, re)
	}
	corr := time.Duration(ps.CorrelationWindow)
	if corr <= 0 {
		corr = 5 * time.Minute
	}
	return &ErrorPattern{
		ID:                  uuid.NewString(),
		Name:                ps.Name,
		Category:            ps.Category,
		Subcategories:       append([]string(nil), ps.Subcategories...),
		Components:          append([]string(nil), ps.Components...),
		messageRes:          res,
		FrequencyThreshold:  ps.FrequencyThreshold,
		TimeWindow:          time.Duration(ps.TimeWindow),
		CorrelationWindow:   corr,
		Notify:              ps.Notify,
		CreateIncident:      ps.CreateIncident,
		Escalate:            ps.Escalate,
		ApplyCircuitBreaker: ps.ApplyCircuitBreaker,
	}, nil
}

// Matches tests the pattern predicate against a classification. Absent
// constraints are wildcards; all present constraints must hold.
func (p *ErrorPattern) Matches(c *ErrorClassification) bool {
	if p.Category != "" && c.Category != p.Category {
		return false
	}
	if len(p.Subcategories) > 0 && !containsString(p.Subcategories, c.Subcategory) {
		return false
	}
	if len(p.Components) > 0 && !containsString(p.Components, c.Component) {
		return false
	}
	if len(p.messageRes) > 0 {
		matched := false
		for _, re := range p.messageRes {
			if re.MatchString(c.Message) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// PatternSignal is emitted when a pattern's frequency threshold is
// crossed. The alert manager consumes these.
type PatternSignal struct {
	Pattern             string
	Category            Category
	MatchCount          int
	Window              time.Duration
	Classification      *ErrorClassification
	Notify              bool
	CreateIncident      bool
	Escalate            bool
	ApplyCircuitBreaker bool
}

// LoadPatternSpecs parses a YAML pattern pack.
func LoadPatternSpecs(data []byte) ([]PatternSpec, error) {
	var doc struct {
		Patterns []PatternSpec `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pattern pack: %w", err)
	}
	return doc.Patterns, nil
}

// DefaultPatternSpecs are registered by NewClassifier unless disabled.
func DefaultPatternSpecs() []PatternSpec {
	return []PatternSpec{
		{
			Name:                "database-connection-storm",
			Category:            CategoryIntegrationDB,
			Subcategories:       []string{"connection_failed", "query_timeout"},
			FrequencyThreshold:  5,
			TimeWindow:          Duration(2 * time.Minute),
			Notify:              true,
			ApplyCircuitBreaker: true,
		},
		{
			Name:               "rate-limit-wave",
			Category:           CategoryExternalRateLimit,
			FrequencyThreshold: 10,
			TimeWindow:         Duration(5 * time.Minute),
			Notify:             true,
		},
		{
			Name:               "auth-failure-burst",
			Category:           CategoryAuthentication,
			Subcategories:      []string{"credentials_invalid", "token_expired"},
			FrequencyThreshold: 8,
			TimeWindow:         Duration(5 * time.Minute),
			Notify:             true,
			Escalate:           true,
		},
		{
			Name:               "resource-exhaustion",
			Category:           CategorySystemResource,
			FrequencyThreshold: 3,
			TimeWindow:         Duration(5 * time.Minute),
			Notify:             true,
			CreateIncident:     true,
			Escalate:           true,
		},
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
