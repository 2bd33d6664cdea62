package schema

import (
	"fmt"
	"strings"
)

// DependencyType classifies a Scope Dependency edge.
type DependencyType string

const (
	DependencyRequired    DependencyType = "Required"
	DependencyOptional    DependencyType = "Optional"
	DependencyPeer        DependencyType = "Peer"
	DependencyDevelopment DependencyType = "Development"
	DependencyBuild       DependencyType = "Build"
)

var dependencyTypeCanon = map[string]DependencyType{
	"required":    DependencyRequired,
	"optional":    DependencyOptional,
	"peer":        DependencyPeer,
	"development": DependencyDevelopment,
	"build":       DependencyBuild,
}

// ParseDependencyType parses a dependency type case-insensitively.
func ParseDependencyType(s string) (DependencyType, error) {
	if v, ok := dependencyTypeCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown dependency type %q", s)
}

func (d DependencyType) MarshalYAML() (interface{}, error) {
	return string(d), nil
}

func (d *DependencyType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseDependencyType(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// TodoStatus is the status of a Todo document.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in-progress"
	TodoBlocked    TodoStatus = "blocked"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

var todoStatusCanon = map[string]TodoStatus{
	"pending":     TodoPending,
	"in-progress": TodoInProgress,
	"in_progress": TodoInProgress,
	"blocked":     TodoBlocked,
	"completed":   TodoCompleted,
	"cancelled":   TodoCancelled,
	"canceled":    TodoCancelled,
}

func ParseTodoStatus(s string) (TodoStatus, error) {
	if v, ok := todoStatusCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown todo status %q", s)
}

func (t TodoStatus) MarshalYAML() (interface{}, error) { return string(t), nil }

func (t *TodoStatus) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseTodoStatus(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Priority is shared by Todos (and usable elsewhere) for urgency ranking.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityCanon = map[string]Priority{
	"low": PriorityLow, "medium": PriorityMedium, "high": PriorityHigh, "critical": PriorityCritical,
}

func ParsePriority(s string) (Priority, error) {
	if v, ok := priorityCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalYAML() (interface{}, error) { return string(p), nil }

func (p *Priority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Confidence grades a Knowledge document's reliability.
type Confidence string

const (
	ConfidenceLow       Confidence = "low"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceHigh      Confidence = "high"
	ConfidenceConfirmed Confidence = "confirmed"
)

var confidenceCanon = map[string]Confidence{
	"low": ConfidenceLow, "medium": ConfidenceMedium, "high": ConfidenceHigh, "confirmed": ConfidenceConfirmed,
}

func ParseConfidence(s string) (Confidence, error) {
	if v, ok := confidenceCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown confidence %q", s)
}

func (c Confidence) MarshalYAML() (interface{}, error) { return string(c), nil }

func (c *Confidence) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DecisionStatus is the lifecycle state of a Decision document.
type DecisionStatus string

const (
	DecisionProposed   DecisionStatus = "proposed"
	DecisionAccepted   DecisionStatus = "accepted"
	DecisionRejected   DecisionStatus = "rejected"
	DecisionSuperseded DecisionStatus = "superseded"
	DecisionDeprecated DecisionStatus = "deprecated"
)

var decisionStatusCanon = map[string]DecisionStatus{
	"proposed": DecisionProposed, "accepted": DecisionAccepted, "rejected": DecisionRejected,
	"superseded": DecisionSuperseded, "deprecated": DecisionDeprecated,
}

func ParseDecisionStatus(s string) (DecisionStatus, error) {
	if v, ok := decisionStatusCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown decision status %q", s)
}

func (d DecisionStatus) MarshalYAML() (interface{}, error) { return string(d), nil }

func (d *DecisionStatus) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseDecisionStatus(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// PatternUsage describes how a Pattern document should be treated.
type PatternUsage string

const (
	UsageRecommended PatternUsage = "recommended"
	UsageDiscouraged PatternUsage = "discouraged"
	UsageDeprecated  PatternUsage = "deprecated"
	UsageExperimental PatternUsage = "experimental"
)

var patternUsageCanon = map[string]PatternUsage{
	"recommended": UsageRecommended, "discouraged": UsageDiscouraged,
	"deprecated": UsageDeprecated, "experimental": UsageExperimental,
}

func ParsePatternUsage(s string) (PatternUsage, error) {
	if v, ok := patternUsageCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown pattern usage %q", s)
}

func (u PatternUsage) MarshalYAML() (interface{}, error) { return string(u), nil }

func (u *PatternUsage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParsePatternUsage(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ConventionSeverity describes how strictly a Convention should be enforced.
type ConventionSeverity string

const (
	SeverityInfo    ConventionSeverity = "info"
	SeverityWarning ConventionSeverity = "warning"
	SeverityErrorLv ConventionSeverity = "error"
)

var conventionSeverityCanon = map[string]ConventionSeverity{
	"info": SeverityInfo, "warning": SeverityWarning, "error": SeverityErrorLv,
}

func ParseConventionSeverity(s string) (ConventionSeverity, error) {
	if v, ok := conventionSeverityCanon[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown convention severity %q", s)
}

func (s ConventionSeverity) MarshalYAML() (interface{}, error) { return string(s), nil }

func (s *ConventionSeverity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	p, err := ParseConventionSeverity(v)
	if err != nil {
		return err
	}
	*s = p
	return nil
}
