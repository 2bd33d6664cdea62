// Package schema defines the closed set of Data Document kinds (§3) and
// their structural validation (C1). Semantic checks — cross-document
// references, per-scope id uniqueness — belong to the scope loader (C2).
package schema

import "time"

// Kind identifies one of the eight document kinds.
type Kind string

const (
	KindTodos           Kind = "Todos"
	KindKnowledge        Kind = "Knowledge"
	KindDecisions        Kind = "Decisions"
	KindPatterns         Kind = "Patterns"
	KindConventions      Kind = "Conventions"
	KindPrompts          Kind = "Prompts"
	KindWorkflows        Kind = "Workflows"
	KindTemplateLibrary  Kind = "TemplateLibrary"
)

// FileNameForKind maps a document kind to the sibling YAML filename
// convention from spec §6.1.
var FileNameForKind = map[Kind]string{
	KindTodos:          "todos.yaml",
	KindKnowledge:      "knowledge.yaml",
	KindDecisions:      "decisions.yaml",
	KindPatterns:       "patterns.yaml",
	KindConventions:    "conventions.yaml",
	KindPrompts:        "prompts.yaml",
	KindWorkflows:      "workflows.yaml",
	KindTemplateLibrary: "template_library.yaml",
}

// RootKeyForKind maps a document kind to the top-level YAML key its data
// file stores the item list under (e.g. todos.yaml's top-level "todos:").
var RootKeyForKind = map[Kind]string{
	KindTodos:           "todos",
	KindKnowledge:       "knowledge",
	KindDecisions:       "decisions",
	KindPatterns:        "patterns",
	KindConventions:     "conventions",
	KindPrompts:         "prompts",
	KindWorkflows:       "workflows",
	KindTemplateLibrary: "template_library",
}

// AllKinds enumerates the closed document kind set.
var AllKinds = []Kind{
	KindTodos, KindKnowledge, KindDecisions, KindPatterns,
	KindConventions, KindPrompts, KindWorkflows, KindTemplateLibrary,
}

// Todo is a single actionable item (§3 Data Document).
type Todo struct {
	ID          string                 `yaml:"id"`
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description,omitempty"`
	Status      TodoStatus             `yaml:"status"`
	Priority    Priority               `yaml:"priority"`
	CreatedAt   time.Time              `yaml:"created_at"`
	UpdatedAt   time.Time              `yaml:"updated_at"`
	DueDate     *time.Time             `yaml:"due_date,omitempty"`
	AssignedTo  string                 `yaml:"assigned_to,omitempty"`
	Tags        []string               `yaml:"tags,omitempty"`
	DependsOn   []string               `yaml:"depends_on,omitempty"`
	Custom      map[string]interface{} `yaml:"custom,omitempty"`
}

func (t *Todo) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if t.ID == "" {
		issues = append(issues, newIssue("todo.id", "id is required"))
	}
	if t.Title == "" {
		issues = append(issues, newIssue("todo.title", "title is required"))
	}
	switch t.Status {
	case TodoPending, TodoInProgress, TodoBlocked, TodoCompleted, TodoCancelled:
	default:
		issues = append(issues, newIssue("todo.status", "invalid status"))
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		issues = append(issues, newIssue("todo.priority", "invalid priority"))
	}
	return issues
}

// TodosDocument is the todos.yaml file contents.
type TodosDocument struct {
	Items []Todo `yaml:"todos"`
}

// Knowledge is a single knowledge entry.
type Knowledge struct {
	ID         string                 `yaml:"id"`
	Title      string                 `yaml:"title"`
	Content    string                 `yaml:"content"`
	Category   string                 `yaml:"category,omitempty"`
	Confidence Confidence             `yaml:"confidence"`
	CreatedAt  time.Time              `yaml:"created_at"`
	UpdatedAt  time.Time              `yaml:"updated_at"`
	Source     string                 `yaml:"source,omitempty"`
	Tags       []string               `yaml:"tags,omitempty"`
	RelatedIDs []string               `yaml:"related_ids,omitempty"`
	Custom     map[string]interface{} `yaml:"custom,omitempty"`
}

func (k *Knowledge) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if k.ID == "" {
		issues = append(issues, newIssue("knowledge.id", "id is required"))
	}
	if k.Title == "" {
		issues = append(issues, newIssue("knowledge.title", "title is required"))
	}
	switch k.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceConfirmed:
	default:
		issues = append(issues, newIssue("knowledge.confidence", "invalid confidence"))
	}
	return issues
}

// KnowledgeDocument is the knowledge.yaml file contents.
type KnowledgeDocument struct {
	Items []Knowledge `yaml:"knowledge"`
}

// Decision records an architectural/design decision.
type Decision struct {
	ID            string                 `yaml:"id"`
	Title         string                 `yaml:"title"`
	Description   string                 `yaml:"description,omitempty"`
	Status        DecisionStatus         `yaml:"status"`
	Context       string                 `yaml:"context,omitempty"`
	DecisionText  string                 `yaml:"decision,omitempty"`
	Consequences  string                 `yaml:"consequences,omitempty"`
	CreatedAt     time.Time              `yaml:"created_at"`
	UpdatedAt     time.Time              `yaml:"updated_at"`
	Deciders      []string               `yaml:"deciders,omitempty"`
	Alternatives  []string               `yaml:"alternatives,omitempty"`
	Custom        map[string]interface{} `yaml:"custom,omitempty"`
}

func (d *Decision) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if d.ID == "" {
		issues = append(issues, newIssue("decision.id", "id is required"))
	}
	if d.Title == "" {
		issues = append(issues, newIssue("decision.title", "title is required"))
	}
	switch d.Status {
	case DecisionProposed, DecisionAccepted, DecisionRejected, DecisionSuperseded, DecisionDeprecated:
	default:
		issues = append(issues, newIssue("decision.status", "invalid status"))
	}
	return issues
}

// DecisionsDocument is the decisions.yaml file contents.
type DecisionsDocument struct {
	Items []Decision `yaml:"decisions"`
}

// Pattern documents a recurring design shape.
type Pattern struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	PatternType string                 `yaml:"pattern_type,omitempty"`
	Usage       PatternUsage           `yaml:"usage"`
	Examples    []string               `yaml:"examples,omitempty"`
	CreatedAt   time.Time              `yaml:"created_at"`
	UpdatedAt   time.Time              `yaml:"updated_at"`
	Custom      map[string]interface{} `yaml:"custom,omitempty"`
}

func (p *Pattern) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if p.ID == "" {
		issues = append(issues, newIssue("pattern.id", "id is required"))
	}
	if p.Name == "" {
		issues = append(issues, newIssue("pattern.name", "name is required"))
	}
	switch p.Usage {
	case UsageRecommended, UsageDiscouraged, UsageDeprecated, UsageExperimental:
	default:
		issues = append(issues, newIssue("pattern.usage", "invalid usage"))
	}
	return issues
}

// PatternsDocument is the patterns.yaml file contents.
type PatternsDocument struct {
	Items []Pattern `yaml:"patterns"`
}

// Convention documents a binding rule for a set of scopes.
type Convention struct {
	ID               string                 `yaml:"id"`
	Name             string                 `yaml:"name"`
	Description      string                 `yaml:"description,omitempty"`
	Rule             string                 `yaml:"rule,omitempty"`
	ScopeAppliesTo   []string               `yaml:"scope_applies_to,omitempty"`
	Severity         ConventionSeverity     `yaml:"severity"`
	CreatedAt        time.Time              `yaml:"created_at"`
	UpdatedAt        time.Time              `yaml:"updated_at"`
	Custom           map[string]interface{} `yaml:"custom,omitempty"`
}

func (c *Convention) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if c.ID == "" {
		issues = append(issues, newIssue("convention.id", "id is required"))
	}
	if c.Name == "" {
		issues = append(issues, newIssue("convention.name", "name is required"))
	}
	switch c.Severity {
	case SeverityInfo, SeverityWarning, SeverityErrorLv:
	default:
		issues = append(issues, newIssue("convention.severity", "invalid severity"))
	}
	return issues
}

// ConventionsDocument is the conventions.yaml file contents.
type ConventionsDocument struct {
	Items []Convention `yaml:"conventions"`
}

// Prompt is a reusable prompt template.
type Prompt struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Template    string                 `yaml:"template"`
	Variables   []string               `yaml:"variables,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	CreatedAt   time.Time              `yaml:"created_at"`
	UpdatedAt   time.Time              `yaml:"updated_at"`
	Custom      map[string]interface{} `yaml:"custom,omitempty"`
}

func (p *Prompt) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if p.ID == "" {
		issues = append(issues, newIssue("prompt.id", "id is required"))
	}
	if p.Name == "" {
		issues = append(issues, newIssue("prompt.name", "name is required"))
	}
	if p.Template == "" {
		issues = append(issues, newIssue("prompt.template", "template is required"))
	}
	return issues
}

// PromptsDocument is the prompts.yaml file contents.
type PromptsDocument struct {
	Items []Prompt `yaml:"prompts"`
}

// WorkflowStep is one ordered step of a Workflow.
type WorkflowStep struct {
	Order       int    `yaml:"order"`
	Action      string `yaml:"action"`
	Description string `yaml:"description,omitempty"`
}

// Workflow is a named, ordered sequence of steps.
type Workflow struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Steps       []WorkflowStep         `yaml:"steps,omitempty"`
	Trigger     string                 `yaml:"trigger,omitempty"`
	CreatedAt   time.Time              `yaml:"created_at"`
	UpdatedAt   time.Time              `yaml:"updated_at"`
	Custom      map[string]interface{} `yaml:"custom,omitempty"`
}

func (w *Workflow) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if w.ID == "" {
		issues = append(issues, newIssue("workflow.id", "id is required"))
	}
	if w.Name == "" {
		issues = append(issues, newIssue("workflow.name", "name is required"))
	}
	seen := make(map[int]bool)
	for _, st := range w.Steps {
		if seen[st.Order] {
			issues = append(issues, newIssue("workflow.steps", "duplicate step order"))
		}
		seen[st.Order] = true
		if st.Action == "" {
			issues = append(issues, newIssue("workflow.steps", "step action is required"))
		}
	}
	return issues
}

// WorkflowsDocument is the workflows.yaml file contents.
type WorkflowsDocument struct {
	Items []Workflow `yaml:"workflows"`
}

// TemplateLibrary groups named reusable text templates.
type TemplateLibrary struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Templates   map[string]string      `yaml:"templates,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	CreatedAt   time.Time              `yaml:"created_at"`
	UpdatedAt   time.Time              `yaml:"updated_at"`
	Custom      map[string]interface{} `yaml:"custom,omitempty"`
}

func (t *TemplateLibrary) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if t.ID == "" {
		issues = append(issues, newIssue("template_library.id", "id is required"))
	}
	if t.Name == "" {
		issues = append(issues, newIssue("template_library.name", "name is required"))
	}
	return issues
}

// TemplateLibraryDocument is the template_library.yaml file contents.
type TemplateLibraryDocument struct {
	Items []TemplateLibrary `yaml:"template_library"`
}
