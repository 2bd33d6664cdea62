package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestScopeValidateRejectsBadName(t *testing.T) {
	s := &Scope{Name: "bad name!", Version: "1.0.0", SchemaVersion: "1.0.0"}
	issues := s.Validate()
	require.NotEmpty(t, issues)
}

func TestScopeValidateAcceptsWellFormed(t *testing.T) {
	s := &Scope{
		Name:          "svc-core",
		Version:       "1.0.0",
		SchemaVersion: "1.0.0",
		Dependencies: []ScopeDependency{
			{Path: "../lib", DependencyType: DependencyRequired},
		},
	}
	require.Empty(t, s.Validate())
}

func TestTodoStatusRoundTripsCaseInsensitively(t *testing.T) {
	type holder struct {
		Status TodoStatus `yaml:"status"`
	}
	var h holder
	require.NoError(t, yaml.Unmarshal([]byte("status: PENDING\n"), &h))
	require.Equal(t, TodoPending, h.Status)

	out, err := yaml.Marshal(h)
	require.NoError(t, err)
	require.Contains(t, string(out), "pending")
}

func TestTodoValidateRequiresIDAndTitle(t *testing.T) {
	todo := &Todo{Status: TodoPending, Priority: PriorityLow, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	issues := todo.Validate()
	require.Len(t, issues, 2)
}

func TestDependencyTypeUnknownParseFails(t *testing.T) {
	_, err := ParseDependencyType("bogus")
	require.Error(t, err)
}
