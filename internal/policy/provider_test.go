package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

func validPolicy(id string) *approval.Policy {
	return &approval.Policy{
		ID:         id,
		Name:       "Purchase order review",
		EntityType: "purchase_order",
		Priority:   10,
		Predicates: []approval.Predicate{
			{Kind: approval.PredicateThreshold, Metric: "amount", Op: approval.OpGTE, Number: 1000},
		},
		PredicateLogic: approval.LogicAll,
		RequiredStages: []approval.StageTemplate{
			{
				Name:     "manager-review",
				Selector: approval.ApproverSelector{Type: approval.SelectorHierarchy, Levels: 1},
				Rule:     approval.VotingRule{Type: approval.RuleAny},
			},
			{
				Name:     "finance-review",
				Selector: approval.ApproverSelector{Type: approval.SelectorRole, Role: "finance"},
				Rule:     approval.VotingRule{Type: approval.RuleThreshold, Threshold: 2},
			},
		},
	}
}

func TestNewProviderIndexesPolicies(t *testing.T) {
	a := validPolicy("a")
	b := validPolicy("b")
	expense := validPolicy("c")
	expense.EntityType = "expense_report"

	p, err := NewProvider([]*approval.Policy{a, b, expense})
	require.NoError(t, err)

	assert.Len(t, p.GetAllPolicies(), 3)

	got, ok := p.GetPolicyByID("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	_, ok = p.GetPolicyByID("nope")
	assert.False(t, ok)

	pos := p.GetPoliciesForEntityType("purchase_order")
	require.Len(t, pos, 2)
	assert.Equal(t, "a", pos[0].ID, "declaration order is preserved")
	assert.Equal(t, "b", pos[1].ID)

	assert.Empty(t, p.GetPoliciesForEntityType("invoice"))
}

func TestNewProviderRejectsDuplicateIDs(t *testing.T) {
	_, err := NewProvider([]*approval.Policy{validPolicy("a"), validPolicy("a")})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*approval.Policy)
	}{
		{"missing id", func(p *approval.Policy) { p.ID = "" }},
		{"missing entity type", func(p *approval.Policy) { p.EntityType = "" }},
		{"bad predicate logic", func(p *approval.Policy) { p.PredicateLogic = "most" }},
		{"predicate without metric", func(p *approval.Policy) { p.Predicates[0].Metric = "" }},
		{"bad threshold operator", func(p *approval.Policy) { p.Predicates[0].Op = "between" }},
		{"equality predicate with ordering op", func(p *approval.Policy) {
			p.Predicates[0] = approval.Predicate{Kind: approval.PredicateEquality, Metric: "dept", Op: approval.OpGT, Label: "eng"}
		}},
		{"stage without name", func(p *approval.Policy) { p.RequiredStages[0].Name = "" }},
		{"threshold below one", func(p *approval.Policy) { p.RequiredStages[1].Rule.Threshold = 0 }},
		{"unknown rule type", func(p *approval.Policy) { p.RequiredStages[0].Rule.Type = "most" }},
		{"explicit selector without principals", func(p *approval.Policy) {
			p.RequiredStages[0].Selector = approval.ApproverSelector{Type: approval.SelectorExplicit}
		}},
		{"role selector without role", func(p *approval.Policy) {
			p.RequiredStages[1].Selector = approval.ApproverSelector{Type: approval.SelectorRole}
		}},
		{"dynamic selector without resolver", func(p *approval.Policy) {
			p.RequiredStages[0].Selector = approval.ApproverSelector{Type: approval.SelectorDynamic}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := validPolicy("a")
			tt.mutate(pol)
			_, err := NewProvider([]*approval.Policy{pol})
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	doc := `policies:
  - id: po-high-value
    name: High value purchase orders
    entity_type: purchase_order
    priority: 20
    predicate_logic: all
    predicates:
      - kind: threshold
        metric: amount
        op: gte
        number: 10000
      - kind: equality
        metric: department
        op: eq
        label: engineering
    required_stages:
      - name: manager-review
        selector:
          type: hierarchy
          levels: 1
        rule:
          type: any
      - name: finance-review
        selector:
          type: role
          role: finance
        rule:
          type: threshold
          threshold: 2
  - id: po-petty-cash
    entity_type: purchase_order
    priority: 30
    skippable: true
    predicates:
      - kind: threshold
        metric: amount
        op: lt
        number: 100
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)

	pol, ok := p.GetPolicyByID("po-high-value")
	require.True(t, ok)
	assert.Equal(t, 20, pol.Priority)
	assert.Equal(t, approval.LogicAll, pol.PredicateLogic)
	require.Len(t, pol.Predicates, 2)
	assert.Equal(t, approval.PredicateEquality, pol.Predicates[1].Kind)
	assert.Equal(t, "engineering", pol.Predicates[1].Label)
	require.Len(t, pol.RequiredStages, 2)
	assert.Equal(t, approval.SelectorHierarchy, pol.RequiredStages[0].Selector.Type)
	assert.Equal(t, 1, pol.RequiredStages[0].Selector.Levels)
	assert.Equal(t, 2, pol.RequiredStages[1].Rule.Threshold)

	petty, ok := p.GetPolicyByID("po-petty-cash")
	require.True(t, ok)
	assert.True(t, petty.AutoApproves())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies: [not: valid"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}
