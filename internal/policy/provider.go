// Package policy serves the published approval policy set. Policies are
// configuration, loaded once and immutable afterwards; adding a policy is a
// config change, not a code change.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// Provider is an in-memory, read-only policy catalog. Declaration order is
// preserved so the matcher's first-declared-wins tie break is stable.
type Provider struct {
	policies []*approval.Policy
	byID     map[string]*approval.Policy
	byEntity map[string][]*approval.Policy
}

// NewProvider validates the policy set and builds the catalog indexes.
func NewProvider(policies []*approval.Policy) (*Provider, error) {
	p := &Provider{
		byID:     make(map[string]*approval.Policy, len(policies)),
		byEntity: make(map[string][]*approval.Policy),
	}
	for i, pol := range policies {
		if err := validatePolicy(pol); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInvalidInput,
				fmt.Sprintf("policy %d (%s) is invalid", i, pol.ID))
		}
		if _, dup := p.byID[pol.ID]; dup {
			return nil, apperr.InvalidInput("policies", fmt.Sprintf("duplicate policy id %q", pol.ID))
		}
		p.policies = append(p.policies, pol)
		p.byID[pol.ID] = pol
		p.byEntity[pol.EntityType] = append(p.byEntity[pol.EntityType], pol)
	}
	return p, nil
}

// LoadFile reads a YAML policy catalog from disk.
func LoadFile(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to read policy file")
	}
	var doc struct {
		Policies []*approval.Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidInput, "failed to parse policy file")
	}
	return NewProvider(doc.Policies)
}

// GetAllPolicies returns every policy in declaration order.
func (p *Provider) GetAllPolicies() []*approval.Policy {
	out := make([]*approval.Policy, len(p.policies))
	copy(out, p.policies)
	return out
}

// GetPolicyByID looks a policy up by ID.
func (p *Provider) GetPolicyByID(id string) (*approval.Policy, bool) {
	pol, ok := p.byID[id]
	return pol, ok
}

// GetPoliciesForEntityType returns the candidate policies for one entity
// type, in declaration order.
func (p *Provider) GetPoliciesForEntityType(entityType string) []*approval.Policy {
	src := p.byEntity[entityType]
	out := make([]*approval.Policy, len(src))
	copy(out, src)
	return out
}

// ── validation ────────────────────────────────────────────────────────────────

func validatePolicy(pol *approval.Policy) error {
	if pol == nil || pol.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if pol.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	switch pol.PredicateLogic {
	case "", approval.LogicAll, approval.LogicAny:
	default:
		return fmt.Errorf("unknown predicate_logic %q", pol.PredicateLogic)
	}
	for _, pred := range pol.Predicates {
		if err := validatePredicate(pred); err != nil {
			return err
		}
	}
	for _, tpl := range pol.RequiredStages {
		if err := validateStage(tpl); err != nil {
			return fmt.Errorf("stage %q: %w", tpl.Name, err)
		}
	}
	return nil
}

func validatePredicate(pred approval.Predicate) error {
	if pred.Metric == "" {
		return fmt.Errorf("predicate metric is required")
	}
	switch pred.Kind {
	case approval.PredicateThreshold:
		switch pred.Op {
		case approval.OpGT, approval.OpGTE, approval.OpLT, approval.OpLTE, approval.OpEQ:
		default:
			return fmt.Errorf("unknown threshold operator %q", pred.Op)
		}
	case approval.PredicateEquality:
		if pred.Op != approval.OpEQ {
			return fmt.Errorf("equality predicates only support op %q", approval.OpEQ)
		}
	default:
		return fmt.Errorf("unknown predicate kind %q", pred.Kind)
	}
	return nil
}

func validateStage(tpl approval.StageTemplate) error {
	if tpl.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	switch tpl.Rule.Type {
	case approval.RuleAny, approval.RuleUnanimous:
	case approval.RuleThreshold:
		if tpl.Rule.Threshold < 1 {
			return fmt.Errorf("threshold rule requires a threshold of at least 1")
		}
	default:
		return fmt.Errorf("unknown voting rule %q", tpl.Rule.Type)
	}
	switch tpl.Selector.Type {
	case approval.SelectorExplicit:
		if len(tpl.Selector.Principals) == 0 {
			return fmt.Errorf("explicit selector requires at least one principal")
		}
	case approval.SelectorRole:
		if tpl.Selector.Role == "" {
			return fmt.Errorf("role selector requires a role")
		}
	case approval.SelectorHierarchy:
	case approval.SelectorDynamic:
		if tpl.Selector.Resolver == "" {
			return fmt.Errorf("dynamic selector requires a resolver name")
		}
	default:
		return fmt.Errorf("unknown selector type %q", tpl.Selector.Type)
	}
	return nil
}
