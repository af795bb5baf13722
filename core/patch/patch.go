// Package patch applies scoped, targeted corrections to historical form
// data or calculation result documents. A patch is recorded as a new event
// and never rewrites the log; the patched document is recomputed
// deterministically on replay from the recorded instruction.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

var (
	// ErrPathNotFound is returned when the target path is absent from the
	// referenced snapshot. Terminal for that patch only.
	ErrPathNotFound = fault.New("patch.path_not_found", "patch target path not found")
	// ErrRuleViolation is returned when the patch is disallowed by its rule
	// set. Terminal for that patch only.
	ErrRuleViolation = fault.New("patch.rule_violation", "patch rule violation")
)

// TargetKind selects which document tree the patch addresses.
type TargetKind string

const (
	TargetFormData          TargetKind = "form_data"
	TargetCalculationResult TargetKind = "calculation_result"
)

// ScopeKind is the breadth of quotes a patch applies to.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeTenant  ScopeKind = "tenant"
	ScopeProduct ScopeKind = "product"
	ScopeQuote   ScopeKind = "quote"
)

// Scope restricts a patch's applicability. It is metadata recorded with the
// patch event, consulted on replay and reporting.
type Scope struct {
	Kind    ScopeKind `json:"kind"`
	Tenant  string    `json:"tenant,omitempty"`
	Product string    `json:"product,omitempty"`
	QuoteID string    `json:"quote_id,omitempty"`
}

// AppliesTo reports whether a quote identified by tenant/product/quoteID
// falls inside the scope.
func (s Scope) AppliesTo(tenant, product, quoteID string) bool {
	switch s.Kind {
	case ScopeGlobal:
		return true
	case ScopeTenant:
		return s.Tenant == tenant
	case ScopeProduct:
		return s.Tenant == tenant && s.Product == product
	case ScopeQuote:
		return s.QuoteID == quoteID
	default:
		return false
	}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		return nil
	case ScopeTenant:
		if s.Tenant == "" {
			return fmt.Errorf("tenant scope requires a tenant")
		}
	case ScopeProduct:
		if s.Tenant == "" || s.Product == "" {
			return fmt.Errorf("product scope requires tenant and product")
		}
	case ScopeQuote:
		if s.QuoteID == "" {
			return fmt.Errorf("quote scope requires a quote id")
		}
	default:
		return fmt.Errorf("unknown patch scope %q", s.Kind)
	}
	return nil
}

// Rules govern whether a patch may be applied.
type Rules struct {
	// RequirePathExists rejects patches whose target path is absent.
	// Creating new nodes is allowed only when this is false.
	RequirePathExists bool `json:"require_path_exists"`
	// ExpectedPriorValue, when non-nil, must match the current value at the
	// target path exactly.
	ExpectedPriorValue json.RawMessage `json:"expected_prior_value,omitempty"`
	// DisallowAfterIssuance rejects patches against quotes that already
	// produced a policy transaction.
	DisallowAfterIssuance bool `json:"disallow_after_issuance"`
}

// Command is one patch instruction: the target path inside a document as it
// existed at a specific historical point, the replacement value, the scope
// and the rule set.
type Command struct {
	Target   TargetKind      `json:"target"`
	Path     string          `json:"path"`
	NewValue json.RawMessage `json:"new_value"`
	Scope    Scope           `json:"scope"`
	Rules    Rules           `json:"rules"`
}

func (c Command) Validate() error {
	if c.Target != TargetFormData && c.Target != TargetCalculationResult {
		return fmt.Errorf("unknown patch target %q", c.Target)
	}
	if c.Path == "" {
		return fmt.Errorf("patch path is empty")
	}
	if len(c.NewValue) == 0 {
		return fmt.Errorf("patch value is empty")
	}
	if !json.Valid(c.NewValue) {
		return fmt.Errorf("patch value is not valid JSON")
	}
	return c.Scope.Validate()
}

// Apply computes the patched document. Pure and deterministic: replaying
// the same command against the same document always yields the same bytes.
// issued reports whether the owning quote has already been issued, for the
// DisallowAfterIssuance rule.
func Apply(doc []byte, cmd Command, issued bool) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fault.Wrap(ErrRuleViolation, "%v", err)
	}
	if cmd.Rules.DisallowAfterIssuance && issued {
		return nil, fault.Wrap(ErrRuleViolation, "path %s is locked after issuance", cmd.Path)
	}

	current := gjson.GetBytes(doc, cmd.Path)
	if !current.Exists() && cmd.Rules.RequirePathExists {
		return nil, fault.Wrap(ErrPathNotFound, "path %s", cmd.Path)
	}
	if cmd.Rules.ExpectedPriorValue != nil {
		if !current.Exists() {
			return nil, fault.Wrap(ErrPathNotFound, "path %s", cmd.Path)
		}
		if !jsonEqual([]byte(current.Raw), cmd.Rules.ExpectedPriorValue) {
			return nil, fault.Wrap(
				ErrRuleViolation,
				"prior value at %s is %s, expected %s",
				cmd.Path, current.Raw, cmd.Rules.ExpectedPriorValue,
			)
		}
	}

	patched, err := sjson.SetRawBytes(doc, cmd.Path, cmd.NewValue)
	if err != nil {
		return nil, fault.Wrap(ErrPathNotFound, "path %s: %v", cmd.Path, err)
	}
	return patched, nil
}

func jsonEqual(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return false
	}
	if err := json.Compact(&cb, b); err != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
