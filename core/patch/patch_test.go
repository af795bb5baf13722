package patch_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ian-magat0512/ubind-sub022/core/patch"
)

var doc = []byte(`{
	"contact": {"name": "Dana Whitfield", "suburb": "Fitzroy"},
	"cover":   {"contents_sum_insured": 55000}
}`)

func quoteScope(id string) patch.Scope {
	return patch.Scope{Kind: patch.ScopeQuote, QuoteID: id}
}

func TestApply_ReplacesValue(t *testing.T) {
	patched, err := patch.Apply(doc, patch.Command{
		Target:   patch.TargetFormData,
		Path:     "contact.suburb",
		NewValue: json.RawMessage(`"Carlton"`),
		Scope:    quoteScope("q-1"),
	}, false)
	require.NoError(t, err)
	require.Equal(t, "Carlton", gjson.GetBytes(patched, "contact.suburb").String())

	// untouched branches survive
	require.EqualValues(t, 55000, gjson.GetBytes(patched, "cover.contents_sum_insured").Int())
}

func TestApply_IsDeterministic(t *testing.T) {
	cmd := patch.Command{
		Target:   patch.TargetFormData,
		Path:     "cover.contents_sum_insured",
		NewValue: json.RawMessage(`70000`),
		Scope:    quoteScope("q-1"),
	}

	a, err := patch.Apply(doc, cmd, false)
	require.NoError(t, err)
	b, err := patch.Apply(doc, cmd, false)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestApply_CreatesPathWhenAllowed(t *testing.T) {
	patched, err := patch.Apply(doc, patch.Command{
		Target:   patch.TargetFormData,
		Path:     "cover.excess",
		NewValue: json.RawMessage(`500`),
		Scope:    quoteScope("q-1"),
	}, false)
	require.NoError(t, err)
	require.EqualValues(t, 500, gjson.GetBytes(patched, "cover.excess").Int())
}

func TestApply_RequirePathExists(t *testing.T) {
	_, err := patch.Apply(doc, patch.Command{
		Target:   patch.TargetFormData,
		Path:     "cover.excess",
		NewValue: json.RawMessage(`500`),
		Scope:    quoteScope("q-1"),
		Rules:    patch.Rules{RequirePathExists: true},
	}, false)
	require.ErrorIs(t, err, patch.ErrPathNotFound)
}

func TestApply_ExpectedPriorValue(t *testing.T) {
	cmd := patch.Command{
		Target:   patch.TargetFormData,
		Path:     "contact.suburb",
		NewValue: json.RawMessage(`"Carlton"`),
		Scope:    quoteScope("q-1"),
		Rules:    patch.Rules{ExpectedPriorValue: json.RawMessage(`"Fitzroy"`)},
	}

	_, err := patch.Apply(doc, cmd, false)
	require.NoError(t, err)

	cmd.Rules.ExpectedPriorValue = json.RawMessage(`"Brunswick"`)
	_, err = patch.Apply(doc, cmd, false)
	require.ErrorIs(t, err, patch.ErrRuleViolation)
}

func TestApply_DisallowAfterIssuance(t *testing.T) {
	cmd := patch.Command{
		Target:   patch.TargetFormData,
		Path:     "contact.suburb",
		NewValue: json.RawMessage(`"Carlton"`),
		Scope:    quoteScope("q-1"),
		Rules:    patch.Rules{DisallowAfterIssuance: true},
	}

	_, err := patch.Apply(doc, cmd, false)
	require.NoError(t, err)

	_, err = patch.Apply(doc, cmd, true)
	require.ErrorIs(t, err, patch.ErrRuleViolation)
}

func TestApply_RejectsInvalidCommands(t *testing.T) {
	for name, cmd := range map[string]patch.Command{
		"unknown target": {
			Target: "form", Path: "a", NewValue: json.RawMessage(`1`), Scope: quoteScope("q-1"),
		},
		"empty path": {
			Target: patch.TargetFormData, NewValue: json.RawMessage(`1`), Scope: quoteScope("q-1"),
		},
		"invalid value": {
			Target: patch.TargetFormData, Path: "a", NewValue: json.RawMessage(`{`), Scope: quoteScope("q-1"),
		},
		"invalid scope": {
			Target: patch.TargetFormData, Path: "a", NewValue: json.RawMessage(`1`),
			Scope: patch.Scope{Kind: patch.ScopeQuote},
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := patch.Apply(doc, cmd, false)
			require.ErrorIs(t, err, patch.ErrRuleViolation)
		})
	}
}

func TestScope_AppliesTo(t *testing.T) {
	require.True(t, patch.Scope{Kind: patch.ScopeGlobal}.AppliesTo("t1", "home", "q-1"))
	require.True(t, patch.Scope{Kind: patch.ScopeTenant, Tenant: "t1"}.AppliesTo("t1", "home", "q-1"))
	require.False(t, patch.Scope{Kind: patch.ScopeTenant, Tenant: "t2"}.AppliesTo("t1", "home", "q-1"))
	require.True(t, patch.Scope{Kind: patch.ScopeProduct, Tenant: "t1", Product: "home"}.AppliesTo("t1", "home", "q-1"))
	require.False(t, patch.Scope{Kind: patch.ScopeProduct, Tenant: "t1", Product: "car"}.AppliesTo("t1", "home", "q-1"))
	require.True(t, patch.Scope{Kind: patch.ScopeQuote, QuoteID: "q-1"}.AppliesTo("t1", "home", "q-1"))
	require.False(t, patch.Scope{Kind: patch.ScopeQuote, QuoteID: "q-2"}.AppliesTo("t1", "home", "q-1"))
}
