package workflow

import (
	"context"
	"sync"
	"time"
)

// DefaultQuoteDefinition is the transition table used when a tenant+product
// carries no override. Terminal states (issued, declined, expired,
// discarded) allow no further commands except claim-independent patches on
// issued policies, which are governed by patch rules rather than the quote
// workflow.
func DefaultQuoteDefinition() Definition {
	return Definition{
		Name: "quote/default",
		Transitions: map[Status][]Command{
			StatusNascent: {
				CmdUpdateFormData, CmdDiscard,
			},
			StatusIncomplete: {
				CmdUpdateFormData, CmdRecordCalc, CmdPatch, CmdDiscard, CmdDecline,
			},
			StatusComplete: {
				CmdUpdateFormData, CmdRecordCalc, CmdPatch, CmdApprove, CmdDecline, CmdDiscard,
			},
			StatusApproved: {
				CmdIssue, CmdDecline, CmdDiscard, CmdPatch,
			},
			StatusIssued: {
				CmdAdjust, CmdRenew, CmdCancel,
			},
		},
		Expiry: ExpirySettings{Enabled: true, After: 30 * 24 * time.Hour},
	}
}

// DefaultClaimDefinition is the default claim lifecycle:
// Incomplete -> Notified -> Acknowledged -> Review -> Assessment ->
// {Approved -> Settlement -> Complete} | Declined | Withdrawn.
func DefaultClaimDefinition() Definition {
	return Definition{
		Name: "claim/default",
		Transitions: map[Status][]Command{
			StatusClaimIncomplete: {
				CmdClaimNotify, CmdClaimWithdraw, CmdClaimRecordAmount,
			},
			StatusClaimNotified: {
				CmdClaimAcknowledge, CmdClaimWithdraw, CmdClaimRecordAmount,
			},
			StatusClaimAcknowledged: {
				CmdClaimReview, CmdClaimWithdraw, CmdClaimRecordAmount,
			},
			StatusClaimReview: {
				CmdClaimAssess, CmdClaimDecline, CmdClaimWithdraw, CmdClaimRecordAmount,
			},
			StatusClaimAssessment: {
				CmdClaimApprove, CmdClaimDecline, CmdClaimWithdraw, CmdClaimRecordAmount,
			},
			StatusClaimApproved: {
				CmdClaimSettle, CmdClaimWithdraw,
			},
			StatusClaimSettlement: {
				CmdClaimComplete,
			},
		},
	}
}

type overrideKey struct {
	tenant  string
	product string
}

// StaticProvider serves the default definitions plus registered
// per-(tenant, product) overrides. Lookups are pure; registration happens
// at wiring time but is guarded for safety.
type StaticProvider struct {
	mu             sync.RWMutex
	quote          Definition
	claim          Definition
	quoteOverrides map[overrideKey]Definition
	claimOverrides map[overrideKey]Definition
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		quote:          DefaultQuoteDefinition(),
		claim:          DefaultClaimDefinition(),
		quoteOverrides: map[overrideKey]Definition{},
		claimOverrides: map[overrideKey]Definition{},
	}
}

// Override installs def as the quote workflow for tenant+product.
func (p *StaticProvider) Override(tenant, product string, def Definition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quoteOverrides[overrideKey{tenant: tenant, product: product}] = def
}

// OverrideClaim installs def as the claim workflow for tenant+product.
func (p *StaticProvider) OverrideClaim(tenant, product string, def Definition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimOverrides[overrideKey{tenant: tenant, product: product}] = def
}

func (p *StaticProvider) Retrieve(_ context.Context, tenant, product string) (Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if def, ok := p.quoteOverrides[overrideKey{tenant: tenant, product: product}]; ok {
		return def, nil
	}
	return p.quote, nil
}

// RetrieveClaim returns the claim workflow for tenant+product.
func (p *StaticProvider) RetrieveClaim(_ context.Context, tenant, product string) (Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if def, ok := p.claimOverrides[overrideKey{tenant: tenant, product: product}]; ok {
		return def, nil
	}
	return p.claim, nil
}

var _ Provider = (*StaticProvider)(nil)
