// Package workflow supplies, per tenant and product, the legal
// state-transition table and expiry policy for quotes and claims. The
// provider is a pure lookup: it holds no mutable state and performs no I/O,
// so aggregates can consult it on every command without concurrency
// concerns.
package workflow

import (
	"context"
	"time"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

// ErrInvalidStateTransition is returned when a command is illegal in the
// current workflow state. Terminal: the command produced no event and
// retrying without a state change cannot succeed.
var ErrInvalidStateTransition = fault.New("workflow.invalid_transition", "invalid state transition")

// Status is a workflow state of a quote or claim. The sets differ per
// product; the constants below are the defaults shipped with the core.
type Status string

// Command identifies the kind of mutation being validated against the
// transition table.
type Command string

// Quote statuses.
const (
	StatusNascent    Status = "nascent"
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	StatusApproved   Status = "approved"
	StatusDeclined   Status = "declined"
	StatusIssued     Status = "issued"
	StatusExpired    Status = "expired"
	StatusDiscarded  Status = "discarded"
)

// Claim statuses.
const (
	StatusClaimIncomplete   Status = "incomplete"
	StatusClaimNotified     Status = "notified"
	StatusClaimAcknowledged Status = "acknowledged"
	StatusClaimReview       Status = "review"
	StatusClaimAssessment   Status = "assessment"
	StatusClaimApproved     Status = "approved"
	StatusClaimSettlement   Status = "settlement"
	StatusClaimComplete     Status = "complete"
	StatusClaimDeclined     Status = "declined"
	StatusClaimWithdrawn    Status = "withdrawn"
)

// Quote commands.
const (
	CmdUpdateFormData Command = "update_form_data"
	CmdRecordCalc     Command = "record_calculation"
	CmdApprove        Command = "approve"
	CmdDecline        Command = "decline"
	CmdIssue          Command = "issue"
	CmdDiscard        Command = "discard"
	CmdPatch          Command = "patch"
	CmdAdjust         Command = "adjust"
	CmdRenew          Command = "renew"
	CmdCancel         Command = "cancel"
)

// Claim commands.
const (
	CmdClaimNotify       Command = "claim_notify"
	CmdClaimAcknowledge  Command = "claim_acknowledge"
	CmdClaimReview       Command = "claim_review"
	CmdClaimAssess       Command = "claim_assess"
	CmdClaimApprove      Command = "claim_approve"
	CmdClaimSettle       Command = "claim_settle"
	CmdClaimComplete     Command = "claim_complete"
	CmdClaimDecline      Command = "claim_decline"
	CmdClaimWithdraw     Command = "claim_withdraw"
	CmdClaimRecordAmount Command = "claim_record_amount"
)

// ExpirySettings is the quote expiry policy. Expiry is evaluated lazily at
// read time against an injected clock; no scheduler runs in this core.
type ExpirySettings struct {
	Enabled bool
	// Deadline, when non-zero, is an absolute expiry instant.
	Deadline time.Time
	// After, when non-zero, is a relative offset from quote creation.
	After time.Duration
}

// ExpiresAt resolves the effective expiry instant for a quote created at
// createdAt. The zero time means the quote never expires.
func (s ExpirySettings) ExpiresAt(createdAt time.Time) time.Time {
	if !s.Enabled {
		return time.Time{}
	}
	if !s.Deadline.IsZero() {
		return s.Deadline
	}
	if s.After > 0 {
		return createdAt.Add(s.After)
	}
	return time.Time{}
}

// Definition is one tenant+product's workflow: the legal transitions and
// the expiry policy.
type Definition struct {
	Name        string
	Transitions map[Status][]Command
	Expiry      ExpirySettings
}

// IsTransitionAllowed reports whether cmd is legal while in from.
func (d Definition) IsTransitionAllowed(from Status, cmd Command) bool {
	for _, c := range d.Transitions[from] {
		if c == cmd {
			return true
		}
	}
	return false
}

// Provider retrieves the quote workflow definition for a tenant+product.
type Provider interface {
	Retrieve(ctx context.Context, tenant, product string) (Definition, error)
}

// ClaimProvider retrieves the claim workflow definition for a
// tenant+product.
type ClaimProvider interface {
	RetrieveClaim(ctx context.Context, tenant, product string) (Definition, error)
}
