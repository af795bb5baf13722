// Package claim implements the claim aggregate: the second aggregate type
// of the core, following the same event-sourcing shape as quotes with its
// own workflow (Incomplete -> Notified -> Acknowledged -> Review ->
// Assessment -> {Approved -> Settlement -> Complete} | Declined |
// Withdrawn).
package claim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ian-magat0512/ubind-sub022/core/es"
	"github.com/ian-magat0512/ubind-sub022/core/fault"
	"github.com/ian-magat0512/ubind-sub022/core/refnum"
	"github.com/ian-magat0512/ubind-sub022/core/workflow"
)

// Aggregate is the claim aggregate root.
type Aggregate struct {
	es.BaseAggregate

	Product     string `json:"product"`
	Environment string `json:"environment"`
	// PolicyNumber references the policy the claim is lodged against.
	PolicyNumber string `json:"policy_number,omitempty"`
	ClaimNumber  string `json:"claim_number,omitempty"`

	Status workflow.Status `json:"status"`
	// Amount is the currently assessed claim amount.
	Amount decimal.Decimal `json:"amount"`
	// Description is the claimant's account of the incident.
	Description string    `json:"description,omitempty"`
	IncidentAt  time.Time `json:"incident_at,omitzero"`
}

func New(tenant, id string) *Aggregate {
	a := &Aggregate{}
	a.SetTenant(tenant)
	a.SetID(id)
	return a
}

func (a *Aggregate) GetAggType() string { return es.AggTypeClaim }

func (a *Aggregate) Snapshot() ([]byte, error)         { return json.Marshal(a) }
func (a *Aggregate) RestoreSnapshot(data []byte) error { return json.Unmarshal(data, a) }

func (a *Aggregate) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[Notified](),
		es.Event[StateChanged](),
		es.Event[AmountRecorded](),
	)
}

// === Events ===

// Notified starts the claim stream: the claim is lodged and a claim number
// allocated.
type Notified struct {
	Tenant       string    `json:"tenant"`
	ClaimID      string    `json:"claim_id"`
	ClaimNumber  string    `json:"claim_number"`
	Product      string    `json:"product"`
	Environment  string    `json:"environment"`
	PolicyNumber string    `json:"policy_number,omitempty"`
	Description  string    `json:"description,omitempty"`
	IncidentAt   time.Time `json:"incident_at,omitzero"`
	UserID       string    `json:"user_id,omitempty"`
	At           time.Time `json:"at"`
}

func (Notified) EventType() string     { return "claim.notified" }
func (e Notified) PerformedBy() string { return e.UserID }

func (e Notified) Validate() error {
	if e.Tenant == "" || e.ClaimID == "" {
		return fmt.Errorf("tenant and claim id are required")
	}
	if e.ClaimNumber == "" {
		return fmt.Errorf("claim number is required")
	}
	if e.Product == "" || e.Environment == "" {
		return fmt.Errorf("product and environment are required")
	}
	if e.At.IsZero() {
		return fmt.Errorf("notified-at time is zero")
	}
	return nil
}

// StateChanged is a workflow transition of the claim.
type StateChanged struct {
	From   workflow.Status `json:"from"`
	To     workflow.Status `json:"to"`
	Reason string          `json:"reason,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	At     time.Time       `json:"at"`
}

func (StateChanged) EventType() string     { return "claim.state_changed" }
func (e StateChanged) PerformedBy() string { return e.UserID }

func (e StateChanged) Validate() error {
	if e.To == "" {
		return fmt.Errorf("target status is required")
	}
	if e.At.IsZero() {
		return fmt.Errorf("changed-at time is zero")
	}
	return nil
}

// AmountRecorded updates the assessed claim amount.
type AmountRecorded struct {
	Amount decimal.Decimal `json:"amount"`
	UserID string          `json:"user_id,omitempty"`
	At     time.Time       `json:"at"`
}

func (AmountRecorded) EventType() string     { return "claim.amount_recorded" }
func (e AmountRecorded) PerformedBy() string { return e.UserID }

func (e AmountRecorded) Validate() error {
	if e.Amount.IsNegative() {
		return fmt.Errorf("claim amount must not be negative")
	}
	if e.At.IsZero() {
		return fmt.Errorf("recorded-at time is zero")
	}
	return nil
}

// === Commands ===

// NotifyParams is the command surface for lodging a claim.
type NotifyParams struct {
	Product      string
	Environment  string
	PolicyNumber string
	Description  string
	IncidentAt   time.Time
	UserID       string
	Timestamp    time.Time

	// ClaimNumbers allocates the claim's reference number.
	ClaimNumbers refnum.Allocator
}

// Notify lodges the claim, allocating its claim number.
func (a *Aggregate) Notify(ctx context.Context, def workflow.Definition, p NotifyParams) error {
	if a.Status != "" {
		return fault.Wrap(workflow.ErrInvalidStateTransition, "claim %s already notified", a.GetID())
	}
	if !def.IsTransitionAllowed(workflow.StatusClaimIncomplete, workflow.CmdClaimNotify) {
		return fault.Wrap(workflow.ErrInvalidStateTransition, "claim notification is disabled")
	}
	if p.ClaimNumbers == nil {
		return fmt.Errorf("claim number allocator is required")
	}
	number, err := p.ClaimNumbers.ConsumeForProduct(ctx, a.GetTenant(), p.Product, p.Environment)
	if err != nil {
		return err
	}
	return es.RaiseAndApply(a, &Notified{
		Tenant:       a.GetTenant(),
		ClaimID:      a.GetID(),
		ClaimNumber:  number,
		Product:      p.Product,
		Environment:  p.Environment,
		PolicyNumber: p.PolicyNumber,
		Description:  p.Description,
		IncidentAt:   p.IncidentAt,
		UserID:       p.UserID,
		At:           p.Timestamp,
	})
}

// transitionTargets maps each claim command to the status it moves to.
var transitionTargets = map[workflow.Command]workflow.Status{
	workflow.CmdClaimAcknowledge: workflow.StatusClaimAcknowledged,
	workflow.CmdClaimReview:      workflow.StatusClaimReview,
	workflow.CmdClaimAssess:      workflow.StatusClaimAssessment,
	workflow.CmdClaimApprove:     workflow.StatusClaimApproved,
	workflow.CmdClaimSettle:      workflow.StatusClaimSettlement,
	workflow.CmdClaimComplete:    workflow.StatusClaimComplete,
	workflow.CmdClaimDecline:     workflow.StatusClaimDeclined,
	workflow.CmdClaimWithdraw:    workflow.StatusClaimWithdrawn,
}

// ChangeState performs the transition cmd after consulting the workflow
// table; a disallowed transition produces no event.
func (a *Aggregate) ChangeState(def workflow.Definition, cmd workflow.Command, reason, userID string, now time.Time) error {
	to, ok := transitionTargets[cmd]
	if !ok {
		return fault.Wrap(workflow.ErrInvalidStateTransition, "unknown claim command %q", cmd)
	}
	if !def.IsTransitionAllowed(a.Status, cmd) {
		return fault.Wrap(
			workflow.ErrInvalidStateTransition,
			"command %q not allowed in status %q (claim %s)", cmd, a.Status, a.GetID(),
		)
	}
	return es.RaiseAndApply(a, &StateChanged{
		From:   a.Status,
		To:     to,
		Reason: reason,
		UserID: userID,
		At:     now,
	})
}

// Withdraw retracts the claim.
func (a *Aggregate) Withdraw(def workflow.Definition, reason, userID string, now time.Time) error {
	return a.ChangeState(def, workflow.CmdClaimWithdraw, reason, userID, now)
}

// RecordAmount updates the assessed amount.
func (a *Aggregate) RecordAmount(def workflow.Definition, amount decimal.Decimal, userID string, now time.Time) error {
	if !def.IsTransitionAllowed(a.Status, workflow.CmdClaimRecordAmount) {
		return fault.Wrap(
			workflow.ErrInvalidStateTransition,
			"amount cannot be recorded in status %q (claim %s)", a.Status, a.GetID(),
		)
	}
	return es.RaiseAndApply(a, &AmountRecorded{Amount: amount, UserID: userID, At: now})
}

// === Apply ===

func (a *Aggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *Notified:
		a.SetTenant(e.Tenant)
		a.SetID(e.ClaimID)
		a.OpenedAt = e.At
		a.Product = e.Product
		a.Environment = e.Environment
		a.PolicyNumber = e.PolicyNumber
		a.ClaimNumber = e.ClaimNumber
		a.Description = e.Description
		a.IncidentAt = e.IncidentAt
		a.Status = workflow.StatusClaimNotified
		return nil

	case *StateChanged:
		a.Status = e.To
		return nil

	case *AmountRecorded:
		a.Amount = e.Amount
		return nil
	}

	return fmt.Errorf("unknown event: %T", evt)
}

var (
	_ es.Aggregate     = (*Aggregate)(nil)
	_ es.Snapshottable = (*Aggregate)(nil)
)
