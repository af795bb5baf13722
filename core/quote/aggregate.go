// Package quote implements the event-sourced aggregate root governing the
// lifecycle of an insurable transaction: a quote progressing to policy
// issuance, and subsequent adjustment, renewal and cancellation
// transactions. All state is a pure projection of the aggregate's event
// stream; the aggregate never persists itself.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ian-magat0512/ubind-sub022/core/es"
	"github.com/ian-magat0512/ubind-sub022/core/fault"
	"github.com/ian-magat0512/ubind-sub022/core/patch"
	"github.com/ian-magat0512/ubind-sub022/core/refnum"
	"github.com/ian-magat0512/ubind-sub022/core/workflow"
)

// ErrMissingCalculationResult is returned when issuance is attempted
// without a recorded pricing result for the quote's current form data
// version. Terminal.
var ErrMissingCalculationResult = fault.New("quote.missing_calculation", "missing calculation result")

// Aggregate is the quote/policy aggregate root. Child entities live in
// flat, id-keyed collections; cross-references are id lookups, never
// ownership pointers.
type Aggregate struct {
	es.BaseAggregate

	Product      string `json:"product"`
	Environment  string `json:"environment"`
	Organisation string `json:"organisation,omitempty"`
	PolicyNumber string `json:"policy_number,omitempty"`

	Quotes       map[string]*Quote             `json:"quotes"`
	FormData     map[string]*FormDataVersion   `json:"form_data"`
	Calculations map[string]*CalculationResult `json:"calculations"`
	// Transactions are ordered by creation; that order breaks ties when
	// effective periods overlap.
	Transactions []*PolicyTransaction `json:"transactions"`
}

func New(tenant, id string) *Aggregate {
	a := &Aggregate{}
	a.SetTenant(tenant)
	a.SetID(id)
	return a
}

func (a *Aggregate) GetAggType() string { return es.AggTypeQuote }

func (a *Aggregate) Snapshot() ([]byte, error)         { return json.Marshal(a) }
func (a *Aggregate) RestoreSnapshot(data []byte) error { return json.Unmarshal(data, a) }

func (a *Aggregate) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[AggregateStarted](),
		es.Event[QuoteCreated](),
		es.Event[FormDataUpdated](),
		es.Event[CalculationRecorded](),
		es.Event[QuoteStatusChanged](),
		es.Event[PolicyIssued](),
		es.Event[FormDataPatched](),
		es.Event[CalculationPatched](),
	)
}

// === Projections ===

// Quote returns the quote entity by id, if present.
func (a *Aggregate) Quote(id string) (*Quote, bool) {
	q, ok := a.Quotes[id]
	return q, ok
}

// CurrentFormData returns the quote's current form data revision.
func (a *Aggregate) CurrentFormData(quoteID string) (*FormDataVersion, bool) {
	q, ok := a.Quotes[quoteID]
	if !ok || q.FormDataID == "" {
		return nil, false
	}
	fd, ok := a.FormData[q.FormDataID]
	return fd, ok
}

// CalculationFor returns the latest calculation result recorded for the
// given form data version, if any. Results sharing a RecordedAt are
// ordered by CalculationID so replayed state always answers the same way.
func (a *Aggregate) CalculationFor(formDataID string) (*CalculationResult, bool) {
	var (
		found      *CalculationResult
		superseded = map[string]bool{}
	)
	for _, c := range a.Calculations {
		if c.SupersedesID != "" {
			superseded[c.SupersedesID] = true
		}
	}
	for _, c := range a.Calculations {
		if c.FormDataID != formDataID {
			continue
		}
		if superseded[c.CalculationID] {
			continue
		}
		if found == nil || c.RecordedAt.After(found.RecordedAt) ||
			(c.RecordedAt.Equal(found.RecordedAt) && c.CalculationID > found.CalculationID) {
			found = c
		}
	}
	return found, found != nil
}

// DisplayTransaction returns the transaction governing the policy's terms
// at the given instant: the covering transaction, latest-created-wins on
// overlapping periods.
func (a *Aggregate) DisplayTransaction(at time.Time) (*PolicyTransaction, bool) {
	var display *PolicyTransaction
	for _, t := range a.Transactions {
		if !t.covers(at) {
			continue
		}
		if display == nil || !t.CreatedAt.Before(display.CreatedAt) {
			display = t
		}
	}
	return display, display != nil
}

// IsIssued reports whether the lineage has at least one policy transaction.
func (a *Aggregate) IsIssued() bool { return len(a.Transactions) > 0 }

// === Commands ===

// AggregateStarted is the domain's opening event, carrying the product
// context the lineage belongs to.
type AggregateStarted struct {
	Tenant       string    `json:"tenant"`
	AggregateID  string    `json:"aggregate_id"`
	Product      string    `json:"product"`
	Environment  string    `json:"environment"`
	Organisation string    `json:"organisation,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	At           time.Time `json:"at"`
}

func (AggregateStarted) EventType() string     { return "quote.aggregate_started" }
func (e AggregateStarted) PerformedBy() string { return e.UserID }

func (e AggregateStarted) Validate() error {
	if e.Tenant == "" || e.AggregateID == "" {
		return fmt.Errorf("tenant and aggregate id are required")
	}
	if e.Product == "" || e.Environment == "" {
		return fmt.Errorf("product and environment are required")
	}
	if e.At.IsZero() {
		return fmt.Errorf("started-at time is zero")
	}
	return nil
}

// CreateNewBusinessQuoteParams is the command surface for starting a
// lineage with its first quote.
type CreateNewBusinessQuoteParams struct {
	QuoteID      string
	Organisation string
	Product      string
	Environment  string
	Expiry       workflow.ExpirySettings
	Timezone     string
	TestData     bool
	UserID       string
	Timestamp    time.Time
}

// CreateNewBusinessQuote starts the lineage. It fails if the aggregate
// already carries history.
func (a *Aggregate) CreateNewBusinessQuote(p CreateNewBusinessQuoteParams) error {
	if a.IsOpened() || a.Product != "" || len(a.Quotes) > 0 {
		return fault.Wrap(workflow.ErrInvalidStateTransition, "lineage %s already started", a.GetID())
	}
	if p.QuoteID == "" {
		p.QuoteID = gonanoid.Must()
	}
	return es.RaiseAndApply(a,
		&AggregateStarted{
			Tenant:       a.GetTenant(),
			AggregateID:  a.GetID(),
			Product:      p.Product,
			Environment:  p.Environment,
			Organisation: p.Organisation,
			UserID:       p.UserID,
			At:           p.Timestamp,
		},
		&QuoteCreated{
			QuoteID:  p.QuoteID,
			Type:     TypeNewBusiness,
			Expiry:   p.Expiry,
			Timezone: p.Timezone,
			TestData: p.TestData,
			UserID:   p.UserID,
			At:       p.Timestamp,
		},
	)
}

// guard validates a workflow command against a quote's effective status and
// returns the quote. It is the single gate every mutating command passes
// through; a disallowed transition produces no event.
func (a *Aggregate) guard(def workflow.Definition, quoteID string, cmd workflow.Command, now time.Time) (*Quote, error) {
	q, ok := a.Quotes[quoteID]
	if !ok {
		return nil, fault.Wrap(workflow.ErrInvalidStateTransition, "quote %s not found", quoteID)
	}
	status := q.EffectiveStatus(now)
	if !def.IsTransitionAllowed(status, cmd) {
		return nil, fault.Wrap(
			workflow.ErrInvalidStateTransition,
			"command %q not allowed in status %q (quote %s)",
			cmd, status, quoteID,
		)
	}
	return q, nil
}

// UpdateFormData records a new form data revision for the quote.
func (a *Aggregate) UpdateFormData(def workflow.Definition, quoteID string, data json.RawMessage, userID string, now time.Time) error {
	q, err := a.guard(def, quoteID, workflow.CmdUpdateFormData, now)
	if err != nil {
		return err
	}
	return es.RaiseAndApply(a, &FormDataUpdated{
		QuoteID:      quoteID,
		FormDataID:   gonanoid.Must(),
		SupersedesID: q.FormDataID,
		Data:         data,
		UserID:       userID,
		At:           now,
	})
}

// RecordCalculationResult attaches an externally produced pricing result to
// a specific form data version. The version must already exist in the
// aggregate's history; forward references are rejected.
func (a *Aggregate) RecordCalculationResult(def workflow.Definition, quoteID, formDataID string, result json.RawMessage, userID string, now time.Time) error {
	q, err := a.guard(def, quoteID, workflow.CmdRecordCalc, now)
	if err != nil {
		return err
	}
	fd, ok := a.FormData[formDataID]
	if !ok || fd.QuoteID != q.ID {
		return fault.Wrap(
			workflow.ErrInvalidStateTransition,
			"form data %s does not belong to quote %s", formDataID, quoteID,
		)
	}
	return es.RaiseAndApply(a, &CalculationRecorded{
		QuoteID:       quoteID,
		CalculationID: gonanoid.Must(),
		FormDataID:    formDataID,
		Data:          result,
		PayableTotal:  payableTotalOf(result),
		UserID:        userID,
		At:            now,
	})
}

// SetWorkflowStatus performs a plain status transition (complete, approve,
// decline, discard) after consulting the workflow table.
func (a *Aggregate) SetWorkflowStatus(def workflow.Definition, quoteID string, cmd workflow.Command, to workflow.Status, userID string, now time.Time) error {
	q, err := a.guard(def, quoteID, cmd, now)
	if err != nil {
		return err
	}
	return es.RaiseAndApply(a, &QuoteStatusChanged{
		QuoteID: quoteID,
		From:    q.Status,
		To:      to,
		UserID:  userID,
		At:      now,
	})
}

// IssuePolicyParams is the command surface for binding a quote into a
// policy transaction.
type IssuePolicyParams struct {
	QuoteID        string
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
	ProductRelease string
	UserID         string
	Timestamp      time.Time

	// PolicyNumbers allocates the lineage's policy number on new business
	// issuance. CRNs allocates a payment reference per transaction.
	PolicyNumbers refnum.Allocator
	CRNs          refnum.Allocator
}

// IssuePolicy binds the quote: it requires a calculation result recorded
// against the quote's current form data version, allocates reference
// numbers, and produces the policy transaction.
func (a *Aggregate) IssuePolicy(ctx context.Context, def workflow.Definition, p IssuePolicyParams) error {
	q, err := a.guard(def, p.QuoteID, workflow.CmdIssue, p.Timestamp)
	if err != nil {
		return err
	}

	calc, ok := a.CalculationFor(q.FormDataID)
	if !ok {
		return fault.Wrap(
			ErrMissingCalculationResult,
			"quote %s has no calculation result for form data %s", q.ID, q.FormDataID,
		)
	}

	kind := kinds[q.Type]

	var policyNumber string
	if kind.allocatesPolicyNumber {
		if p.PolicyNumbers == nil {
			return fmt.Errorf("policy number allocator is required for %s issuance", q.Type)
		}
		policyNumber, err = p.PolicyNumbers.ConsumeForProduct(ctx, a.GetTenant(), a.Product, a.Environment)
		if err != nil {
			return err
		}
	}

	if p.CRNs == nil {
		return fmt.Errorf("crn allocator is required for issuance")
	}
	crn, err := p.CRNs.ConsumeForProduct(ctx, a.GetTenant(), a.Product, a.Environment)
	if err != nil {
		return err
	}

	return es.RaiseAndApply(a, &PolicyIssued{
		QuoteID:        q.ID,
		TransactionID:  gonanoid.Must(),
		PolicyNumber:   policyNumber,
		CRN:            crn,
		CalculationID:  calc.CalculationID,
		EffectiveFrom:  p.EffectiveFrom,
		EffectiveTo:    p.EffectiveTo,
		ProductRelease: p.ProductRelease,
		UserID:         p.UserID,
		At:             p.Timestamp,
	})
}

// CreateChildQuoteParams starts an adjustment, renewal or cancellation
// quote against the issued quote of the lineage.
type CreateChildQuoteParams struct {
	Type          QuoteType
	ParentQuoteID string
	QuoteID       string
	Expiry        workflow.ExpirySettings
	UserID        string
	Timestamp     time.Time
}

// CreateChildQuote validates the kind-specific command (adjust, renew,
// cancel) against the parent quote's status and starts the child quote.
func (a *Aggregate) CreateChildQuote(def workflow.Definition, p CreateChildQuoteParams) error {
	kind, ok := kinds[p.Type]
	if !ok || kind.createCommand == "" {
		return fmt.Errorf("quote type %q cannot be created against an issued policy", p.Type)
	}
	if _, err := a.guard(def, p.ParentQuoteID, kind.createCommand, p.Timestamp); err != nil {
		return err
	}
	if p.QuoteID == "" {
		p.QuoteID = gonanoid.Must()
	}
	return es.RaiseAndApply(a, &QuoteCreated{
		QuoteID:       p.QuoteID,
		Type:          p.Type,
		ParentQuoteID: p.ParentQuoteID,
		Expiry:        p.Expiry,
		UserID:        p.UserID,
		At:            p.Timestamp,
	})
}

// PatchFormData applies a scoped correction to the quote's current form
// data. The patch is validated against the current revision; a failed
// patch produces no event.
func (a *Aggregate) PatchFormData(def workflow.Definition, quoteID string, cmd patch.Command, userID string, now time.Time) error {
	q, err := a.guard(def, quoteID, workflow.CmdPatch, now)
	if err != nil {
		return err
	}
	if !cmd.Scope.AppliesTo(a.GetTenant(), a.Product, quoteID) {
		return fault.Wrap(patch.ErrRuleViolation, "patch scope does not cover quote %s", quoteID)
	}

	switch cmd.Target {
	case patch.TargetFormData:
		fd, ok := a.FormData[q.FormDataID]
		if !ok {
			return fault.Wrap(patch.ErrPathNotFound, "quote %s has no form data", quoteID)
		}
		if _, err := patch.Apply(fd.Data, cmd, a.IsIssued()); err != nil {
			return err
		}
		return es.RaiseAndApply(a, &FormDataPatched{
			QuoteID:       quoteID,
			NewFormDataID: gonanoid.Must(),
			BaseID:        fd.ID,
			Patch:         cmd,
			UserID:        userID,
			At:            now,
		})

	case patch.TargetCalculationResult:
		calc, ok := a.CalculationFor(q.FormDataID)
		if !ok {
			return fault.Wrap(ErrMissingCalculationResult, "quote %s has no calculation result", quoteID)
		}
		if _, err := patch.Apply(calc.Data, cmd, a.IsIssued()); err != nil {
			return err
		}
		return es.RaiseAndApply(a, &CalculationPatched{
			QuoteID:          quoteID,
			NewCalculationID: gonanoid.Must(),
			BaseID:           calc.CalculationID,
			Patch:            cmd,
			UserID:           userID,
			At:               now,
		})

	default:
		return fault.Wrap(patch.ErrRuleViolation, "unknown patch target %q", cmd.Target)
	}
}

// === Apply ===

func (a *Aggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateStarted:
		a.SetTenant(e.Tenant)
		a.SetID(e.AggregateID)
		a.OpenedAt = e.At
		a.Product = e.Product
		a.Environment = e.Environment
		a.Organisation = e.Organisation
		a.ensureMaps()
		return nil

	case *QuoteCreated:
		a.ensureMaps()
		a.Quotes[e.QuoteID] = &Quote{
			ID:        e.QuoteID,
			Type:      e.Type,
			Status:    workflow.StatusNascent,
			Expiry:    e.Expiry,
			Timezone:  e.Timezone,
			TestData:  e.TestData,
			CreatedAt: e.At,
		}
		return nil

	case *FormDataUpdated:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("form data update for unknown quote %s", e.QuoteID)
		}
		a.FormData[e.FormDataID] = &FormDataVersion{
			ID:           e.FormDataID,
			QuoteID:      e.QuoteID,
			SupersedesID: e.SupersedesID,
			Data:         e.Data,
			CreatedAt:    e.At,
		}
		q.FormDataID = e.FormDataID
		if q.Status == workflow.StatusNascent {
			q.Status = workflow.StatusIncomplete
		}
		return nil

	case *CalculationRecorded:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("calculation recorded for unknown quote %s", e.QuoteID)
		}
		if _, exists := a.Calculations[e.CalculationID]; exists {
			return fmt.Errorf("calculation %s already recorded", e.CalculationID)
		}
		a.Calculations[e.CalculationID] = &CalculationResult{
			CalculationID: e.CalculationID,
			FormDataID:    e.FormDataID,
			QuoteID:       e.QuoteID,
			SupersedesID:  e.SupersedesID,
			Data:          e.Data,
			PayableTotal:  e.PayableTotal,
			RecordedAt:    e.At,
		}
		q.LatestCalculationID = e.CalculationID
		if q.Status == workflow.StatusIncomplete {
			q.Status = workflow.StatusComplete
		}
		return nil

	case *QuoteStatusChanged:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("status change for unknown quote %s", e.QuoteID)
		}
		q.Status = e.To
		return nil

	case *PolicyIssued:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("issuance for unknown quote %s", e.QuoteID)
		}
		if e.PolicyNumber != "" {
			a.PolicyNumber = e.PolicyNumber
		}
		kind := kinds[q.Type]
		tx := &PolicyTransaction{
			ID:             e.TransactionID,
			Type:           kind.transactionType,
			QuoteID:        e.QuoteID,
			EffectiveFrom:  e.EffectiveFrom,
			EffectiveTo:    e.EffectiveTo,
			CalculationID:  e.CalculationID,
			ProductRelease: e.ProductRelease,
			CRN:            e.CRN,
			CreatedAt:      e.At,
		}
		if kind.terminatesCover {
			// cover ends at the cancellation's effective instant: prior
			// transactions are clipped, never extended, and the
			// cancellation transaction itself covers nothing
			end := e.EffectiveFrom
			for _, prior := range a.Transactions {
				if prior.EffectiveTo == nil || prior.EffectiveTo.After(end) {
					to := end
					prior.EffectiveTo = &to
				}
			}
			if tx.EffectiveTo == nil {
				tx.EffectiveTo = &end
			}
		}
		a.Transactions = append(a.Transactions, tx)
		q.Status = workflow.StatusIssued
		return nil

	case *FormDataPatched:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("patch for unknown quote %s", e.QuoteID)
		}
		base, ok := a.FormData[e.BaseID]
		if !ok {
			return fmt.Errorf("patch references unknown form data %s", e.BaseID)
		}
		patched, err := patch.Apply(base.Data, e.Patch, false)
		if err != nil {
			return fmt.Errorf("replaying patch on form data %s: %w", e.BaseID, err)
		}
		a.FormData[e.NewFormDataID] = &FormDataVersion{
			ID:           e.NewFormDataID,
			QuoteID:      e.QuoteID,
			SupersedesID: e.BaseID,
			Data:         patched,
			CreatedAt:    e.At,
		}
		q.FormDataID = e.NewFormDataID
		return nil

	case *CalculationPatched:
		q, ok := a.Quotes[e.QuoteID]
		if !ok {
			return fmt.Errorf("patch for unknown quote %s", e.QuoteID)
		}
		base, ok := a.Calculations[e.BaseID]
		if !ok {
			return fmt.Errorf("patch references unknown calculation %s", e.BaseID)
		}
		patched, err := patch.Apply(base.Data, e.Patch, false)
		if err != nil {
			return fmt.Errorf("replaying patch on calculation %s: %w", e.BaseID, err)
		}
		a.Calculations[e.NewCalculationID] = &CalculationResult{
			CalculationID: e.NewCalculationID,
			FormDataID:    base.FormDataID,
			QuoteID:       e.QuoteID,
			SupersedesID:  e.BaseID,
			Data:          patched,
			PayableTotal:  payableTotalOf(patched),
			RecordedAt:    e.At,
		}
		q.LatestCalculationID = e.NewCalculationID
		return nil
	}

	return fmt.Errorf("unknown event: %T", evt)
}

func (a *Aggregate) ensureMaps() {
	if a.Quotes == nil {
		a.Quotes = map[string]*Quote{}
	}
	if a.FormData == nil {
		a.FormData = map[string]*FormDataVersion{}
	}
	if a.Calculations == nil {
		a.Calculations = map[string]*CalculationResult{}
	}
}

var (
	_ es.Aggregate     = (*Aggregate)(nil)
	_ es.Snapshottable = (*Aggregate)(nil)
)
