package quote

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ian-magat0512/ubind-sub022/core/patch"
	"github.com/ian-magat0512/ubind-sub022/core/workflow"
)

// Event type names are part of the persisted format; they never change once
// streams exist.

// QuoteCreated starts a quote of any kind. For adjustment, renewal and
// cancellation quotes, ParentQuoteID references the issued quote of the
// lineage the new quote amends.
type QuoteCreated struct {
	QuoteID       string                  `json:"quote_id"`
	Type          QuoteType               `json:"type"`
	ParentQuoteID string                  `json:"parent_quote_id,omitempty"`
	Expiry        workflow.ExpirySettings `json:"expiry"`
	Timezone      string                  `json:"timezone,omitempty"`
	TestData      bool                    `json:"test_data,omitempty"`
	UserID        string                  `json:"user_id,omitempty"`
	At            time.Time               `json:"at"`
}

func (QuoteCreated) EventType() string     { return "quote.created" }
func (e QuoteCreated) PerformedBy() string { return e.UserID }

func (e QuoteCreated) Validate() error {
	if e.QuoteID == "" {
		return errors.New("quote id is required")
	}
	if _, ok := kinds[e.Type]; !ok {
		return errors.New("unknown quote type")
	}
	if e.Type != TypeNewBusiness && e.ParentQuoteID == "" {
		return errors.New("parent quote id is required for non-new-business quotes")
	}
	if e.At.IsZero() {
		return errors.New("created-at time is zero")
	}
	return nil
}

// FormDataUpdated records a new immutable form data revision and repoints
// the quote at it.
type FormDataUpdated struct {
	QuoteID      string          `json:"quote_id"`
	FormDataID   string          `json:"form_data_id"`
	SupersedesID string          `json:"supersedes_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	UserID       string          `json:"user_id,omitempty"`
	At           time.Time       `json:"at"`
}

func (FormDataUpdated) EventType() string     { return "quote.form_data_updated" }
func (e FormDataUpdated) PerformedBy() string { return e.UserID }

func (e FormDataUpdated) Validate() error {
	if e.QuoteID == "" || e.FormDataID == "" {
		return errors.New("quote id and form data id are required")
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		return errors.New("form data must be valid JSON")
	}
	if e.At.IsZero() {
		return errors.New("updated-at time is zero")
	}
	return nil
}

// CalculationRecorded attaches an externally computed pricing result to a
// specific form data version. The payload is opaque to the core and stored
// byte-for-byte.
type CalculationRecorded struct {
	QuoteID       string          `json:"quote_id"`
	CalculationID string          `json:"calculation_id"`
	FormDataID    string          `json:"form_data_id"`
	SupersedesID  string          `json:"supersedes_id,omitempty"`
	Data          json.RawMessage `json:"data"`
	PayableTotal  decimal.Decimal `json:"payable_total"`
	UserID        string          `json:"user_id,omitempty"`
	At            time.Time       `json:"at"`
}

func (CalculationRecorded) EventType() string     { return "quote.calculation_recorded" }
func (e CalculationRecorded) PerformedBy() string { return e.UserID }

func (e CalculationRecorded) Validate() error {
	if e.QuoteID == "" || e.CalculationID == "" || e.FormDataID == "" {
		return errors.New("quote id, calculation id and form data id are required")
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		return errors.New("calculation result must be valid JSON")
	}
	if e.At.IsZero() {
		return errors.New("recorded-at time is zero")
	}
	return nil
}

// QuoteStatusChanged is a workflow transition that carries no other effect
// (approve, decline, discard, progress to complete).
type QuoteStatusChanged struct {
	QuoteID string          `json:"quote_id"`
	From    workflow.Status `json:"from"`
	To      workflow.Status `json:"to"`
	UserID  string          `json:"user_id,omitempty"`
	At      time.Time       `json:"at"`
}

func (QuoteStatusChanged) EventType() string     { return "quote.status_changed" }
func (e QuoteStatusChanged) PerformedBy() string { return e.UserID }

func (e QuoteStatusChanged) Validate() error {
	if e.QuoteID == "" {
		return errors.New("quote id is required")
	}
	if e.To == "" {
		return errors.New("target status is required")
	}
	if e.At.IsZero() {
		return errors.New("changed-at time is zero")
	}
	return nil
}

/// PolicyIssued records issuance: the allocated numbers, the effective
// period and the exact calculation result the policy was bound on.
type PolicyIssued struct {
	QuoteID       string `json:"quote_id"`
	TransactionID string `json:"transaction_id"`
	// PolicyNumber is set on new business issuance only; later transactions
	// reuse the lineage's number.
	PolicyNumber   string     `json:"policy_number,omitempty"`
	CRN            string     `json:"crn"`
	CalculationID  string     `json:"calculation_id"`
	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveTo    *time.Time `json:"effective_to,omitempty"`
	ProductRelease string     `json:"product_release,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	At             time.Time  `json:"at"`
}

func (PolicyIssued) EventType() string     { return "policy.issued" }
func (e PolicyIssued) PerformedBy() string { return e.UserID }

func (e PolicyIssued) Validate() error {
	if e.QuoteID == "" || e.TransactionID == "" {
		return errors.New("quote id and transaction id are required")
	}
	if e.CalculationID == "" {
		return errors.New("calculation id is required")
	}
	if e.CRN == "" {
		return errors.New("crn is required")
	}
	if e.EffectiveFrom.IsZero() {
		return errors.New("effective-from time is zero")
	}
	if e.At.IsZero() {
		return errors.New("issued-at time is zero")
	}
	return nil
}

// FormDataPatched records a scoped correction to a quote's form data. The
// patched revision is recomputed deterministically on replay from the
// recorded instruction, so history is never rewritten.
type FormDataPatched struct {
	QuoteID       string        `json:"quote_id"`
	NewFormDataID string        `json:"new_form_data_id"`
	BaseID        string        `json:"base_id"`
	Patch         patch.Command `json:"patch"`
	UserID        string        `json:"user_id,omitempty"`
	At            time.Time     `json:"at"`
}

func (FormDataPatched) EventType() string     { return "quote.form_data_patched" }
func (e FormDataPatched) PerformedBy() string { return e.UserID }

func (e FormDataPatched) Validate() error {
	if e.QuoteID == "" || e.NewFormDataID == "" || e.BaseID == "" {
		return errors.New("quote id, new form data id and base id are required")
	}
	if e.At.IsZero() {
		return errors.New("patched-at time is zero")
	}
	return e.Patch.Validate()
}

// CalculationPatched records a scoped correction to a calculation result as
// a new linked result version; the original stays untouched.
type CalculationPatched struct {
	QuoteID          string        `json:"quote_id"`
	NewCalculationID string        `json:"new_calculation_id"`
	BaseID           string        `json:"base_id"`
	Patch            patch.Command `json:"patch"`
	UserID           string        `json:"user_id,omitempty"`
	At               time.Time     `json:"at"`
}

func (CalculationPatched) EventType() string     { return "quote.calculation_patched" }
func (e CalculationPatched) PerformedBy() string { return e.UserID }

func (e CalculationPatched) Validate() error {
	if e.QuoteID == "" || e.NewCalculationID == "" || e.BaseID == "" {
		return errors.New("quote id, new calculation id and base id are required")
	}
	if e.At.IsZero() {
		return errors.New("patched-at time is zero")
	}
	return e.Patch.Validate()
}
