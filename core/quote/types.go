package quote

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ian-magat0512/ubind-sub022/core/workflow"
)

// QuoteType is the kind discriminant of a quote. Kind-specific behavior is
// dispatched through the kinds table below instead of subtype hierarchies.
type QuoteType string

const (
	TypeNewBusiness  QuoteType = "new_business"
	TypeAdjustment   QuoteType = "adjustment"
	TypeRenewal      QuoteType = "renewal"
	TypeCancellation QuoteType = "cancellation"
)

// kindBehavior captures what differs between quote kinds: which workflow
// command gates creating the quote against the issued lineage, what
// transaction type issuance produces, whether issuance allocates a fresh
// policy number, and whether it terminates the lineage's cover.
type kindBehavior struct {
	createCommand         workflow.Command
	transactionType       QuoteType
	allocatesPolicyNumber bool
	terminatesCover       bool
}

var kinds = map[QuoteType]kindBehavior{
	TypeNewBusiness: {
		transactionType:       TypeNewBusiness,
		allocatesPolicyNumber: true,
	},
	TypeAdjustment: {
		createCommand:   workflow.CmdAdjust,
		transactionType: TypeAdjustment,
	},
	TypeRenewal: {
		createCommand:   workflow.CmdRenew,
		transactionType: TypeRenewal,
	},
	TypeCancellation: {
		createCommand:   workflow.CmdCancel,
		transactionType: TypeCancellation,
		terminatesCover: true,
	},
}

// Quote is a child entity of the aggregate, derived purely from events.
type Quote struct {
	ID       string                  `json:"id"`
	Type     QuoteType               `json:"type"`
	Status   workflow.Status         `json:"status"`
	Expiry   workflow.ExpirySettings `json:"expiry"`
	Timezone string                  `json:"timezone,omitempty"`

	// FormDataID references the current form data version.
	FormDataID string `json:"form_data_id,omitempty"`
	// LatestCalculationID references the most recent calculation result.
	LatestCalculationID string `json:"latest_calculation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	TestData  bool      `json:"test_data"`
}

// EffectiveStatus evaluates expiry lazily: a quote still in a pre-issuance
// state past its expiry instant reads as expired without any background
// scheduling.
func (q *Quote) EffectiveStatus(now time.Time) workflow.Status {
	switch q.Status {
	case workflow.StatusIssued, workflow.StatusDeclined,
		workflow.StatusExpired, workflow.StatusDiscarded:
		return q.Status
	}
	expiresAt := q.Expiry.ExpiresAt(q.CreatedAt)
	if !expiresAt.IsZero() && now.After(expiresAt) {
		return workflow.StatusExpired
	}
	return q.Status
}

// FormDataVersion is one immutable revision of a quote's form data.
type FormDataVersion struct {
	ID      string `json:"id"`
	QuoteID string `json:"quote_id"`
	// SupersedesID links back to the revision this one replaced.
	SupersedesID string          `json:"supersedes_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CalculationResult is an immutable snapshot of pricing-engine output,
// identified by (FormDataID, CalculationID). Corrections never edit a
// result in place; they create a new result linked via SupersedesID, so
// historical pricing stays reproducible byte-for-byte.
type CalculationResult struct {
	CalculationID string `json:"calculation_id"`
	FormDataID    string `json:"form_data_id"`
	QuoteID       string `json:"quote_id"`
	// SupersedesID links back to the result this one corrects.
	SupersedesID string          `json:"supersedes_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	PayableTotal decimal.Decimal `json:"payable_total"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// PolicyTransaction is produced when a quote reaches issuance. The set of a
// policy's transactions, ordered by creation, determines the display
// transaction for any instant.
type PolicyTransaction struct {
	ID      string    `json:"id"`
	Type    QuoteType `json:"type"`
	QuoteID string    `json:"quote_id"`

	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`

	CalculationID  string `json:"calculation_id"`
	ProductRelease string `json:"product_release,omitempty"`
	// CRN is the payment customer reference number allocated for this
	// transaction.
	CRN string `json:"crn,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// covers reports whether at falls inside the transaction's effective period.
func (t *PolicyTransaction) covers(at time.Time) bool {
	if at.Before(t.EffectiveFrom) {
		return false
	}
	if t.EffectiveTo != nil && !at.Before(*t.EffectiveTo) {
		return false
	}
	return true
}
