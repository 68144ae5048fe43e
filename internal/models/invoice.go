package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CollectionBufferDays is the fixed margin required between the end of a
// lender's funding period and the invoice due date, so there is time to
// collect payment from the anchor.
const CollectionBufferDays = 14

// ============================================================================
// INVOICE
// ============================================================================

type Invoice struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	InvoiceNumber string          `json:"invoice_number" db:"invoice_number"`
	SellerID      string          `json:"seller_id" db:"seller_id"`
	SellerEmail   *string         `json:"seller_email,omitempty" db:"seller_email"`
	AnchorID      string          `json:"anchor_id" db:"anchor_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	IssueDate     int64           `json:"issue_date" db:"issue_date"`
	DueDate       int64           `json:"due_date" db:"due_date"`
	Description   *string         `json:"description,omitempty" db:"description"`
	Status        InvoiceStatus   `json:"status" db:"status"`

	// Admin-controlled marketplace funding terms, set on anchor approval or
	// admin verification. All lender bids are bounded by these.
	MaxFundingAmount        *decimal.Decimal `json:"max_funding_amount,omitempty" db:"max_funding_amount"`
	RecommendedInterestRate *float64         `json:"recommended_interest_rate,omitempty" db:"recommended_interest_rate"`
	MaxTenureDays           *int             `json:"max_tenure_days,omitempty" db:"max_tenure_days"`

	// Funding outcome, populated when an offer is accepted.
	FundedBy             *string          `json:"funded_by,omitempty" db:"funded_by"`
	FundingAmount        *decimal.Decimal `json:"funding_amount,omitempty" db:"funding_amount"`
	InterestRate         *float64         `json:"interest_rate,omitempty" db:"interest_rate"`
	TenureDays           *int             `json:"tenure_days,omitempty" db:"tenure_days"`
	TotalRepaymentAmount *decimal.Decimal `json:"total_repayment_amount,omitempty" db:"total_repayment_amount"`
	AmountRepaid         decimal.Decimal  `json:"amount_repaid" db:"amount_repaid"`

	// Per-transition stamps and review notes.
	SubmittedAt           *int64  `json:"submitted_at,omitempty" db:"submitted_at"`
	AnchorApprovalDate    *int64  `json:"anchor_approval_date,omitempty" db:"anchor_approval_date"`
	AdminVerificationDate *int64  `json:"admin_verification_date,omitempty" db:"admin_verification_date"`
	ListedAt              *int64  `json:"listed_at,omitempty" db:"listed_at"`
	FundedAt              *int64  `json:"funded_at,omitempty" db:"funded_at"`
	RepaidAt              *int64  `json:"repaid_at,omitempty" db:"repaid_at"`
	SettledAt             *int64  `json:"settled_at,omitempty" db:"settled_at"`
	VerifiedBy            *string `json:"verified_by,omitempty" db:"verified_by"`
	AnchorNotes           *string `json:"anchor_notes,omitempty" db:"anchor_notes"`
	AdminNotes            *string `json:"admin_notes,omitempty" db:"admin_notes"`
	RejectionReason       *string `json:"rejection_reason,omitempty" db:"rejection_reason"`

	// Populated from an EXISTS subquery on read; never written directly.
	HasPrimaryDocument bool `json:"has_primary_document" db:"has_primary_document"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type InvoiceDocument struct {
	ID         uuid.UUID `json:"id" db:"id"`
	InvoiceID  uuid.UUID `json:"invoice_id" db:"invoice_id"`
	StorageID  string    `json:"storage_id" db:"storage_id"`
	URL        string    `json:"url" db:"url"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	MimeType   string    `json:"mime_type" db:"mime_type"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// StatusHistoryEntry is one row of the append-only audit trail. Entries are
// never mutated or deleted after insert.
type StatusHistoryEntry struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	InvoiceID uuid.UUID     `json:"invoice_id" db:"invoice_id"`
	Status    InvoiceStatus `json:"status" db:"status"`
	ActorID   string        `json:"actor_id" db:"actor_id"`
	ActorRole ActorRole     `json:"actor_role" db:"actor_role"`
	Notes     *string       `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

type Actor struct {
	ID   string
	Role ActorRole
}

// ============================================================================
// STATE MACHINE
// ============================================================================

// invoiceTransitions is the single source of truth for lifecycle legality.
// Every mutation path consults this table; legality is never re-derived in
// handlers.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:          {InvoiceSubmitted},
	InvoiceSubmitted:      {InvoiceAnchorApproved, InvoiceRejected},
	InvoiceAnchorApproved: {InvoiceAdminVerified, InvoiceRejected},
	InvoiceAdminVerified:  {InvoiceListed},
	InvoiceListed:         {InvoiceFunded},
	InvoiceFunded:         {InvoiceRepaid},
	InvoiceRepaid:         {InvoiceSettled},
	InvoiceRejected:       {InvoiceSubmitted},
	InvoiceSettled:        {},
}

// CanTransitionInvoice reports whether the lifecycle table permits moving
// from one status to another.
func CanTransitionInvoice(from, to InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (i *Invoice) CanBeEdited() bool {
	return i.Status == InvoiceDraft || i.Status == InvoiceRejected
}

func (i *Invoice) CanBeSubmitted() bool {
	return (i.Status == InvoiceDraft || i.Status == InvoiceRejected) && i.HasPrimaryDocument
}

func (i *Invoice) CanBeReviewedByAnchor() bool {
	return i.Status == InvoiceSubmitted
}

func (i *Invoice) CanBeVerifiedByAdmin() bool {
	return i.Status == InvoiceAnchorApproved
}

func (i *Invoice) CanBeListed() bool {
	return i.Status == InvoiceAdminVerified
}

func (i *Invoice) CanBeFunded() bool {
	return i.Status == InvoiceListed
}

// HasFundingTerms reports whether the admin-set marketplace terms required
// for bidding are present.
func (i *Invoice) HasFundingTerms() bool {
	return i.MaxFundingAmount != nil && i.RecommendedInterestRate != nil
}

// ApplyTransition moves the invoice to the target status, stamping the
// transition timestamp and returning the audit-trail entry to append. It
// mutates nothing when the transition is illegal.
func (i *Invoice) ApplyTransition(to InvoiceStatus, actor Actor, notes *string) (*StatusHistoryEntry, error) {
	if !CanTransitionInvoice(i.Status, to) {
		return nil, NewDomainErrorf(ErrInvalidStateTransition,
			"invoice cannot move from %s to %s", i.Status, to).
			WithDetail("current_status", i.Status).
			WithDetail("requested_status", to)
	}

	now := time.Now()
	nowUnix := now.Unix()

	switch to {
	case InvoiceSubmitted:
		i.SubmittedAt = &nowUnix
		// A resubmission starts a fresh review cycle.
		i.RejectionReason = nil
	case InvoiceAnchorApproved:
		i.AnchorApprovalDate = &nowUnix
		i.AnchorNotes = notes
	case InvoiceAdminVerified:
		i.AdminVerificationDate = &nowUnix
		i.AdminNotes = notes
		i.VerifiedBy = &actor.ID
	case InvoiceListed:
		i.ListedAt = &nowUnix
	case InvoiceFunded:
		i.FundedAt = &nowUnix
	case InvoiceRepaid:
		i.RepaidAt = &nowUnix
	case InvoiceSettled:
		i.SettledAt = &nowUnix
	case InvoiceRejected:
		i.RejectionReason = notes
		// Rejection reason and review notes are mutually exclusive per cycle.
		if i.Status == InvoiceSubmitted {
			i.AnchorNotes = nil
		}
		if i.Status == InvoiceAnchorApproved {
			i.AdminNotes = nil
		}
	}

	i.Status = to
	i.UpdatedAt = now

	return &StatusHistoryEntry{
		ID:        uuid.New(),
		InvoiceID: i.ID,
		Status:    to,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Notes:     notes,
		CreatedAt: now,
	}, nil
}

// NewCreationHistoryEntry builds the initial audit-trail entry recorded when
// the invoice is created in draft.
func (i *Invoice) NewCreationHistoryEntry() *StatusHistoryEntry {
	return &StatusHistoryEntry{
		ID:        uuid.New(),
		InvoiceID: i.ID,
		Status:    InvoiceDraft,
		ActorID:   i.SellerID,
		ActorRole: RoleSeller,
		CreatedAt: i.CreatedAt,
	}
}

// ============================================================================
// DERIVED VALUES (computed, never stored)
// ============================================================================

// DaysUntilDue returns whole days remaining until the due date; negative when
// overdue.
func (i *Invoice) DaysUntilDue() int {
	return int(time.Until(time.Unix(i.DueDate, 0)).Hours() / 24)
}

func (i *Invoice) IsOverdue() bool {
	return time.Now().Unix() > i.DueDate &&
		i.Status != InvoiceRepaid && i.Status != InvoiceSettled
}

// MaxBiddableTenure is the hard ceiling on any offer's tenure: the shorter of
// the admin max tenure and days-until-due minus the collection buffer,
// clamped at zero.
func (i *Invoice) MaxBiddableTenure() int {
	limit := i.DaysUntilDue() - CollectionBufferDays
	if limit < 0 {
		limit = 0
	}
	if i.MaxTenureDays != nil && *i.MaxTenureDays < limit {
		limit = *i.MaxTenureDays
	}
	return limit
}

// FundingPercentage is the funded fraction of the face amount, 0-100.
func (i *Invoice) FundingPercentage() float64 {
	if i.FundingAmount == nil || i.Amount.IsZero() {
		return 0
	}
	pct, _ := i.FundingAmount.Div(i.Amount).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// RepaymentProgress is the repaid fraction of the total repayment amount,
// 0-100.
func (i *Invoice) RepaymentProgress() float64 {
	if i.TotalRepaymentAmount == nil || i.TotalRepaymentAmount.IsZero() {
		return 0
	}
	pct, _ := i.AmountRepaid.Div(*i.TotalRepaymentAmount).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// ComputeTotalRepayment computes the repayment owed on a funded invoice using
// simple daily-rate interest: amount + amount * (rate/365/100) * days.
func ComputeTotalRepayment(fundingAmount decimal.Decimal, interestRate float64, daysHeld int) decimal.Decimal {
	dailyRate := decimal.NewFromFloat(interestRate).
		Div(decimal.NewFromInt(365)).
		Div(decimal.NewFromInt(100))
	interest := fundingAmount.Mul(dailyRate).Mul(decimal.NewFromInt(int64(daysHeld)))
	return fundingAmount.Add(interest)
}
