package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateInvoiceRequest struct {
	InvoiceNumber string          `json:"invoice_number"`
	AnchorID      string          `json:"anchor_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IssueDate     int64           `json:"issue_date"`
	DueDate       int64           `json:"due_date"`
	Description   *string         `json:"description,omitempty"`
	SellerEmail   *string         `json:"seller_email,omitempty"`
}

func (r *CreateInvoiceRequest) Validate() error {
	if r.InvoiceNumber == "" {
		return NewDomainError(ErrValidation, "invoice_number is required")
	}
	if r.AnchorID == "" {
		return NewDomainError(ErrValidation, "anchor_id is required")
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return NewDomainError(ErrValidation, "amount must be positive")
	}
	if r.Currency == "" {
		return NewDomainError(ErrValidation, "currency is required")
	}
	if r.DueDate <= r.IssueDate {
		return NewDomainError(ErrValidation, "due_date must be after issue_date")
	}
	return nil
}

type UpdateInvoiceRequest struct {
	InvoiceNumber *string          `json:"invoice_number,omitempty"`
	AnchorID      *string          `json:"anchor_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      *string          `json:"currency,omitempty"`
	IssueDate     *int64           `json:"issue_date,omitempty"`
	DueDate       *int64           `json:"due_date,omitempty"`
	Description   *string          `json:"description,omitempty"`
}

// FundingTermsRequest carries the admin-controlled caps that bound all
// subsequent lender bids.
type FundingTermsRequest struct {
	MaxFundingAmount        decimal.Decimal `json:"max_funding_amount"`
	RecommendedInterestRate float64         `json:"recommended_interest_rate"`
	MaxTenureDays           int             `json:"max_tenure_days"`
}

func (r *FundingTermsRequest) Validate(invoiceAmount decimal.Decimal) error {
	if r.MaxFundingAmount.LessThanOrEqual(decimal.Zero) {
		return NewDomainError(ErrValidation, "max_funding_amount must be positive")
	}
	if r.MaxFundingAmount.GreaterThan(invoiceAmount) {
		return NewDomainError(ErrValidation, "max_funding_amount cannot exceed invoice amount").
			WithDetail("invoice_amount", invoiceAmount)
	}
	if r.RecommendedInterestRate <= 0 {
		return NewDomainError(ErrValidation, "recommended_interest_rate must be positive")
	}
	if r.MaxTenureDays <= 0 {
		return NewDomainError(ErrValidation, "max_tenure_days must be positive")
	}
	return nil
}

// ReviewRequest is shared by the anchor approve/reject and admin
// verify/reject endpoints. The action discriminator is mandatory.
type ReviewRequest struct {
	Action       ReviewAction         `json:"action"`
	Notes        *string              `json:"notes,omitempty"`
	FundingTerms *FundingTermsRequest `json:"funding_terms,omitempty"`
}

func (r *ReviewRequest) Validate(allowed ...ReviewAction) error {
	for _, action := range allowed {
		if r.Action == action {
			return nil
		}
	}
	return NewDomainErrorf(ErrValidation, "action must be one of %v", allowed)
}

type CreateOfferRequest struct {
	InvoiceID         uuid.UUID `json:"invoice_id"`
	InterestRate      float64   `json:"interest_rate"`
	FundingPercentage float64   `json:"funding_percentage"`
	TenureDays        int       `json:"tenure_days"`
	ExpiresAt         *int64    `json:"expires_at,omitempty"`
	Notes             *string   `json:"notes,omitempty"`
	LenderEmail       *string   `json:"lender_email,omitempty"`
}

func (r *CreateOfferRequest) Validate() error {
	if r.InvoiceID == uuid.Nil {
		return NewDomainError(ErrValidation, "invoice_id is required")
	}
	if r.InterestRate <= 0 {
		return NewDomainError(ErrValidation, "interest_rate must be positive")
	}
	if r.FundingPercentage < 1 || r.FundingPercentage > 100 {
		return NewDomainError(ErrValidation, "funding_percentage must be between 1 and 100")
	}
	if r.TenureDays <= 0 {
		return NewDomainError(ErrValidation, "tenure_days must be positive")
	}
	return nil
}

type OfferActionRequest struct {
	Notes  *string `json:"notes,omitempty"`
	Reason *string `json:"reason,omitempty"`
}

type RepaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// InvoiceFilter narrows invoice list queries; zero values are ignored.
type InvoiceFilter struct {
	SellerID string         `json:"seller_id,omitempty"`
	AnchorID string         `json:"anchor_id,omitempty"`
	Status   *InvoiceStatus `json:"status,omitempty"`
	Currency string         `json:"currency,omitempty"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// MarketplaceFilter narrows the lender browse view over LISTED invoices.
type MarketplaceFilter struct {
	Currency        string           `json:"currency,omitempty"`
	MinAmount       *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	MaxInterestRate *float64         `json:"max_interest_rate,omitempty"`
	SortBy          string           `json:"sort_by,omitempty"`
	SortOrder       string           `json:"sort_order,omitempty"`
	Page            int              `json:"page"`
	PageSize        int              `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps pagination to sane bounds so cache keys stay bounded.
func (f *InvoiceFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}

func (f *MarketplaceFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.SortBy == "" {
		f.SortBy = "listed_at"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}
