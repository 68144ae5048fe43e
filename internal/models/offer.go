package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOfferExpiry is applied when a lender does not specify an expiry.
const DefaultOfferExpiry = 48 * time.Hour

// StandardCompetitorRejectionReason is stamped on every sibling offer
// auto-rejected when a competing offer is accepted.
const StandardCompetitorRejectionReason = "Another offer was accepted"

// ============================================================================
// OFFER
// ============================================================================

type Offer struct {
	ID        uuid.UUID `json:"id" db:"id"`
	InvoiceID uuid.UUID `json:"invoice_id" db:"invoice_id"`
	LenderID  string    `json:"lender_id" db:"lender_id"`
	LenderEmail *string `json:"lender_email,omitempty" db:"lender_email"`

	FundingAmount     decimal.Decimal `json:"funding_amount" db:"funding_amount"`
	InterestRate      float64         `json:"interest_rate" db:"interest_rate"`
	FundingPercentage float64         `json:"funding_percentage" db:"funding_percentage"`
	TenureDays        int             `json:"tenure_days" db:"tenure_days"`

	TotalInterestAmount  decimal.Decimal `json:"total_interest_amount" db:"total_interest_amount"`
	TotalRepaymentAmount decimal.Decimal `json:"total_repayment_amount" db:"total_repayment_amount"`

	Status    OfferStatus `json:"status" db:"status"`
	ExpiresAt int64       `json:"expires_at" db:"expires_at"`

	AcceptedAt      *int64  `json:"accepted_at,omitempty" db:"accepted_at"`
	RejectedAt      *int64  `json:"rejected_at,omitempty" db:"rejected_at"`
	WithdrawnAt     *int64  `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	ExpiredAt       *int64  `json:"expired_at,omitempty" db:"expired_at"`
	Notes           *string `json:"notes,omitempty" db:"notes"`
	RejectionReason *string `json:"rejection_reason,omitempty" db:"rejection_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsExpired treats any offer past its expiry as inert, whether or not the
// background sweep has physically marked it EXPIRED yet.
func (o *Offer) IsExpired() bool {
	return time.Now().Unix() > o.ExpiresAt
}

func (o *Offer) TimeUntilExpiry() time.Duration {
	remaining := time.Until(time.Unix(o.ExpiresAt, 0))
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (o *Offer) CanBeAccepted() bool {
	return o.Status == OfferPending && !o.IsExpired()
}

func (o *Offer) CanBeRejected() bool {
	return o.Status == OfferPending && !o.IsExpired()
}

func (o *Offer) CanBeWithdrawn() bool {
	return o.Status == OfferPending && !o.IsExpired()
}

// EffectiveAnnualRate normalizes the offer rate to an annualized figure for
// the actual tenure.
func (o *Offer) EffectiveAnnualRate() float64 {
	if o.TenureDays == 0 {
		return 0
	}
	return o.InterestRate * 365 / float64(o.TenureDays)
}

// ComputeOfferFinancials derives an offer's funding amount and simple
// daily-rate interest from the invoice face amount and the bid terms.
func ComputeOfferFinancials(invoiceAmount decimal.Decimal, fundingPercentage, interestRate float64, tenureDays int) (fundingAmount, totalInterest, totalRepayment decimal.Decimal) {
	fundingAmount = invoiceAmount.
		Mul(decimal.NewFromFloat(fundingPercentage)).
		Div(decimal.NewFromInt(100))

	dailyRate := decimal.NewFromFloat(interestRate).
		Div(decimal.NewFromInt(365)).
		Div(decimal.NewFromInt(100))
	totalInterest = fundingAmount.Mul(dailyRate).Mul(decimal.NewFromInt(int64(tenureDays)))
	totalRepayment = fundingAmount.Add(totalInterest)
	return fundingAmount, totalInterest, totalRepayment
}

// CompareOffers orders competing offers for one invoice: ascending interest
// rate, then descending amount, then earliest submission. Returns a negative
// value when a ranks ahead of b.
func CompareOffers(a, b *Offer) int {
	if a.InterestRate != b.InterestRate {
		if a.InterestRate < b.InterestRate {
			return -1
		}
		return 1
	}
	if cmp := b.FundingAmount.Cmp(a.FundingAmount); cmp != 0 {
		return cmp
	}
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	default:
		return 0
	}
}
