package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PagedInvoices struct {
	Invoices []Invoice `json:"invoices"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// InvoiceDetail is the read-model projection for a single invoice, including
// derived values that are computed on read and never persisted.
type InvoiceDetail struct {
	Invoice           Invoice              `json:"invoice"`
	Documents         []InvoiceDocument    `json:"documents"`
	History           []StatusHistoryEntry `json:"history"`
	DaysUntilDue      int                  `json:"days_until_due"`
	IsOverdue         bool                 `json:"is_overdue"`
	FundingPercentage float64              `json:"funding_percentage"`
	RepaymentProgress float64              `json:"repayment_progress"`
}

func NewInvoiceDetail(inv Invoice, docs []InvoiceDocument, history []StatusHistoryEntry) *InvoiceDetail {
	return &InvoiceDetail{
		Invoice:           inv,
		Documents:         docs,
		History:           history,
		DaysUntilDue:      inv.DaysUntilDue(),
		IsOverdue:         inv.IsOverdue(),
		FundingPercentage: inv.FundingPercentage(),
		RepaymentProgress: inv.RepaymentProgress(),
	}
}

// CompetitiveAnalysis summarizes the bidding landscape on one invoice, with
// optional rank data for the requesting lender.
type CompetitiveAnalysis struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	TotalOffers    int       `json:"total_offers"`
	BestOffer      *Offer    `json:"best_offer,omitempty"`
	Offers         []Offer   `json:"offers"`
	LenderRank     *int      `json:"lender_rank,omitempty"`
	OutbidBy       *int      `json:"outbid_by,omitempty"`
	PercentileRank *float64  `json:"percentile_rank,omitempty"`

	RateSummary *RateSummary `json:"rate_summary,omitempty"`
}

// RateSummary aggregates the advertised interest rates in the live ranking.
type RateSummary struct {
	LowestRate  float64 `json:"lowest_rate"`
	HighestRate float64 `json:"highest_rate"`
	AverageRate float64 `json:"average_rate"`
}

type PortfolioSummary struct {
	LenderID        string          `json:"lender_id"`
	Offers          []Offer         `json:"offers"`
	PendingOffers   int             `json:"pending_offers"`
	AcceptedOffers  int             `json:"accepted_offers"`
	TotalDeployed   decimal.Decimal `json:"total_deployed"`
	WeightedAvgRate float64         `json:"weighted_avg_rate"`
}

type TrendingInvoice struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Views     int64     `json:"views"`
	Invoice   *Invoice  `json:"invoice,omitempty"`
}

type AcceptOfferResult struct {
	Offer          Offer       `json:"offer"`
	Invoice        Invoice     `json:"invoice"`
	RejectedOffers []uuid.UUID `json:"rejected_offers"`

	// RejectedSiblings carries the full rejected rows for post-commit
	// cache invalidation; the API response only exposes their IDs.
	RejectedSiblings []Offer `json:"-"`
}
