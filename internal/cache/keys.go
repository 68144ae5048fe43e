package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// Cache TTLs. Marketplace-visible views stay in the minutes range so stale
// listings cannot outlive a funding round.
const (
	DetailTTL       = 5 * time.Minute
	ListTTL         = 2 * time.Minute
	PendingQueueTTL = 1 * time.Minute
	PortfolioTTL    = 5 * time.Minute
	TrendingWindow  = 2 * time.Hour

	StampedeLockTTL = 10 * time.Second
	AcceptLockTTL   = 30 * time.Second
)

// Every read-through key is derived deterministically from the full
// filter/pagination tuple, so equal queries share one cache entry.

func InvoiceDetailKey(invoiceID uuid.UUID) string {
	return fmt.Sprintf("invoice:%s:detail", invoiceID)
}

func SellerInvoicesKey(sellerID string, filter models.InvoiceFilter) string {
	status := "any"
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	return fmt.Sprintf("seller:%s:invoices:%s:%s:%d:%d",
		sellerID, status, orAny(filter.Currency), filter.Page, filter.PageSize)
}

func AnchorQueueKey(anchorID string, filter models.InvoiceFilter) string {
	return fmt.Sprintf("anchor:%s:queue:%d:%d", anchorID, filter.Page, filter.PageSize)
}

func AdminQueueKey(filter models.InvoiceFilter) string {
	return fmt.Sprintf("admin:queue:%d:%d", filter.Page, filter.PageSize)
}

func MarketplaceListKey(filter models.MarketplaceFilter) string {
	minAmount, maxAmount, maxRate := "any", "any", "any"
	if filter.MinAmount != nil {
		minAmount = filter.MinAmount.String()
	}
	if filter.MaxAmount != nil {
		maxAmount = filter.MaxAmount.String()
	}
	if filter.MaxInterestRate != nil {
		maxRate = fmt.Sprintf("%g", *filter.MaxInterestRate)
	}
	return fmt.Sprintf("marketplace:listings:%s:%s:%s:%s:%s:%s:%d:%d",
		orAny(filter.Currency), minAmount, maxAmount, maxRate,
		filter.SortBy, filter.SortOrder, filter.Page, filter.PageSize)
}

func CompetitiveAnalysisKey(invoiceID uuid.UUID, lenderID string) string {
	return fmt.Sprintf("invoice:%s:competition:%s", invoiceID, orAny(lenderID))
}

func LenderPortfolioKey(lenderID string) string {
	return fmt.Sprintf("lender:%s:portfolio", lenderID)
}

// Invalidation patterns, scoped to the party a mutation affects.

func SellerScopePattern(sellerID string) string {
	return fmt.Sprintf("seller:%s:*", sellerID)
}

func AnchorScopePattern(anchorID string) string {
	return fmt.Sprintf("anchor:%s:*", anchorID)
}

func LenderScopePattern(lenderID string) string {
	return fmt.Sprintf("lender:%s:*", lenderID)
}

func AdminQueuePattern() string {
	return "admin:queue:*"
}

func MarketplacePattern() string {
	return "marketplace:listings:*"
}

func InvoiceScopePattern(invoiceID uuid.UUID) string {
	return fmt.Sprintf("invoice:%s:*", invoiceID)
}

// Sorted-set keys.

func OfferRankingKey(invoiceID uuid.UUID) string {
	return fmt.Sprintf("invoice:%s:offers:ranking", invoiceID)
}

func TrendingKey() string {
	return "marketplace:trending"
}

// Pub/sub channels.

func InvoiceChannel(invoiceID uuid.UUID) string {
	return fmt.Sprintf("invoice:%s:updates", invoiceID)
}

func OfferChannel(offerID uuid.UUID) string {
	return fmt.Sprintf("offer:%s:updates", offerID)
}

func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s:notifications", userID)
}

const MarketplaceChannel = "marketplace:updates"

// Lock keys.

func StampedeLockKey(cacheKey string) string {
	return fmt.Sprintf("lock:rebuild:%s", cacheKey)
}

func InvoiceOperationLockKey(invoiceID uuid.UUID, operation string) string {
	return fmt.Sprintf("lock:invoice:%s:%s", invoiceID, operation)
}

func orAny(value string) string {
	if value == "" {
		return "any"
	}
	return value
}
