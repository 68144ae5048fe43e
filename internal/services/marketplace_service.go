package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

// MarketplaceService builds the read-side projections: marketplace browse,
// per-party queues, invoice detail, competitive analysis, portfolio and
// trending. Nothing here is authoritative; every view is rebuildable from
// the repositories and served through a time-boxed cache.
type MarketplaceService struct {
	invoiceRepo repository.InvoiceRepository
	offerRepo   repository.OfferRepository
	cache       cache.Cache
}

func NewMarketplaceService(
	invoiceRepo repository.InvoiceRepository,
	offerRepo repository.OfferRepository,
	cacheClient cache.Cache,
) *MarketplaceService {
	return &MarketplaceService{
		invoiceRepo: invoiceRepo,
		offerRepo:   offerRepo,
		cache:       cacheClient,
	}
}

// BrowseMarketplace returns the paginated lender view over LISTED invoices.
func (s *MarketplaceService) BrowseMarketplace(ctx context.Context, filter models.MarketplaceFilter) (*models.PagedInvoices, error) {
	filter.Normalize()
	key := cache.MarketplaceListKey(filter)

	if page, ok := getCached[models.PagedInvoices](ctx, s.cache, key, "marketplace"); ok {
		return page, nil
	}

	invoices, total, err := s.invoiceRepo.GetListed(ctx, filter)
	if err != nil {
		return nil, err
	}
	page := &models.PagedInvoices{
		Invoices: invoices,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}

	s.setCached(ctx, key, page, cache.ListTTL)
	return page, nil
}

// GetSellerInvoices returns the seller's own invoices across all statuses.
func (s *MarketplaceService) GetSellerInvoices(ctx context.Context, sellerID string, filter models.InvoiceFilter) (*models.PagedInvoices, error) {
	filter.SellerID = sellerID
	filter.AnchorID = ""
	filter.Normalize()
	key := cache.SellerInvoicesKey(sellerID, filter)

	if page, ok := getCached[models.PagedInvoices](ctx, s.cache, key, "seller_invoices"); ok {
		return page, nil
	}

	page, err := s.pagedQuery(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, page, cache.ListTTL)
	return page, nil
}

// GetAnchorQueue returns SUBMITTED invoices awaiting this anchor's approval.
func (s *MarketplaceService) GetAnchorQueue(ctx context.Context, anchorID string, filter models.InvoiceFilter) (*models.PagedInvoices, error) {
	status := models.InvoiceSubmitted
	filter.AnchorID = anchorID
	filter.SellerID = ""
	filter.Status = &status
	filter.Normalize()
	key := cache.AnchorQueueKey(anchorID, filter)

	if page, ok := getCached[models.PagedInvoices](ctx, s.cache, key, "anchor_queue"); ok {
		return page, nil
	}

	page, err := s.pagedQuery(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, page, cache.PendingQueueTTL)
	return page, nil
}

// GetAdminQueue returns ANCHOR_APPROVED invoices awaiting admin verification.
func (s *MarketplaceService) GetAdminQueue(ctx context.Context, filter models.InvoiceFilter) (*models.PagedInvoices, error) {
	status := models.InvoiceAnchorApproved
	filter.SellerID = ""
	filter.AnchorID = ""
	filter.Status = &status
	filter.Normalize()
	key := cache.AdminQueueKey(filter)

	if page, ok := getCached[models.PagedInvoices](ctx, s.cache, key, "admin_queue"); ok {
		return page, nil
	}

	page, err := s.pagedQuery(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, page, cache.PendingQueueTTL)
	return page, nil
}

// GetInvoiceDetail returns the full projection for one invoice. A miss takes
// a short stampede lock so only one caller rebuilds; the rest briefly poll
// the cache and fall back to a direct read if the filler is slow.
func (s *MarketplaceService) GetInvoiceDetail(ctx context.Context, invoiceID uuid.UUID) (*models.InvoiceDetail, error) {
	key := cache.InvoiceDetailKey(invoiceID)

	if detail, ok := getCached[models.InvoiceDetail](ctx, s.cache, key, "invoice_detail"); ok {
		return detail, nil
	}

	token := uuid.NewString()
	locked, err := s.cache.AcquireLock(ctx, cache.StampedeLockKey(key), token, cache.StampedeLockTTL)
	if err != nil {
		slog.Warn("Stampede lock unavailable", "key", key, "error", err)
		return s.buildInvoiceDetail(ctx, invoiceID)
	}

	if !locked {
		for i := 0; i < 3; i++ {
			time.Sleep(100 * time.Millisecond)
			if detail, ok := getCached[models.InvoiceDetail](ctx, s.cache, key, "invoice_detail"); ok {
				return detail, nil
			}
		}
		return s.buildInvoiceDetail(ctx, invoiceID)
	}
	defer func() {
		if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), cache.StampedeLockKey(key), token); err != nil {
			slog.Warn("Failed to release stampede lock", "key", key, "error", err)
		}
	}()

	detail, err := s.buildInvoiceDetail(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, detail, cache.DetailTTL)
	return detail, nil
}

// RecordView bumps the invoice's score in the decaying trending counter.
func (s *MarketplaceService) RecordView(ctx context.Context, invoiceID uuid.UUID) {
	err := s.cache.IncrementScore(ctx, cache.TrendingKey(), invoiceID.String(), 1, cache.TrendingWindow)
	if err != nil {
		slog.Warn("Failed to record invoice view", "invoice_id", invoiceID, "error", err)
	}
}

// GetTrending returns the most viewed invoices in the trending window,
// hydrated from the authoritative store. Entries whose invoice has since
// left LISTED are filtered out rather than served stale.
func (s *MarketplaceService) GetTrending(ctx context.Context, limit int) ([]models.TrendingInvoice, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	members, err := s.cache.TopN(ctx, cache.TrendingKey(), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read trending ranking: %w", err)
	}
	if len(members) == 0 {
		return []models.TrendingInvoice{}, nil
	}

	ids := make([]uuid.UUID, 0, len(members))
	views := make(map[uuid.UUID]int64, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m.Member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		views[id] = int64(m.Score)
	}

	invoices, err := s.invoiceRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Invoice, len(invoices))
	for i := range invoices {
		byID[invoices[i].ID] = &invoices[i]
	}

	trending := make([]models.TrendingInvoice, 0, len(ids))
	for _, id := range ids {
		inv, ok := byID[id]
		if !ok || inv.Status != models.InvoiceListed {
			continue
		}
		trending = append(trending, models.TrendingInvoice{
			InvoiceID: id,
			Views:     views[id],
			Invoice:   inv,
		})
	}
	return trending, nil
}

// GetCompetitiveAnalysis summarizes the live bidding landscape on an invoice.
// When lenderID holds a pending offer, its rank, outbid count and percentile
// are included.
func (s *MarketplaceService) GetCompetitiveAnalysis(ctx context.Context, invoiceID uuid.UUID, lenderID string) (*models.CompetitiveAnalysis, error) {
	key := cache.CompetitiveAnalysisKey(invoiceID, lenderID)
	if analysis, ok := getCached[models.CompetitiveAnalysis](ctx, s.cache, key, "competitive_analysis"); ok {
		return analysis, nil
	}

	if _, err := s.invoiceRepo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}

	offers, err := s.offerRepo.GetPendingByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	sort.Slice(offers, func(i, j int) bool {
		return models.CompareOffers(&offers[i], &offers[j]) < 0
	})

	analysis := &models.CompetitiveAnalysis{
		InvoiceID:   invoiceID,
		TotalOffers: len(offers),
		Offers:      offers,
	}
	if len(offers) > 0 {
		analysis.BestOffer = &offers[0]
	}

	// Rate spread from the live ranking, lowest score first.
	if ranked, err := s.cache.RankingRange(ctx, cache.OfferRankingKey(invoiceID)); err == nil && len(ranked) > 0 {
		var sum float64
		for _, m := range ranked {
			sum += m.Score
		}
		analysis.RateSummary = &models.RateSummary{
			LowestRate:  ranked[0].Score,
			HighestRate: ranked[len(ranked)-1].Score,
			AverageRate: sum / float64(len(ranked)),
		}
	}

	if lenderID != "" {
		for i := range offers {
			if offers[i].LenderID != lenderID {
				continue
			}
			rank := i + 1
			outbidBy := i
			analysis.LenderRank = &rank
			analysis.OutbidBy = &outbidBy

			// Percentile from the rate ranking: share of offers priced
			// strictly above this one.
			if below, err := s.cache.CountBelow(ctx, cache.OfferRankingKey(invoiceID), offers[i].InterestRate); err == nil && len(offers) > 1 {
				pct := float64(len(offers)-1-int(below)) / float64(len(offers)-1) * 100
				analysis.PercentileRank = &pct
			}
			break
		}
	}

	s.setCached(ctx, key, analysis, cache.ListTTL)
	return analysis, nil
}

// GetLenderPortfolio aggregates the lender's offers into a portfolio view:
// deployed capital and the funding-weighted average rate over accepted
// offers.
func (s *MarketplaceService) GetLenderPortfolio(ctx context.Context, lenderID string) (*models.PortfolioSummary, error) {
	key := cache.LenderPortfolioKey(lenderID)
	if summary, ok := getCached[models.PortfolioSummary](ctx, s.cache, key, "portfolio"); ok {
		return summary, nil
	}

	offers, err := s.offerRepo.GetByLenderID(ctx, lenderID)
	if err != nil {
		return nil, err
	}

	summary := &models.PortfolioSummary{
		LenderID:      lenderID,
		Offers:        offers,
		TotalDeployed: decimal.Zero,
	}
	weightedRate := decimal.Zero
	for i := range offers {
		switch {
		case offers[i].Status == models.OfferPending && !offers[i].IsExpired():
			summary.PendingOffers++
		case offers[i].Status == models.OfferAccepted:
			summary.AcceptedOffers++
			summary.TotalDeployed = summary.TotalDeployed.Add(offers[i].FundingAmount)
			weightedRate = weightedRate.Add(offers[i].FundingAmount.Mul(decimal.NewFromFloat(offers[i].InterestRate)))
		}
	}
	if summary.TotalDeployed.IsPositive() {
		summary.WeightedAvgRate, _ = weightedRate.Div(summary.TotalDeployed).Float64()
	}

	s.setCached(ctx, key, summary, cache.PortfolioTTL)
	return summary, nil
}

// ============================================================================
// INTERNAL
// ============================================================================

func (s *MarketplaceService) pagedQuery(ctx context.Context, filter models.InvoiceFilter) (*models.PagedInvoices, error) {
	invoices, total, err := s.invoiceRepo.GetWithFilters(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.PagedInvoices{
		Invoices: invoices,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (s *MarketplaceService) buildInvoiceDetail(ctx context.Context, invoiceID uuid.UUID) (*models.InvoiceDetail, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	docs, err := s.invoiceRepo.GetDocuments(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	history, err := s.invoiceRepo.GetHistory(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return models.NewInvoiceDetail(*invoice, docs, history), nil
}

// getCached reads and decodes one cached view; a miss or a decode problem
// reports a miss and the caller rebuilds.
func getCached[T any](ctx context.Context, c cache.Cache, key, view string) (*T, bool) {
	data, err := c.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("Cache read failed", "key", key, "error", err)
		}
		metrics.IncCacheLookup(view, false)
		return nil, false
	}

	var value T
	if err := utils.DeserializeModel(data, &value); err != nil {
		slog.Warn("Cache decode failed", "key", key, "error", err)
		metrics.IncCacheLookup(view, false)
		return nil, false
	}
	metrics.IncCacheLookup(view, true)
	return &value, true
}

func (s *MarketplaceService) setCached(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := utils.SerializeModel(value)
	if err != nil {
		slog.Warn("Cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}
