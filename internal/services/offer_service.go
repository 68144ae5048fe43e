package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

// OfferService owns lender bids: creation against listed invoices under the
// invoice's funding terms, withdrawal, single-offer rejection and the per
// invoice rate ranking that backs competitive queries.
type OfferService struct {
	offerRepo   repository.OfferRepository
	invoiceRepo repository.InvoiceRepository
	outboxRepo  repository.OutboxRepository
	cache       cache.Cache
}

func NewOfferService(
	offerRepo repository.OfferRepository,
	invoiceRepo repository.InvoiceRepository,
	outboxRepo repository.OutboxRepository,
	cacheClient cache.Cache,
) *OfferService {
	return &OfferService{
		offerRepo:   offerRepo,
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		cache:       cacheClient,
	}
}

// CreateOffer validates the bid against the invoice's admin-set funding terms
// and persists it. Validation order is fixed so callers always see the first
// violated constraint; any violation leaves no trace of the attempt.
func (s *OfferService) CreateOffer(ctx context.Context, lenderID string, req models.CreateOfferRequest) (*models.Offer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.Status != models.InvoiceListed {
		return nil, models.NewDomainErrorf(models.ErrInvoiceNotAvailable,
			"invoice is not open for bidding, current status is %s", invoice.Status).
			WithDetail("status", invoice.Status)
	}

	if !invoice.HasFundingTerms() {
		return nil, models.NewDomainError(models.ErrFundingTermsNotSet,
			"invoice has no funding terms, bidding is not open yet")
	}

	// Rate is fixed by the admin, not negotiated.
	if req.InterestRate != *invoice.RecommendedInterestRate {
		return nil, models.NewDomainError(models.ErrInterestRateMismatch,
			"interest rate must match the invoice's recommended rate").
			WithDetail("recommended_interest_rate", *invoice.RecommendedInterestRate).
			WithDetail("requested_interest_rate", req.InterestRate)
	}

	maxTenure := invoice.MaxBiddableTenure()
	if req.TenureDays > maxTenure {
		return nil, models.NewDomainError(models.ErrTenureExceedsLimit,
			"tenure exceeds the maximum biddable tenure for this invoice").
			WithDetail("max_tenure_days", maxTenure).
			WithDetail("requested_tenure_days", req.TenureDays)
	}

	fundingAmount, totalInterest, totalRepayment := models.ComputeOfferFinancials(
		invoice.Amount, req.FundingPercentage, req.InterestRate, req.TenureDays)
	if fundingAmount.GreaterThan(*invoice.MaxFundingAmount) {
		return nil, models.NewDomainError(models.ErrFundingAmountExceedsLimit,
			"requested funding amount exceeds the invoice's funding cap").
			WithDetail("max_funding_amount", *invoice.MaxFundingAmount).
			WithDetail("requested_funding_amount", fundingAmount)
	}

	// Checked against the database, not any cached view: a stale read here
	// would let a lender hold two live bids.
	hasActive, err := s.offerRepo.HasActiveOffer(ctx, invoice.ID, lenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing offers: %w", err)
	}
	if hasActive {
		return nil, models.NewDomainError(models.ErrDuplicateActiveOffer,
			"lender already holds an active offer on this invoice")
	}

	expiresAt := time.Now().Add(models.DefaultOfferExpiry).Unix()
	if req.ExpiresAt != nil {
		if *req.ExpiresAt <= time.Now().Unix() {
			return nil, models.NewDomainError(models.ErrValidation, "expires_at must be in the future")
		}
		expiresAt = *req.ExpiresAt
	}

	offer := &models.Offer{
		ID:                   uuid.New(),
		InvoiceID:            invoice.ID,
		LenderID:             lenderID,
		LenderEmail:          req.LenderEmail,
		FundingAmount:        fundingAmount,
		InterestRate:         req.InterestRate,
		FundingPercentage:    req.FundingPercentage,
		TenureDays:           req.TenureDays,
		TotalInterestAmount:  totalInterest,
		TotalRepaymentAmount: totalRepayment,
		Status:               models.OfferPending,
		ExpiresAt:            expiresAt,
		Notes:                req.Notes,
	}

	if err := s.offerRepo.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	metrics.IncOfferCreated()

	s.addToRanking(ctx, offer)
	s.notifyOfferEvent(ctx, offer, models.NotificationNewOffer, invoice.SellerID, invoice.SellerEmail,
		"New offer received",
		fmt.Sprintf("A lender placed an offer of %s at %.2f%% on invoice %s.",
			offer.FundingAmount, offer.InterestRate, invoice.InvoiceNumber))
	s.invalidateOfferViews(ctx, offer, invoice.SellerID)

	slog.Info("Offer created",
		"offer_id", offer.ID,
		"invoice_id", invoice.ID,
		"lender_id", lenderID,
		"funding_amount", offer.FundingAmount,
	)
	return offer, nil
}

// WithdrawOffer lets the owning lender pull a pending, unexpired offer.
func (s *OfferService) WithdrawOffer(ctx context.Context, lenderID string, offerID uuid.UUID) (*models.Offer, error) {
	offer, err := s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.LenderID != lenderID {
		return nil, models.NewNotAuthorized("offer does not belong to this lender")
	}
	if !offer.CanBeWithdrawn() {
		return nil, models.NewDomainErrorf(models.ErrOfferNotActionable,
			"offer in status %s cannot be withdrawn", offer.Status)
	}

	// The conditional update arbitrates against a concurrent accept.
	ok, err := s.offerRepo.Withdraw(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to withdraw offer: %w", err)
	}
	if !ok {
		return nil, models.NewDomainError(models.ErrOfferNotActionable,
			"offer was already resolved")
	}
	metrics.IncOfferResolved("withdrawn")

	offer, err = s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	invoice, invErr := s.invoiceRepo.GetByID(ctx, offer.InvoiceID)
	sellerID := ""
	if invErr == nil {
		sellerID = invoice.SellerID
		s.notifyOfferEvent(ctx, offer, models.NotificationOfferWithdrawn, invoice.SellerID, invoice.SellerEmail,
			"Offer withdrawn",
			fmt.Sprintf("A lender withdrew their offer on invoice %s.", invoice.InvoiceNumber))
	}

	s.removeFromRanking(ctx, offer)
	s.invalidateOfferViews(ctx, offer, sellerID)

	slog.Info("Offer withdrawn", "offer_id", offerID, "lender_id", lenderID)
	return offer, nil
}

// RejectOffer lets the invoice's seller decline a single pending offer
// without touching its siblings.
func (s *OfferService) RejectOffer(ctx context.Context, sellerID string, offerID uuid.UUID, req models.OfferActionRequest) (*models.Offer, error) {
	offer, err := s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.invoiceRepo.GetByID(ctx, offer.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.SellerID != sellerID {
		return nil, models.NewNotAuthorized("invoice does not belong to this seller")
	}
	if !offer.CanBeRejected() {
		return nil, models.NewDomainErrorf(models.ErrOfferNotActionable,
			"offer in status %s cannot be rejected", offer.Status)
	}

	ok, err := s.offerRepo.Reject(ctx, offerID, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reject offer: %w", err)
	}
	if !ok {
		return nil, models.NewDomainError(models.ErrOfferNotActionable,
			"offer was already resolved")
	}
	metrics.IncOfferResolved("rejected")

	offer, err = s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.notifyOfferEvent(ctx, offer, models.NotificationOfferRejected, offer.LenderID, offer.LenderEmail,
		"Offer declined",
		fmt.Sprintf("The seller declined your offer on invoice %s.", invoice.InvoiceNumber))
	s.removeFromRanking(ctx, offer)
	s.invalidateOfferViews(ctx, offer, sellerID)

	slog.Info("Offer rejected", "offer_id", offerID, "seller_id", sellerID)
	return offer, nil
}

// GetOffersForInvoice returns all offers on one of the seller's invoices.
func (s *OfferService) GetOffersForInvoice(ctx context.Context, sellerID string, invoiceID uuid.UUID) ([]models.Offer, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.SellerID != sellerID {
		return nil, models.NewNotAuthorized("invoice does not belong to this seller")
	}
	return s.offerRepo.GetByInvoiceID(ctx, invoiceID)
}

// GetOffer returns one offer to its lender or the invoice's seller.
func (s *OfferService) GetOffer(ctx context.Context, userID string, offerID uuid.UUID) (*models.Offer, error) {
	offer, err := s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.LenderID == userID {
		return offer, nil
	}
	invoice, err := s.invoiceRepo.GetByID(ctx, offer.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.SellerID != userID {
		return nil, models.NewNotAuthorized("offer is not visible to this user")
	}
	return offer, nil
}

// ============================================================================
// INTERNAL
// ============================================================================

func (s *OfferService) addToRanking(ctx context.Context, offer *models.Offer) {
	key := cache.OfferRankingKey(offer.InvoiceID)
	if err := s.cache.AddToRanking(ctx, key, offer.ID.String(), offer.InterestRate); err != nil {
		slog.Warn("Failed to add offer to ranking", "offer_id", offer.ID, "error", err)
	}
}

func (s *OfferService) removeFromRanking(ctx context.Context, offer *models.Offer) {
	key := cache.OfferRankingKey(offer.InvoiceID)
	if err := s.cache.RemoveFromRanking(ctx, key, offer.ID.String()); err != nil {
		slog.Warn("Failed to remove offer from ranking", "offer_id", offer.ID, "error", err)
	}
}

func (s *OfferService) notifyOfferEvent(ctx context.Context, offer *models.Offer, notifType models.NotificationType, recipientID string, recipientEmail *string, subject, message string) {
	item, err := models.NewOutboxItem(notifType, recipientID, recipientEmail, subject, message, offer)
	if err != nil {
		slog.Warn("Failed to build offer notification", "offer_id", offer.ID, "error", err)
		return
	}
	if err := s.outboxRepo.Enqueue(ctx, item); err != nil {
		slog.Warn("Failed to enqueue offer notification", "offer_id", offer.ID, "error", err)
	}
}

// invalidateOfferViews drops cached views the offer feeds and broadcasts the
// change on the offer and invoice channels.
func (s *OfferService) invalidateOfferViews(ctx context.Context, offer *models.Offer, sellerID string) {
	patterns := []string{
		cache.InvoiceScopePattern(offer.InvoiceID),
		cache.LenderScopePattern(offer.LenderID),
		cache.MarketplacePattern(),
	}
	if sellerID != "" {
		patterns = append(patterns, cache.SellerScopePattern(sellerID))
	}
	for _, pattern := range patterns {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			slog.Warn("Cache invalidation failed", "pattern", pattern, "error", err)
		}
	}

	payload, err := utils.SerializeModel(offer)
	if err != nil {
		slog.Warn("Failed to serialize offer event", "offer_id", offer.ID, "error", err)
		return
	}
	if err := s.cache.Publish(ctx, cache.OfferChannel(offer.ID), payload); err != nil {
		slog.Warn("Failed to publish offer event", "offer_id", offer.ID, "error", err)
	}
	if err := s.cache.Publish(ctx, cache.InvoiceChannel(offer.InvoiceID), payload); err != nil {
		slog.Warn("Failed to publish invoice event", "invoice_id", offer.InvoiceID, "error", err)
	}
}
