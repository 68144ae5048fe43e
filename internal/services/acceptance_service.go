package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

// AcceptanceService coordinates the one operation that touches both engines
// at once: a seller accepting an offer. The offer flips to accepted, the
// invoice to funded, every sibling pending offer is rejected and all lender
// notifications are enqueued, in a single database transaction under an
// invoice-scoped lock. Cache and pub/sub work happens after commit and never
// rolls the financial state back.
type AcceptanceService struct {
	offerRepo   repository.OfferRepository
	invoiceRepo repository.InvoiceRepository
	outboxRepo  repository.OutboxRepository
	cache       cache.Cache
}

func NewAcceptanceService(
	offerRepo repository.OfferRepository,
	invoiceRepo repository.InvoiceRepository,
	outboxRepo repository.OutboxRepository,
	cacheClient cache.Cache,
) *AcceptanceService {
	return &AcceptanceService{
		offerRepo:   offerRepo,
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		cache:       cacheClient,
	}
}

// AcceptOffer accepts one offer on behalf of the invoice's seller. Retrying
// a failed accept is safe: a repeat on an already funded invoice fails the
// pending-offer guard before any mutation.
func (s *AcceptanceService) AcceptOffer(ctx context.Context, sellerID string, offerID uuid.UUID, req models.OfferActionRequest) (*models.AcceptOfferResult, error) {
	started := time.Now()

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
	if !offer.CanBeAccepted() {
		return nil, models.NewDomainErrorf(models.ErrOfferNotActionable,
			"offer in status %s cannot be accepted", offer.Status)
	}
	if !invoice.CanBeFunded() {
		return nil, models.NewDomainErrorf(models.ErrInvoiceNotAvailable,
			"invoice in status %s cannot be funded", invoice.Status)
	}

	lockKey := cache.InvoiceOperationLockKey(invoice.ID, "accept")
	token := uuid.NewString()
	locked, err := s.cache.AcquireLock(ctx, lockKey, token, cache.AcceptLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire acceptance lock: %w", err)
	}
	if !locked {
		return nil, models.NewDomainError(models.ErrInvoiceNotAvailable,
			"another acceptance is already in progress for this invoice")
	}
	defer func() {
		if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			slog.Warn("Failed to release acceptance lock", "key", lockKey, "error", err)
		}
	}()

	result, err := s.acceptInTransaction(ctx, sellerID, offer, req.Notes)
	if err != nil {
		metrics.ObserveAcceptance(metrics.ResultError, time.Since(started))
		return nil, err
	}
	metrics.ObserveAcceptance(metrics.ResultSuccess, time.Since(started))
	metrics.IncOfferResolved("accepted")
	metrics.IncInvoiceTransition(string(models.InvoiceFunded))

	s.afterCommit(ctx, result)

	slog.Info("Offer accepted",
		"offer_id", result.Offer.ID,
		"invoice_id", result.Invoice.ID,
		"seller_id", sellerID,
		"rejected_siblings", len(result.RejectedOffers),
	)
	return result, nil
}

// acceptInTransaction performs the offer flip, the invoice funding transition,
// the sibling cascade and the notification enqueue atomically. Any failure
// rolls the whole thing back; no partial state is ever visible.
func (s *AcceptanceService) acceptInTransaction(ctx context.Context, sellerID string, offer *models.Offer, notes *string) (*models.AcceptOfferResult, error) {
	tx, err := s.offerRepo.BeginTransaction()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The conditional update is the race arbiter against concurrent
	// accepts, withdrawals and the expiry sweep.
	accepted, err := s.offerRepo.AcceptTx(tx, offer.ID, notes)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, models.NewDomainError(models.ErrOfferNotActionable,
			"offer was already resolved")
	}

	invoice, err := s.invoiceRepo.GetByIDTx(tx, offer.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.CanBeFunded() {
		return nil, models.NewDomainErrorf(models.ErrInvoiceNotAvailable,
			"invoice in status %s cannot be funded", invoice.Status)
	}

	actor := models.Actor{ID: sellerID, Role: models.RoleSeller}
	entry, err := invoice.ApplyTransition(models.InvoiceFunded, actor, notes)
	if err != nil {
		return nil, err
	}
	invoice.FundedBy = &offer.LenderID
	invoice.FundingAmount = &offer.FundingAmount
	invoice.InterestRate = &offer.InterestRate
	invoice.TenureDays = &offer.TenureDays
	totalRepayment := models.ComputeTotalRepayment(offer.FundingAmount, offer.InterestRate, offer.TenureDays)
	invoice.TotalRepaymentAmount = &totalRepayment

	if err := s.invoiceRepo.UpdateTx(tx, invoice); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.AppendHistoryTx(tx, entry); err != nil {
		return nil, err
	}

	rejected, err := s.offerRepo.RejectSiblingsTx(tx, invoice.ID, offer.ID,
		models.StandardCompetitorRejectionReason)
	if err != nil {
		return nil, err
	}

	if err := s.enqueueAcceptanceNotifications(tx, invoice, offer, rejected); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	acceptedOffer := *offer
	now := time.Now().Unix()
	acceptedOffer.Status = models.OfferAccepted
	acceptedOffer.AcceptedAt = &now
	if notes != nil {
		acceptedOffer.Notes = notes
	}

	rejectedIDs := make([]uuid.UUID, 0, len(rejected))
	for _, r := range rejected {
		rejectedIDs = append(rejectedIDs, r.ID)
	}

	return &models.AcceptOfferResult{
		Offer:            acceptedOffer,
		Invoice:          *invoice,
		RejectedOffers:   rejectedIDs,
		RejectedSiblings: rejected,
	}, nil
}

// enqueueAcceptanceNotifications records every lender notification in the
// same transaction, so a committed acceptance can never lose its fanout.
func (s *AcceptanceService) enqueueAcceptanceNotifications(tx *sqlx.Tx, invoice *models.Invoice, accepted *models.Offer, rejected []models.Offer) error {
	win, err := models.NewOutboxItem(
		models.NotificationOfferAccepted,
		accepted.LenderID,
		accepted.LenderEmail,
		"Offer accepted",
		fmt.Sprintf("Your offer of %s on invoice %s was accepted.", accepted.FundingAmount, invoice.InvoiceNumber),
		accepted,
	)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.EnqueueTx(tx, win); err != nil {
		return err
	}

	for i := range rejected {
		loss, err := models.NewOutboxItem(
			models.NotificationOfferRejected,
			rejected[i].LenderID,
			rejected[i].LenderEmail,
			"Offer rejected",
			fmt.Sprintf("Your offer on invoice %s was rejected: %s.", invoice.InvoiceNumber, models.StandardCompetitorRejectionReason),
			&rejected[i],
		)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.EnqueueTx(tx, loss); err != nil {
			return err
		}
	}
	return nil
}

// afterCommit refreshes caches, rankings and pub/sub channels. Everything
// here is logged on failure and never reverts the committed state.
func (s *AcceptanceService) afterCommit(ctx context.Context, result *models.AcceptOfferResult) {
	ctx = context.WithoutCancel(ctx)
	invoice := &result.Invoice

	if err := s.cache.Delete(ctx, cache.OfferRankingKey(invoice.ID)); err != nil {
		slog.Warn("Failed to drop offer ranking", "invoice_id", invoice.ID, "error", err)
	}

	patterns := []string{
		cache.InvoiceScopePattern(invoice.ID),
		cache.SellerScopePattern(invoice.SellerID),
		cache.LenderScopePattern(result.Offer.LenderID),
		cache.MarketplacePattern(),
	}
	// Losing lenders hold cached portfolios and pending counts too.
	seen := map[string]bool{result.Offer.LenderID: true}
	for i := range result.RejectedSiblings {
		if seen[result.RejectedSiblings[i].LenderID] {
			continue
		}
		seen[result.RejectedSiblings[i].LenderID] = true
		patterns = append(patterns, cache.LenderScopePattern(result.RejectedSiblings[i].LenderID))
	}
	for _, pattern := range patterns {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			slog.Warn("Cache invalidation failed", "pattern", pattern, "error", err)
		}
	}

	payload, err := utils.SerializeModel(result)
	if err != nil {
		slog.Warn("Failed to serialize acceptance event", "invoice_id", invoice.ID, "error", err)
		return
	}
	channels := []string{
		cache.InvoiceChannel(invoice.ID),
		cache.OfferChannel(result.Offer.ID),
		cache.UserChannel(result.Offer.LenderID),
		cache.MarketplaceChannel,
	}
	for _, channel := range channels {
		if err := s.cache.Publish(ctx, channel, payload); err != nil {
			slog.Warn("Failed to publish acceptance event", "channel", channel, "error", err)
		}
	}
}
