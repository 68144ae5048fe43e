package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

// InvoiceService owns the invoice lifecycle: creation, edits, submission, the
// two-stage review pipeline and post-funding repayment tracking. Every status
// mutation goes through the transition table and appends to the audit trail.
type InvoiceService struct {
	invoiceRepo repository.InvoiceRepository
	outboxRepo  repository.OutboxRepository
	cache       cache.Cache
}

func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	outboxRepo repository.OutboxRepository,
	cacheClient cache.Cache,
) *InvoiceService {
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		cache:       cacheClient,
	}
}

// CreateInvoice creates a DRAFT invoice for the seller with its initial
// audit-trail entry.
func (s *InvoiceService) CreateInvoice(ctx context.Context, sellerID string, req models.CreateInvoiceRequest) (*models.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: req.InvoiceNumber,
		SellerID:      sellerID,
		SellerEmail:   req.SellerEmail,
		AnchorID:      req.AnchorID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		IssueDate:     req.IssueDate,
		DueDate:       req.DueDate,
		Description:   req.Description,
		Status:        models.InvoiceDraft,
		AmountRepaid:  decimal.Zero,
	}

	entry := invoice.NewCreationHistoryEntry()
	if err := s.invoiceRepo.Create(ctx, invoice, entry); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.invalidateInvoiceViews(ctx, invoice)
	slog.Info("Invoice created", "invoice_id", invoice.ID, "seller_id", sellerID, "amount", invoice.Amount)

	return invoice, nil
}

// UpdateInvoice applies partial edits to a DRAFT or REJECTED invoice owned
// by the seller.
func (s *InvoiceService) UpdateInvoice(ctx context.Context, sellerID string, invoiceID uuid.UUID, req models.UpdateInvoiceRequest) (*models.Invoice, error) {
	invoice, err := s.getOwnedInvoice(ctx, sellerID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.CanBeEdited() {
		return nil, models.NewDomainErrorf(models.ErrInvalidStateTransition,
			"invoice in status %s cannot be edited", invoice.Status)
	}

	if req.InvoiceNumber != nil {
		invoice.InvoiceNumber = *req.InvoiceNumber
	}
	if req.AnchorID != nil {
		invoice.AnchorID = *req.AnchorID
	}
	if req.Amount != nil {
		if req.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, models.NewDomainError(models.ErrValidation, "amount must be positive")
		}
		invoice.Amount = *req.Amount
	}
	if req.Currency != nil {
		invoice.Currency = *req.Currency
	}
	if req.IssueDate != nil {
		invoice.IssueDate = *req.IssueDate
	}
	if req.DueDate != nil {
		invoice.DueDate = *req.DueDate
	}
	if req.Description != nil {
		invoice.Description = req.Description
	}
	if invoice.DueDate <= invoice.IssueDate {
		return nil, models.NewDomainError(models.ErrValidation, "due_date must be after issue_date")
	}

	if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}

	s.invalidateInvoiceViews(ctx, invoice)
	return invoice, nil
}

// DeleteInvoice removes a DRAFT invoice. Anything past DRAFT has an audit
// trail other parties may rely on and can only be rejected, never erased.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, sellerID string, invoiceID uuid.UUID) error {
	invoice, err := s.getOwnedInvoice(ctx, sellerID, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status != models.InvoiceDraft {
		return models.NewDomainErrorf(models.ErrInvalidStateTransition,
			"only draft invoices can be deleted, current status is %s", invoice.Status)
	}

	if err := s.invoiceRepo.Delete(ctx, invoiceID); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}

	s.invalidateInvoiceViews(ctx, invoice)
	slog.Info("Invoice deleted", "invoice_id", invoiceID, "seller_id", sellerID)
	return nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, invoiceID)
}

func (s *InvoiceService) GetHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.StatusHistoryEntry, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoiceRepo.GetHistory(ctx, invoiceID)
}

// SubmitInvoice moves a DRAFT or REJECTED invoice into SUBMITTED. Requires a
// primary document; resubmission clears the previous rejection reason.
func (s *InvoiceService) SubmitInvoice(ctx context.Context, sellerID string, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.getOwnedInvoice(ctx, sellerID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.HasPrimaryDocument {
		return nil, models.NewDomainError(models.ErrInvalidStateTransition,
			"a primary document must be attached before submission")
	}

	actor := models.Actor{ID: sellerID, Role: models.RoleSeller}
	return s.transition(ctx, invoice, models.InvoiceSubmitted, actor, nil, invoice.AnchorID, "Invoice submitted",
		fmt.Sprintf("Invoice %s is awaiting your approval.", invoice.InvoiceNumber))
}

// AnchorReview lets the invoice's anchor approve or reject a SUBMITTED
// invoice. Funding terms may be attached to an approval.
func (s *InvoiceService) AnchorReview(ctx context.Context, anchorID string, invoiceID uuid.UUID, req models.ReviewRequest) (*models.Invoice, error) {
	if err := req.Validate(models.ReviewApprove, models.ReviewReject); err != nil {
		return nil, err
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.AnchorID != anchorID {
		return nil, models.NewNotAuthorized("invoice is not assigned to this anchor")
	}

	if req.FundingTerms != nil {
		if err := req.FundingTerms.Validate(invoice.Amount); err != nil {
			return nil, err
		}
	}

	actor := models.Actor{ID: anchorID, Role: models.RoleAnchor}
	if req.Action == models.ReviewReject {
		return s.transition(ctx, invoice, models.InvoiceRejected, actor, req.Notes, invoice.SellerID,
			"Invoice rejected by anchor",
			fmt.Sprintf("Invoice %s was rejected by the anchor.", invoice.InvoiceNumber))
	}

	if req.FundingTerms != nil {
		invoice.MaxFundingAmount = &req.FundingTerms.MaxFundingAmount
		invoice.RecommendedInterestRate = &req.FundingTerms.RecommendedInterestRate
		invoice.MaxTenureDays = &req.FundingTerms.MaxTenureDays
	}
	return s.transition(ctx, invoice, models.InvoiceAnchorApproved, actor, req.Notes, invoice.SellerID,
		"Invoice approved by anchor",
		fmt.Sprintf("Invoice %s was approved by the anchor and moved to admin review.", invoice.InvoiceNumber))
}

// AdminReview lets an admin verify or reject an ANCHOR_APPROVED invoice.
// Verification may set or replace the funding terms that bound lender bids.
func (s *InvoiceService) AdminReview(ctx context.Context, adminID string, invoiceID uuid.UUID, req models.ReviewRequest) (*models.Invoice, error) {
	if err := req.Validate(models.ReviewVerify, models.ReviewReject); err != nil {
		return nil, err
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if req.FundingTerms != nil {
		if err := req.FundingTerms.Validate(invoice.Amount); err != nil {
			return nil, err
		}
	}

	actor := models.Actor{ID: adminID, Role: models.RoleAdmin}
	if req.Action == models.ReviewReject {
		return s.transition(ctx, invoice, models.InvoiceRejected, actor, req.Notes, invoice.SellerID,
			"Invoice rejected by admin",
			fmt.Sprintf("Invoice %s was rejected during admin verification.", invoice.InvoiceNumber))
	}

	if req.FundingTerms != nil {
		invoice.MaxFundingAmount = &req.FundingTerms.MaxFundingAmount
		invoice.RecommendedInterestRate = &req.FundingTerms.RecommendedInterestRate
		invoice.MaxTenureDays = &req.FundingTerms.MaxTenureDays
	}
	invoice.VerifiedBy = &adminID
	return s.transition(ctx, invoice, models.InvoiceAdminVerified, actor, req.Notes, invoice.SellerID,
		"Invoice verified",
		fmt.Sprintf("Invoice %s passed admin verification.", invoice.InvoiceNumber))
}

// ListInvoice publishes an ADMIN_VERIFIED invoice to the lender marketplace.
// Bidding requires funding terms, so listing without them is refused.
func (s *InvoiceService) ListInvoice(ctx context.Context, adminID string, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.HasFundingTerms() {
		return nil, models.NewDomainError(models.ErrFundingTermsNotSet,
			"funding terms must be set before listing")
	}

	actor := models.Actor{ID: adminID, Role: models.RoleAdmin}
	return s.transition(ctx, invoice, models.InvoiceListed, actor, nil, invoice.SellerID,
		"Invoice listed",
		fmt.Sprintf("Invoice %s is now live on the marketplace.", invoice.InvoiceNumber))
}

// RecordRepayment accrues a repayment against a FUNDED invoice and moves it
// to REPAID once the total repayment amount is covered.
func (s *InvoiceService) RecordRepayment(ctx context.Context, adminID string, invoiceID uuid.UUID, req models.RepaymentRequest) (*models.Invoice, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, models.NewDomainError(models.ErrValidation, "amount must be positive")
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceFunded {
		return nil, models.NewDomainErrorf(models.ErrInvalidStateTransition,
			"repayments can only be recorded on funded invoices, current status is %s", invoice.Status)
	}

	invoice.AmountRepaid = invoice.AmountRepaid.Add(req.Amount)

	if invoice.TotalRepaymentAmount != nil && invoice.AmountRepaid.GreaterThanOrEqual(*invoice.TotalRepaymentAmount) {
		actor := models.Actor{ID: adminID, Role: models.RoleAdmin}
		recipient := invoice.SellerID
		if invoice.FundedBy != nil {
			recipient = *invoice.FundedBy
		}
		return s.transition(ctx, invoice, models.InvoiceRepaid, actor, nil, recipient,
			"Invoice repaid",
			fmt.Sprintf("Invoice %s has been fully repaid.", invoice.InvoiceNumber))
	}

	if err := s.invoiceRepo.Update(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to record repayment: %w", err)
	}
	s.invalidateInvoiceViews(ctx, invoice)
	return invoice, nil
}

// SettleInvoice closes out a REPAID invoice.
func (s *InvoiceService) SettleInvoice(ctx context.Context, adminID string, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	actor := models.Actor{ID: adminID, Role: models.RoleAdmin}
	return s.transition(ctx, invoice, models.InvoiceSettled, actor, nil, invoice.SellerID,
		"Invoice settled",
		fmt.Sprintf("Invoice %s has been settled and closed.", invoice.InvoiceNumber))
}

// ============================================================================
// INTERNAL
// ============================================================================

func (s *InvoiceService) getOwnedInvoice(ctx context.Context, sellerID string, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.SellerID != sellerID {
		return nil, models.NewNotAuthorized("invoice does not belong to this seller")
	}
	return invoice, nil
}

// transition applies one lifecycle move, persists it with its history entry,
// enqueues a notification for the affected party and refreshes read views.
func (s *InvoiceService) transition(
	ctx context.Context,
	invoice *models.Invoice,
	to models.InvoiceStatus,
	actor models.Actor,
	notes *string,
	recipientID, subject, message string,
) (*models.Invoice, error) {
	entry, err := invoice.ApplyTransition(to, actor, notes)
	if err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.UpdateWithHistory(ctx, invoice, entry); err != nil {
		return nil, fmt.Errorf("failed to persist transition to %s: %w", to, err)
	}
	metrics.IncInvoiceTransition(string(to))

	s.enqueueInvoiceNotification(ctx, invoice, recipientID, subject, message)
	s.invalidateInvoiceViews(ctx, invoice)

	slog.Info("Invoice transitioned",
		"invoice_id", invoice.ID,
		"to", to,
		"actor_id", actor.ID,
		"actor_role", actor.Role,
	)
	return invoice, nil
}

// enqueueInvoiceNotification records the notification intent; delivery is
// asynchronous and failures here never fail the transition.
func (s *InvoiceService) enqueueInvoiceNotification(ctx context.Context, invoice *models.Invoice, recipientID, subject, message string) {
	var email *string
	if recipientID == invoice.SellerID {
		email = invoice.SellerEmail
	}

	item, err := models.NewOutboxItem(models.NotificationInvoiceStatusChanged, recipientID, email, subject, message, invoice)
	if err != nil {
		slog.Warn("Failed to build invoice notification", "invoice_id", invoice.ID, "error", err)
		return
	}
	if err := s.outboxRepo.Enqueue(ctx, item); err != nil {
		slog.Warn("Failed to enqueue invoice notification", "invoice_id", invoice.ID, "error", err)
	}
}

// invalidateInvoiceViews drops every cached view the invoice can appear in
// and broadcasts the change. Cache trouble is logged, never surfaced.
func (s *InvoiceService) invalidateInvoiceViews(ctx context.Context, invoice *models.Invoice) {
	patterns := []string{
		cache.InvoiceScopePattern(invoice.ID),
		cache.SellerScopePattern(invoice.SellerID),
		cache.AnchorScopePattern(invoice.AnchorID),
		cache.AdminQueuePattern(),
		cache.MarketplacePattern(),
	}
	for _, pattern := range patterns {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			slog.Warn("Cache invalidation failed", "pattern", pattern, "error", err)
		}
	}

	payload, err := utils.SerializeModel(invoice)
	if err != nil {
		slog.Warn("Failed to serialize invoice event", "invoice_id", invoice.ID, "error", err)
		return
	}
	if err := s.cache.Publish(ctx, cache.InvoiceChannel(invoice.ID), payload); err != nil {
		slog.Warn("Failed to publish invoice event", "invoice_id", invoice.ID, "error", err)
	}
	if err := s.cache.Publish(ctx, cache.MarketplaceChannel, payload); err != nil {
		slog.Warn("Failed to publish marketplace event", "invoice_id", invoice.ID, "error", err)
	}
}
