package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type offerServiceHarness struct {
	service     *OfferService
	offerRepo   *fakeOfferRepo
	invoiceRepo *fakeInvoiceRepo
	outboxRepo  *fakeOutboxRepo
	cache       *fakeCache
}

func newOfferServiceHarness(t *testing.T) *offerServiceHarness {
	offerRepo := newFakeOfferRepo(t)
	invoiceRepo := newFakeInvoiceRepo()
	outboxRepo := newFakeOutboxRepo()
	cacheClient := newFakeCache()
	return &offerServiceHarness{
		service:     NewOfferService(offerRepo, invoiceRepo, outboxRepo, cacheClient),
		offerRepo:   offerRepo,
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		cache:       cacheClient,
	}
}

// listedInvoice builds an invoice open for bidding with standard terms:
// face 100000, cap 80000, rate 12%, max tenure 60 days, due in 90.
func listedInvoice() *models.Invoice {
	now := time.Now()
	listedAt := now.Unix()
	maxFunding := decimal.NewFromInt(80000)
	rate := 12.0
	maxTenure := 60
	email := "seller@myvestio.com"
	return &models.Invoice{
		ID:                      uuid.New(),
		InvoiceNumber:           "INV-2026-0042",
		SellerID:                "seller-1",
		SellerEmail:             &email,
		AnchorID:                "anchor-1",
		Amount:                  decimal.NewFromInt(100000),
		Currency:                "USD",
		IssueDate:               now.AddDate(0, 0, -10).Unix(),
		DueDate:                 now.AddDate(0, 0, 90).Unix(),
		Status:                  models.InvoiceListed,
		MaxFundingAmount:        &maxFunding,
		RecommendedInterestRate: &rate,
		MaxTenureDays:           &maxTenure,
		ListedAt:                &listedAt,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func validOfferRequest(invoiceID uuid.UUID) models.CreateOfferRequest {
	return models.CreateOfferRequest{
		InvoiceID:         invoiceID,
		InterestRate:      12.0,
		FundingPercentage: 80.0,
		TenureDays:        60,
	}
}

func requireDomainKind(t *testing.T, err error, kind models.ErrorKind) *models.DomainError {
	t.Helper()
	var domainErr *models.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, kind, domainErr.Kind)
	return domainErr
}

// ============================================================================
// TEST SUITE 1: OFFER CREATION
// ============================================================================

func TestCreateOffer_HappyPath(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))

	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, offer.Status)
	assert.Equal(t, "lender-1", offer.LenderID)

	gotFunding, _ := offer.FundingAmount.Float64()
	assert.InDelta(t, 80000.0, gotFunding, 0.01)

	expectedInterest := 80000.0 * 12.0 / 365.0 / 100.0 * 60.0
	gotRepayment, _ := offer.TotalRepaymentAmount.Float64()
	assert.InDelta(t, 80000.0+expectedInterest, gotRepayment, 0.01)

	// Default expiry when the lender does not specify one.
	assert.InDelta(t, time.Now().Add(models.DefaultOfferExpiry).Unix(), offer.ExpiresAt, 5)

	stored, err := h.offerRepo.GetByID(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, stored.Status)

	// Seller is notified and the offer joins the rate ranking.
	assert.Len(t, h.outboxRepo.byType(models.NotificationNewOffer), 1)
	ranking := h.cache.rankings[cache.OfferRankingKey(invoice.ID)]
	assert.Contains(t, ranking, offer.ID.String())
	assert.Equal(t, 12.0, ranking[offer.ID.String()])
}

func TestCreateOffer_InvoiceNotListed(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	invoice.Status = models.InvoiceAdminVerified
	h.invoiceRepo.put(invoice)

	_, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))

	requireDomainKind(t, err, models.ErrInvoiceNotAvailable)
	assert.Empty(t, h.outboxRepo.items, "a failed bid leaves no trace")
}

func TestCreateOffer_MissingFundingTerms(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	invoice.MaxFundingAmount = nil
	invoice.RecommendedInterestRate = nil
	h.invoiceRepo.put(invoice)

	_, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))

	requireDomainKind(t, err, models.ErrFundingTermsNotSet)
}

func TestCreateOffer_InterestRateMismatch(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	req := validOfferRequest(invoice.ID)
	req.InterestRate = 11.5

	_, err := h.service.CreateOffer(context.Background(), "lender-1", req)

	domainErr := requireDomainKind(t, err, models.ErrInterestRateMismatch)
	assert.Equal(t, 12.0, domainErr.Details["recommended_interest_rate"])
	assert.Equal(t, 11.5, domainErr.Details["requested_interest_rate"])
	assert.Empty(t, h.outboxRepo.items)
	assert.Empty(t, h.cache.rankings)
}

func TestCreateOffer_TenureExceedsLimit(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	req := validOfferRequest(invoice.ID)
	req.TenureDays = 61

	_, err := h.service.CreateOffer(context.Background(), "lender-1", req)

	requireDomainKind(t, err, models.ErrTenureExceedsLimit)
}

func TestCreateOffer_TenureBoundedByDueDateBuffer(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	// Due in 30 days with a 14-day collection buffer: the effective ceiling
	// drops below the admin's 60-day cap.
	invoice.DueDate = time.Now().AddDate(0, 0, 30).Unix()
	h.invoiceRepo.put(invoice)

	req := validOfferRequest(invoice.ID)
	req.TenureDays = 20

	_, err := h.service.CreateOffer(context.Background(), "lender-1", req)

	requireDomainKind(t, err, models.ErrTenureExceedsLimit)
}

func TestCreateOffer_FundingAmountExceedsCap(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	req := validOfferRequest(invoice.ID)
	req.FundingPercentage = 90.0 // 90000 against the 80000 cap

	_, err := h.service.CreateOffer(context.Background(), "lender-1", req)

	requireDomainKind(t, err, models.ErrFundingAmountExceedsLimit)
}

func TestCreateOffer_DuplicateActiveOffer(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	h.offerRepo.hasActive = true

	_, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))

	requireDomainKind(t, err, models.ErrDuplicateActiveOffer)
}

func TestCreateOffer_PastExpiryRejected(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	past := time.Now().Add(-time.Hour).Unix()
	req := validOfferRequest(invoice.ID)
	req.ExpiresAt = &past

	_, err := h.service.CreateOffer(context.Background(), "lender-1", req)

	requireDomainKind(t, err, models.ErrValidation)
}

func TestCreateOffer_InvoiceNotFound(t *testing.T) {
	h := newOfferServiceHarness(t)

	_, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(uuid.New()))

	requireDomainKind(t, err, models.ErrNotFound)
}

// ============================================================================
// TEST SUITE 2: WITHDRAWAL AND REJECTION
// ============================================================================

func TestWithdrawOffer_HappyPath(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	withdrawn, err := h.service.WithdrawOffer(context.Background(), "lender-1", offer.ID)

	require.NoError(t, err)
	assert.Equal(t, models.OfferWithdrawn, withdrawn.Status)
	assert.NotNil(t, withdrawn.WithdrawnAt)
	assert.Len(t, h.outboxRepo.byType(models.NotificationOfferWithdrawn), 1)
	assert.NotContains(t, h.cache.rankings[cache.OfferRankingKey(invoice.ID)], offer.ID.String())
}

func TestWithdrawOffer_WrongLender(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	_, err = h.service.WithdrawOffer(context.Background(), "lender-2", offer.ID)

	requireDomainKind(t, err, models.ErrNotAuthorized)
}

func TestWithdrawOffer_AlreadyResolved(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	_, err = h.service.WithdrawOffer(context.Background(), "lender-1", offer.ID)
	require.NoError(t, err)

	_, err = h.service.WithdrawOffer(context.Background(), "lender-1", offer.ID)
	requireDomainKind(t, err, models.ErrOfferNotActionable)
}

func TestWithdrawOffer_ExpiredOfferIsInert(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer := &models.Offer{
		ID:        uuid.New(),
		InvoiceID: invoice.ID,
		LenderID:  "lender-1",
		Status:    models.OfferPending,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}
	h.offerRepo.put(offer)

	_, err := h.service.WithdrawOffer(context.Background(), "lender-1", offer.ID)

	requireDomainKind(t, err, models.ErrOfferNotActionable)
}

func TestRejectOffer_HappyPath(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	reason := "rate too high for our book"
	rejected, err := h.service.RejectOffer(context.Background(), "seller-1", offer.ID,
		models.OfferActionRequest{Reason: &reason})

	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, reason, *rejected.RejectionReason)
	assert.Len(t, h.outboxRepo.byType(models.NotificationOfferRejected), 1)
}

func TestRejectOffer_NotTheSeller(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	_, err = h.service.RejectOffer(context.Background(), "seller-2", offer.ID, models.OfferActionRequest{})

	requireDomainKind(t, err, models.ErrNotAuthorized)
}

// ============================================================================
// TEST SUITE 3: VISIBILITY
// ============================================================================

func TestGetOffer_VisibleToLenderAndSeller(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	offer, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	_, err = h.service.GetOffer(context.Background(), "lender-1", offer.ID)
	assert.NoError(t, err)

	_, err = h.service.GetOffer(context.Background(), "seller-1", offer.ID)
	assert.NoError(t, err)

	_, err = h.service.GetOffer(context.Background(), "lender-2", offer.ID)
	requireDomainKind(t, err, models.ErrNotAuthorized)
}

func TestGetOffersForInvoice_SellerOnly(t *testing.T) {
	h := newOfferServiceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	_, err := h.service.CreateOffer(context.Background(), "lender-1", validOfferRequest(invoice.ID))
	require.NoError(t, err)

	offers, err := h.service.GetOffersForInvoice(context.Background(), "seller-1", invoice.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 1)

	_, err = h.service.GetOffersForInvoice(context.Background(), "seller-2", invoice.ID)
	requireDomainKind(t, err, models.ErrNotAuthorized)
}
