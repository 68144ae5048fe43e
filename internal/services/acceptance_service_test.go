package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type acceptanceHarness struct {
	service     *AcceptanceService
	offers      *OfferService
	offerRepo   *fakeOfferRepo
	invoiceRepo *fakeInvoiceRepo
	outboxRepo  *fakeOutboxRepo
	cache       *fakeCache
}

func newAcceptanceHarness(t *testing.T) *acceptanceHarness {
	offerRepo := newFakeOfferRepo(t)
	invoiceRepo := newFakeInvoiceRepo()
	outboxRepo := newFakeOutboxRepo()
	cacheClient := newFakeCache()
	return &acceptanceHarness{
		service:     NewAcceptanceService(offerRepo, invoiceRepo, outboxRepo, cacheClient),
		offers:      NewOfferService(offerRepo, invoiceRepo, outboxRepo, cacheClient),
		offerRepo:   offerRepo,
		invoiceRepo: invoiceRepo,
		outboxRepo:  outboxRepo,
		cache:       cacheClient,
	}
}

// seedCompetingOffers places one offer per lender on the invoice through the
// real creation path and returns them keyed by lender.
func (h *acceptanceHarness) seedCompetingOffers(t *testing.T, invoiceID uuid.UUID, lenders ...string) map[string]*models.Offer {
	t.Helper()
	out := make(map[string]*models.Offer, len(lenders))
	for _, lender := range lenders {
		offer, err := h.offers.CreateOffer(context.Background(), lender, validOfferRequest(invoiceID))
		require.NoError(t, err)
		out[lender] = offer
	}
	return out
}

// ============================================================================
// TEST SUITE 1: ACCEPTANCE HAPPY PATH
// ============================================================================

func TestAcceptOffer_HappyPath(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1")

	result, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{})

	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, result.Offer.Status)
	assert.Empty(t, result.RejectedOffers)

	funded, err := h.invoiceRepo.GetByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceFunded, funded.Status)
	require.NotNil(t, funded.FundedBy)
	assert.Equal(t, "lender-1", *funded.FundedBy)
	require.NotNil(t, funded.FundingAmount)
	assert.True(t, offers["lender-1"].FundingAmount.Equal(*funded.FundingAmount))
	require.NotNil(t, funded.TotalRepaymentAmount)
	expected := models.ComputeTotalRepayment(
		offers["lender-1"].FundingAmount, offers["lender-1"].InterestRate, offers["lender-1"].TenureDays)
	assert.True(t, expected.Equal(*funded.TotalRepaymentAmount))
	assert.NotNil(t, funded.FundedAt)

	history, err := h.invoiceRepo.GetHistory(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.InvoiceFunded, history[len(history)-1].Status)
	assert.Equal(t, "seller-1", history[len(history)-1].ActorID)

	assert.Len(t, h.outboxRepo.byType(models.NotificationOfferAccepted), 1)
	assert.NotContains(t, h.cache.locks, cache.InvoiceOperationLockKey(invoice.ID, "accept"),
		"lock must be released after the acceptance completes")
}

func TestAcceptOffer_RejectsAllSiblings(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1", "lender-2", "lender-3")

	result, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-2"].ID, models.OfferActionRequest{})

	require.NoError(t, err)
	assert.Len(t, result.RejectedOffers, 2)

	for _, lender := range []string{"lender-1", "lender-3"} {
		sibling, err := h.offerRepo.GetByID(context.Background(), offers[lender].ID)
		require.NoError(t, err)
		assert.Equal(t, models.OfferRejected, sibling.Status, "sibling of %s", lender)
		require.NotNil(t, sibling.RejectionReason)
		assert.Equal(t, models.StandardCompetitorRejectionReason, *sibling.RejectionReason)
	}

	// One win notification plus one rejection per losing lender.
	assert.Len(t, h.outboxRepo.byType(models.NotificationOfferAccepted), 1)
	rejections := h.outboxRepo.byType(models.NotificationOfferRejected)
	assert.Len(t, rejections, 2)
	recipients := map[string]bool{}
	for _, item := range rejections {
		recipients[item.RecipientID] = true
	}
	assert.True(t, recipients["lender-1"])
	assert.True(t, recipients["lender-3"])
}

func TestAcceptOffer_PersistsAcceptanceNotes(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1")

	notes := "early settlement preferred"
	result, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{Notes: &notes})

	require.NoError(t, err)
	require.NotNil(t, result.Offer.Notes)
	assert.Equal(t, notes, *result.Offer.Notes)

	stored, err := h.offerRepo.GetByID(context.Background(), offers["lender-1"].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Notes, "acceptance notes must land on the offer row")
	assert.Equal(t, notes, *stored.Notes)
}

func TestAcceptOffer_InvalidatesLosingLenderCaches(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1", "lender-2", "lender-3")

	_, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{})
	require.NoError(t, err)

	// Every lender on the invoice sees the resolution, not just the winner;
	// losing lenders hold cached portfolios with now-stale pending counts.
	for _, lender := range []string{"lender-1", "lender-2", "lender-3"} {
		assert.Contains(t, h.cache.deletedPatterns, cache.LenderScopePattern(lender),
			"lender scope for %s must be invalidated", lender)
	}
	assert.Contains(t, h.cache.deletedPatterns, cache.InvoiceScopePattern(invoice.ID))
	assert.Contains(t, h.cache.deletedPatterns, cache.SellerScopePattern("seller-1"))
	assert.Contains(t, h.cache.deletedPatterns, cache.MarketplacePattern())
}

// ============================================================================
// TEST SUITE 2: PRE-CHECKS AND AUTHORIZATION
// ============================================================================

func TestAcceptOffer_NotTheSeller(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1")

	_, err := h.service.AcceptOffer(context.Background(), "seller-2",
		offers["lender-1"].ID, models.OfferActionRequest{})

	requireDomainKind(t, err, models.ErrNotAuthorized)

	unchanged, err := h.offerRepo.GetByID(context.Background(), offers["lender-1"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, unchanged.Status)
}

func TestAcceptOffer_ExpiredOffer(t *testing.T) {
	h := newAcceptanceHarness(t)
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

	_, err := h.service.AcceptOffer(context.Background(), "seller-1", offer.ID, models.OfferActionRequest{})

	requireDomainKind(t, err, models.ErrOfferNotActionable)
}

func TestAcceptOffer_InvoiceAlreadyFunded(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1", "lender-2")

	_, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{})
	require.NoError(t, err)

	// The second accept fails the pending-offer guard: lender-2's offer was
	// cascade-rejected when lender-1 won.
	_, err = h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-2"].ID, models.OfferActionRequest{})
	requireDomainKind(t, err, models.ErrOfferNotActionable)

	funded, err := h.invoiceRepo.GetByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "lender-1", *funded.FundedBy, "funding outcome must not change on a repeat accept")
}

func TestAcceptOffer_LockContention(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1")

	// Simulate a concurrent acceptance already holding the invoice lock.
	h.cache.locks[cache.InvoiceOperationLockKey(invoice.ID, "accept")] = "someone-else"

	_, err := h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{})

	requireDomainKind(t, err, models.ErrInvoiceNotAvailable)

	unchanged, err := h.offerRepo.GetByID(context.Background(), offers["lender-1"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, unchanged.Status)
}

// ============================================================================
// TEST SUITE 3: RACES
// ============================================================================

func TestAcceptOffer_LosesRaceToWithdrawal(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)
	offers := h.seedCompetingOffers(t, invoice.ID, "lender-1")

	// The lender withdraws between the seller's read and the accept; the
	// conditional update must refuse to resurrect the offer.
	_, err := h.offers.WithdrawOffer(context.Background(), "lender-1", offers["lender-1"].ID)
	require.NoError(t, err)

	_, err = h.service.AcceptOffer(context.Background(), "seller-1",
		offers["lender-1"].ID, models.OfferActionRequest{})

	requireDomainKind(t, err, models.ErrOfferNotActionable)

	stillListed, err := h.invoiceRepo.GetByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceListed, stillListed.Status)
	assert.Nil(t, stillListed.FundedBy)
}

func TestAcceptOffer_ConcurrentAcceptsSingleWinner(t *testing.T) {
	h := newAcceptanceHarness(t)
	invoice := listedInvoice()
	h.invoiceRepo.put(invoice)

	lenders := make([]string, 5)
	for i := range lenders {
		lenders[i] = fmt.Sprintf("lender-%d", i+1)
	}
	offers := h.seedCompetingOffers(t, invoice.ID, lenders...)

	type outcome struct {
		lender string
		err    error
	}
	results := make(chan outcome, len(lenders))
	for _, lender := range lenders {
		go func(lender string) {
			_, err := h.service.AcceptOffer(context.Background(), "seller-1",
				offers[lender].ID, models.OfferActionRequest{})
			results <- outcome{lender: lender, err: err}
		}(lender)
	}

	winners := 0
	for range lenders {
		r := <-results
		if r.err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent accept may succeed")

	funded, err := h.invoiceRepo.GetByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceFunded, funded.Status)

	accepted := 0
	for _, offer := range offers {
		got, err := h.offerRepo.GetByID(context.Background(), offer.ID)
		require.NoError(t, err)
		if got.Status == models.OfferAccepted {
			accepted++
		} else {
			assert.Equal(t, models.OfferRejected, got.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}
