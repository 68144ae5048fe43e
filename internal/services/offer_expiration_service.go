package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
)

const expirationSweepBatchSize = 500

// OfferExpirationService flips pending offers past their expiry to EXPIRED.
// The sweep is a bookkeeping pass: guards already treat an expired-by-clock
// offer as dead, so sweeping late never admits an invalid action.
type OfferExpirationService struct {
	offerRepo  repository.OfferRepository
	outboxRepo repository.OutboxRepository
	cache      cache.Cache
	stats      *ExpirationStats
}

// ExpirationStats tracks sweep statistics
type ExpirationStats struct {
	TotalSwept    int64
	FailedSweeps  int64
	LastProcessed time.Time
	mu            sync.RWMutex
}

func NewOfferExpirationService(
	offerRepo repository.OfferRepository,
	outboxRepo repository.OutboxRepository,
	cacheClient cache.Cache,
) *OfferExpirationService {
	return &OfferExpirationService{
		offerRepo:  offerRepo,
		outboxRepo: outboxRepo,
		cache:      cacheClient,
		stats: &ExpirationStats{
			LastProcessed: time.Now(),
		},
	}
}

// SweepExpiredOffers marks one batch of overdue pending offers as expired,
// notifies their lenders and cleans their ranking entries. Returns the number
// of offers flipped.
func (s *OfferExpirationService) SweepExpiredOffers(ctx context.Context) (int, error) {
	expired, err := s.offerRepo.GetExpiredPending(ctx, expirationSweepBatchSize)
	if err != nil {
		s.updateStats(0, true)
		return 0, fmt.Errorf("failed to load expired offers: %w", err)
	}
	if len(expired) == 0 {
		s.updateStats(0, false)
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(expired))
	for i := range expired {
		ids = append(ids, expired[i].ID)
	}

	swept, err := s.offerRepo.MarkExpired(ctx, ids)
	if err != nil {
		s.updateStats(0, true)
		return 0, fmt.Errorf("failed to mark offers expired: %w", err)
	}
	metrics.AddExpiredOffersSwept(int(swept))
	for i := 0; i < int(swept); i++ {
		metrics.IncOfferResolved("expired")
	}

	for i := range expired {
		s.cleanupExpiredOffer(ctx, &expired[i])
	}

	s.updateStats(swept, false)
	slog.Info("Expired offer sweep completed", "swept", swept, "batch", len(expired))
	return int(swept), nil
}

func (s *OfferExpirationService) cleanupExpiredOffer(ctx context.Context, offer *models.Offer) {
	key := cache.OfferRankingKey(offer.InvoiceID)
	if err := s.cache.RemoveFromRanking(ctx, key, offer.ID.String()); err != nil {
		slog.Warn("Failed to remove expired offer from ranking", "offer_id", offer.ID, "error", err)
	}
	if err := s.cache.DeletePattern(ctx, cache.LenderScopePattern(offer.LenderID)); err != nil {
		slog.Warn("Cache invalidation failed", "lender_id", offer.LenderID, "error", err)
	}
	if err := s.cache.DeletePattern(ctx, cache.InvoiceScopePattern(offer.InvoiceID)); err != nil {
		slog.Warn("Cache invalidation failed", "invoice_id", offer.InvoiceID, "error", err)
	}

	item, err := models.NewOutboxItem(
		models.NotificationOfferExpired,
		offer.LenderID,
		offer.LenderEmail,
		"Offer expired",
		"Your offer expired before the seller responded.",
		offer,
	)
	if err != nil {
		slog.Warn("Failed to build expiry notification", "offer_id", offer.ID, "error", err)
		return
	}
	if err := s.outboxRepo.Enqueue(ctx, item); err != nil {
		slog.Warn("Failed to enqueue expiry notification", "offer_id", offer.ID, "error", err)
	}
}

func (s *OfferExpirationService) updateStats(swept int64, failed bool) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.TotalSwept += swept
	if failed {
		s.stats.FailedSweeps++
	}
	s.stats.LastProcessed = time.Now()
}

// GetStats returns a copy of the current sweep statistics
func (s *OfferExpirationService) GetStats() ExpirationStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	return ExpirationStats{
		TotalSwept:    s.stats.TotalSwept,
		FailedSweeps:  s.stats.FailedSweeps,
		LastProcessed: s.stats.LastProcessed,
	}
}

// HealthCheck reports whether the sweep has run recently
func (s *OfferExpirationService) HealthCheck() error {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	if time.Since(s.stats.LastProcessed) > 10*time.Minute {
		return fmt.Errorf("expiration sweep has not run since %s", s.stats.LastProcessed.Format(time.RFC3339))
	}
	return nil
}
