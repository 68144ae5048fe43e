package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// ============================================================================
// TRANSACTION HARNESS
// ============================================================================

// newTxFactory hands out real transaction handles backed by sqlmock, so the
// acceptance flow's begin/commit/rollback calls work while the fake
// repositories ignore the handle entirely.
func newTxFactory(t *testing.T) func() (*sqlx.Tx, error) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	mock.MatchExpectationsInOrder(false)
	for range 16 {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	db := sqlx.NewDb(rawDB, "sqlmock")
	return func() (*sqlx.Tx, error) {
		return db.Beginx()
	}
}

// ============================================================================
// FAKE OFFER REPOSITORY
// ============================================================================

type fakeOfferRepo struct {
	mu     sync.Mutex
	offers map[uuid.UUID]*models.Offer

	hasActive bool
	beginTx   func() (*sqlx.Tx, error)
}

func newFakeOfferRepo(t *testing.T) *fakeOfferRepo {
	return &fakeOfferRepo{
		offers:  make(map[uuid.UUID]*models.Offer),
		beginTx: newTxFactory(t),
	}
}

func (r *fakeOfferRepo) put(offer *models.Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *offer
	r.offers[offer.ID] = &cp
}

func (r *fakeOfferRepo) Create(ctx context.Context, offer *models.Offer) error {
	offer.CreatedAt = time.Now()
	offer.UpdatedAt = offer.CreatedAt
	r.put(offer)
	return nil
}

func (r *fakeOfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok {
		return nil, models.NewNotFound("offer")
	}
	cp := *offer
	return &cp, nil
}

func (r *fakeOfferRepo) GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Offer
	for _, offer := range r.offers {
		if offer.InvoiceID == invoiceID {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (r *fakeOfferRepo) GetPendingByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().Unix()
	var out []models.Offer
	for _, offer := range r.offers {
		if offer.InvoiceID == invoiceID && offer.Status == models.OfferPending && offer.ExpiresAt > now {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (r *fakeOfferRepo) GetByLenderID(ctx context.Context, lenderID string) ([]models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Offer
	for _, offer := range r.offers {
		if offer.LenderID == lenderID {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (r *fakeOfferRepo) HasActiveOffer(ctx context.Context, invoiceID uuid.UUID, lenderID string) (bool, error) {
	return r.hasActive, nil
}

func (r *fakeOfferRepo) Withdraw(ctx context.Context, offerID uuid.UUID) (bool, error) {
	return r.resolve(offerID, models.OfferWithdrawn, nil)
}

func (r *fakeOfferRepo) Reject(ctx context.Context, offerID uuid.UUID, reason *string) (bool, error) {
	return r.resolve(offerID, models.OfferRejected, reason)
}

// resolve mirrors the conditional-update arbiter: only a pending, unexpired
// offer flips, and exactly one caller wins.
func (r *fakeOfferRepo) resolve(offerID uuid.UUID, to models.OfferStatus, reason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[offerID]
	if !ok || offer.Status != models.OfferPending || offer.IsExpired() {
		return false, nil
	}
	now := time.Now().Unix()
	offer.Status = to
	switch to {
	case models.OfferAccepted:
		offer.AcceptedAt = &now
	case models.OfferWithdrawn:
		offer.WithdrawnAt = &now
	case models.OfferRejected:
		offer.RejectedAt = &now
		offer.RejectionReason = reason
	case models.OfferExpired:
		offer.ExpiredAt = &now
	}
	return true, nil
}

func (r *fakeOfferRepo) GetExpiredPending(ctx context.Context, limit int) ([]models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().Unix()
	var out []models.Offer
	for _, offer := range r.offers {
		if offer.Status == models.OfferPending && offer.ExpiresAt <= now && len(out) < limit {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (r *fakeOfferRepo) MarkExpired(ctx context.Context, offerIDs []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range offerIDs {
		r.mu.Lock()
		offer, ok := r.offers[id]
		if ok && offer.Status == models.OfferPending {
			now := time.Now().Unix()
			offer.Status = models.OfferExpired
			offer.ExpiredAt = &now
			n++
		}
		r.mu.Unlock()
	}
	return n, nil
}

func (r *fakeOfferRepo) BeginTransaction() (*sqlx.Tx, error) {
	return r.beginTx()
}

func (r *fakeOfferRepo) AcceptTx(tx *sqlx.Tx, offerID uuid.UUID, notes *string) (bool, error) {
	ok, err := r.resolve(offerID, models.OfferAccepted, nil)
	if ok && notes != nil {
		r.mu.Lock()
		r.offers[offerID].Notes = notes
		r.mu.Unlock()
	}
	return ok, err
}

func (r *fakeOfferRepo) RejectSiblingsTx(tx *sqlx.Tx, invoiceID, acceptedOfferID uuid.UUID, reason string) ([]models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().Unix()
	var rejected []models.Offer
	for _, offer := range r.offers {
		if offer.InvoiceID != invoiceID || offer.ID == acceptedOfferID || offer.Status != models.OfferPending {
			continue
		}
		offer.Status = models.OfferRejected
		offer.RejectedAt = &now
		offer.RejectionReason = &reason
		rejected = append(rejected, *offer)
	}
	return rejected, nil
}

// ============================================================================
// FAKE INVOICE REPOSITORY
// ============================================================================

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*models.Invoice
	history  map[uuid.UUID][]models.StatusHistoryEntry
	docs     map[uuid.UUID][]models.InvoiceDocument
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{
		invoices: make(map[uuid.UUID]*models.Invoice),
		history:  make(map[uuid.UUID][]models.StatusHistoryEntry),
		docs:     make(map[uuid.UUID][]models.InvoiceDocument),
	}
}

func (r *fakeInvoiceRepo) put(inv *models.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.invoices[inv.ID] = &cp
}

func (r *fakeInvoiceRepo) Create(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt
	r.put(invoice)
	r.mu.Lock()
	r.history[invoice.ID] = append(r.history[invoice.ID], *entry)
	r.mu.Unlock()
	return nil
}

func (r *fakeInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, models.NewNotFound("invoice")
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeInvoiceRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, id := range ids {
		if inv, err := r.GetByID(ctx, id); err == nil {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *fakeInvoiceRepo) Update(ctx context.Context, invoice *models.Invoice) error {
	r.put(invoice)
	return nil
}

func (r *fakeInvoiceRepo) UpdateWithHistory(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error {
	r.put(invoice)
	r.mu.Lock()
	r.history[invoice.ID] = append(r.history[invoice.ID], *entry)
	r.mu.Unlock()
	return nil
}

func (r *fakeInvoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.invoices, id)
	return nil
}

func (r *fakeInvoiceRepo) GetWithFilters(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Invoice
	for _, inv := range r.invoices {
		if filter.SellerID != "" && inv.SellerID != filter.SellerID {
			continue
		}
		if filter.AnchorID != "" && inv.AnchorID != filter.AnchorID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, len(out), nil
}

func (r *fakeInvoiceRepo) GetListed(ctx context.Context, filter models.MarketplaceFilter) ([]models.Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Invoice
	for _, inv := range r.invoices {
		if inv.Status == models.InvoiceListed {
			out = append(out, *inv)
		}
	}
	return out, len(out), nil
}

func (r *fakeInvoiceRepo) GetHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.StatusHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StatusHistoryEntry(nil), r.history[invoiceID]...), nil
}

func (r *fakeInvoiceRepo) AddDocument(ctx context.Context, doc *models.InvoiceDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.InvoiceID] = append(r.docs[doc.InvoiceID], *doc)
	return nil
}

func (r *fakeInvoiceRepo) GetDocuments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.InvoiceDocument(nil), r.docs[invoiceID]...), nil
}

func (r *fakeInvoiceRepo) GetDocumentByID(ctx context.Context, id uuid.UUID) (*models.InvoiceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, docs := range r.docs {
		for i := range docs {
			if docs[i].ID == id {
				cp := docs[i]
				return &cp, nil
			}
		}
	}
	return nil, models.NewNotFound("document")
}

func (r *fakeInvoiceRepo) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (r *fakeInvoiceRepo) BeginTransaction() (*sqlx.Tx, error) {
	return nil, nil
}

func (r *fakeInvoiceRepo) GetByIDTx(tx *sqlx.Tx, id uuid.UUID) (*models.Invoice, error) {
	return r.GetByID(context.Background(), id)
}

func (r *fakeInvoiceRepo) UpdateTx(tx *sqlx.Tx, invoice *models.Invoice) error {
	r.put(invoice)
	return nil
}

func (r *fakeInvoiceRepo) AppendHistoryTx(tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[entry.InvoiceID] = append(r.history[entry.InvoiceID], *entry)
	return nil
}

// ============================================================================
// FAKE OUTBOX REPOSITORY
// ============================================================================

type fakeOutboxRepo struct {
	mu    sync.Mutex
	items []*models.OutboxItem
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{}
}

func (r *fakeOutboxRepo) Enqueue(ctx context.Context, item *models.OutboxItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *fakeOutboxRepo) EnqueueTx(tx *sqlx.Tx, item *models.OutboxItem) error {
	return r.Enqueue(context.Background(), item)
}

func (r *fakeOutboxRepo) FetchPending(ctx context.Context, limit int) ([]models.OutboxItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OutboxItem
	for _, item := range r.items {
		if (item.Status == models.OutboxPending || item.Status == models.OutboxFailed) && len(out) < limit {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			item.Status = models.OutboxDispatched
		}
	}
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, dispatchErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			item.Attempts++
			item.Status = models.OutboxFailed
			if item.Attempts >= models.OutboxMaxAttempts {
				item.Status = models.OutboxDead
			}
		}
	}
	return nil
}

func (r *fakeOutboxRepo) CountByStatus(ctx context.Context, status models.OutboxStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Status == status {
			n++
		}
	}
	return n, nil
}

// byType returns enqueued items carrying the given notification type.
func (r *fakeOutboxRepo) byType(notifType models.NotificationType) []*models.OutboxItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OutboxItem
	for _, item := range r.items {
		if item.Type == notifType {
			out = append(out, item)
		}
	}
	return out
}

// ============================================================================
// FAKE CACHE
// ============================================================================

type fakeCache struct {
	mu       sync.Mutex
	store    map[string][]byte
	locks    map[string]string
	rankings map[string]map[string]float64
	published map[string]int

	deletedPatterns []string

	lockDenied bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		store:     make(map[string][]byte),
		locks:     make(map[string]string),
		rankings:  make(map[string]map[string]float64),
		published: make(map[string]int),
	}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.store[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return data, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.store, key)
	}
	return nil
}

func (c *fakeCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedPatterns = append(c.deletedPatterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.store {
		if strings.HasPrefix(key, prefix) {
			delete(c.store, key)
		}
	}
	return nil
}

func (c *fakeCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockDenied {
		return false, nil
	}
	if _, held := c.locks[key]; held {
		return false, nil
	}
	c.locks[key] = token
	return true, nil
}

func (c *fakeCache) ReleaseLock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

func (c *fakeCache) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[channel]++
	return nil
}

func (c *fakeCache) IncrementScore(ctx context.Context, key, member string, delta float64, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rankings[key] == nil {
		c.rankings[key] = make(map[string]float64)
	}
	c.rankings[key][member] += delta
	return nil
}

func (c *fakeCache) AddToRanking(ctx context.Context, key, member string, score float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rankings[key] == nil {
		c.rankings[key] = make(map[string]float64)
	}
	c.rankings[key][member] = score
	return nil
}

func (c *fakeCache) RemoveFromRanking(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, member := range members {
		delete(c.rankings[key], member)
	}
	return nil
}

func (c *fakeCache) TopN(ctx context.Context, key string, n int64) ([]cache.ScoredMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []cache.ScoredMember
	for member, score := range c.rankings[key] {
		if int64(len(out)) >= n {
			break
		}
		out = append(out, cache.ScoredMember{Member: member, Score: score})
	}
	return out, nil
}

func (c *fakeCache) RankingRange(ctx context.Context, key string) ([]cache.ScoredMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cache.ScoredMember, 0, len(c.rankings[key]))
	for member, score := range c.rankings[key] {
		out = append(out, cache.ScoredMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

func (c *fakeCache) CountBelow(ctx context.Context, key string, score float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, s := range c.rankings[key] {
		if s < score {
			n++
		}
	}
	return n, nil
}
