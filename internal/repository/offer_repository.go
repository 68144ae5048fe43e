package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// OfferRepository stores financing offers. Status transitions go through
// conditional updates so concurrent actors cannot double-resolve an offer.
type OfferRepository interface {
	Create(ctx context.Context, offer *models.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error)
	GetPendingByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error)
	GetByLenderID(ctx context.Context, lenderID string) ([]models.Offer, error)
	HasActiveOffer(ctx context.Context, invoiceID uuid.UUID, lenderID string) (bool, error)

	Withdraw(ctx context.Context, offerID uuid.UUID) (bool, error)
	Reject(ctx context.Context, offerID uuid.UUID, reason *string) (bool, error)

	GetExpiredPending(ctx context.Context, limit int) ([]models.Offer, error)
	MarkExpired(ctx context.Context, offerIDs []uuid.UUID) (int64, error)

	BeginTransaction() (*sqlx.Tx, error)
	AcceptTx(tx *sqlx.Tx, offerID uuid.UUID, notes *string) (bool, error)
	RejectSiblingsTx(tx *sqlx.Tx, invoiceID, acceptedOfferID uuid.UUID, reason string) ([]models.Offer, error)
}

type offerRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) OfferRepository {
	return &offerRepository{db: db}
}

const offerInsert = `
	INSERT INTO offers (
		id, invoice_id, lender_id, lender_email,
		funding_amount, interest_rate, funding_percentage, tenure_days,
		total_interest_amount, total_repayment_amount,
		status, expires_at, accepted_at, rejected_at, withdrawn_at, expired_at,
		notes, rejection_reason, created_at, updated_at
	) VALUES (
		:id, :invoice_id, :lender_id, :lender_email,
		:funding_amount, :interest_rate, :funding_percentage, :tenure_days,
		:total_interest_amount, :total_repayment_amount,
		:status, :expires_at, :accepted_at, :rejected_at, :withdrawn_at, :expired_at,
		:notes, :rejection_reason, :created_at, :updated_at
	)`

func (r *offerRepository) Create(ctx context.Context, offer *models.Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	offer.CreatedAt = time.Now()
	offer.UpdatedAt = offer.CreatedAt

	if _, err := r.db.NamedExecContext(ctx, offerInsert, offer); err != nil {
		// The partial unique index on (invoice_id, lender_id) WHERE
		// status = 'pending' arbitrates concurrent creates that both
		// passed the duplicate pre-check.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.NewDomainError(models.ErrDuplicateActiveOffer,
				"lender already has an active offer on this invoice")
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *offerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.GetContext(ctx, &offer, `SELECT * FROM offers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("offer")
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &offer, nil
}

func (r *offerRepository) GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	query := `SELECT * FROM offers WHERE invoice_id = $1 ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &offers, query, invoiceID); err != nil {
		return nil, fmt.Errorf("failed to get offers for invoice: %w", err)
	}
	return offers, nil
}

func (r *offerRepository) GetPendingByInvoiceID(ctx context.Context, invoiceID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	query := `
		SELECT * FROM offers
		WHERE invoice_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &offers, query, invoiceID, time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("failed to get pending offers for invoice: %w", err)
	}
	return offers, nil
}

func (r *offerRepository) GetByLenderID(ctx context.Context, lenderID string) ([]models.Offer, error) {
	var offers []models.Offer
	query := `SELECT * FROM offers WHERE lender_id = $1 ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &offers, query, lenderID); err != nil {
		return nil, fmt.Errorf("failed to get offers for lender: %w", err)
	}
	return offers, nil
}

// HasActiveOffer answers the one-active-offer-per-lender check. It reads the
// database rather than any cached view, since a stale answer here would let a
// lender hold two live offers on the same invoice.
func (r *offerRepository) HasActiveOffer(ctx context.Context, invoiceID uuid.UUID, lenderID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM offers
			WHERE invoice_id = $1 AND lender_id = $2
			  AND status = 'pending' AND expires_at > $3
		)`

	err := r.db.GetContext(ctx, &exists, query, invoiceID, lenderID, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to check active offer: %w", err)
	}
	return exists, nil
}

// Withdraw flips a pending, unexpired offer to withdrawn. Returns false when
// the offer was already resolved by a concurrent accept, reject or sweep.
func (r *offerRepository) Withdraw(ctx context.Context, offerID uuid.UUID) (bool, error) {
	now := time.Now()
	query := `
		UPDATE offers
		SET status = 'withdrawn', withdrawn_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > $4`

	result, err := r.db.ExecContext(ctx, query, offerID, now.Unix(), now, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to withdraw offer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *offerRepository) Reject(ctx context.Context, offerID uuid.UUID, reason *string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE offers
		SET status = 'rejected', rejected_at = $2, rejection_reason = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending' AND expires_at > $5`

	result, err := r.db.ExecContext(ctx, query, offerID, now.Unix(), reason, now, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to reject offer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ============================================================================
// EXPIRATION SWEEP
// ============================================================================

func (r *offerRepository) GetExpiredPending(ctx context.Context, limit int) ([]models.Offer, error) {
	var offers []models.Offer
	query := `
		SELECT * FROM offers
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &offers, query, time.Now().Unix(), limit); err != nil {
		return nil, fmt.Errorf("failed to get expired offers: %w", err)
	}
	return offers, nil
}

func (r *offerRepository) MarkExpired(ctx context.Context, offerIDs []uuid.UUID) (int64, error) {
	if len(offerIDs) == 0 {
		return 0, nil
	}
	now := time.Now()

	query, args, err := sqlx.In(`
		UPDATE offers
		SET status = 'expired', expired_at = ?, updated_at = ?
		WHERE id IN (?) AND status = 'pending'`, now.Unix(), now, offerIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build expiration query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark offers expired: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// ============================================================================
// ACCEPTANCE TRANSACTION
// ============================================================================

func (r *offerRepository) BeginTransaction() (*sqlx.Tx, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		slog.Error("Failed to begin transaction", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// AcceptTx conditionally accepts an offer inside the funding transaction,
// recording the seller's acceptance notes on the row. The WHERE clause is
// the authoritative race arbiter: at most one of any set of concurrent
// accept, withdraw or expire attempts wins.
func (r *offerRepository) AcceptTx(tx *sqlx.Tx, offerID uuid.UUID, notes *string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE offers
		SET status = 'accepted', accepted_at = $2, notes = COALESCE($3, notes), updated_at = $4
		WHERE id = $1 AND status = 'pending' AND expires_at > $5`

	result, err := tx.Exec(query, offerID, now.Unix(), notes, now, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to accept offer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// RejectSiblingsTx rejects every other pending offer on the invoice and
// returns the rejected rows so the caller can notify each lender.
func (r *offerRepository) RejectSiblingsTx(tx *sqlx.Tx, invoiceID, acceptedOfferID uuid.UUID, reason string) ([]models.Offer, error) {
	now := time.Now()
	query := `
		UPDATE offers
		SET status = 'rejected', rejected_at = $3, rejection_reason = $4, updated_at = $5
		WHERE invoice_id = $1 AND id != $2 AND status = 'pending'
		RETURNING *`

	var rejected []models.Offer
	err := tx.Select(&rejected, query, invoiceID, acceptedOfferID, now.Unix(), reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reject competing offers: %w", err)
	}
	return rejected, nil
}
