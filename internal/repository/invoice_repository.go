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

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// InvoiceRepository is the authoritative store for invoices, their documents
// and the append-only status history.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error)
	Update(ctx context.Context, invoice *models.Invoice) error
	UpdateWithHistory(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetWithFilters(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	GetListed(ctx context.Context, filter models.MarketplaceFilter) ([]models.Invoice, int, error)

	GetHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.StatusHistoryEntry, error)

	AddDocument(ctx context.Context, doc *models.InvoiceDocument) error
	GetDocuments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceDocument, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*models.InvoiceDocument, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	BeginTransaction() (*sqlx.Tx, error)
	GetByIDTx(tx *sqlx.Tx, id uuid.UUID) (*models.Invoice, error)
	UpdateTx(tx *sqlx.Tx, invoice *models.Invoice) error
	AppendHistoryTx(tx *sqlx.Tx, entry *models.StatusHistoryEntry) error
}

type invoiceRepository struct {
	db *sqlx.DB
}

func NewInvoiceRepository(db *sqlx.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// invoiceColumns selects every invoice column plus the derived
// has_primary_document flag consulted by the submit guard.
const invoiceColumns = `
	i.*,
	EXISTS(SELECT 1 FROM invoice_documents d WHERE d.invoice_id = i.id AND d.is_primary) AS has_primary_document`

const invoiceInsert = `
	INSERT INTO invoices (
		id, invoice_number, seller_id, seller_email, anchor_id,
		amount, currency, issue_date, due_date, description, status,
		max_funding_amount, recommended_interest_rate, max_tenure_days,
		funded_by, funding_amount, interest_rate, tenure_days,
		total_repayment_amount, amount_repaid,
		submitted_at, anchor_approval_date, admin_verification_date,
		listed_at, funded_at, repaid_at, settled_at, verified_by,
		anchor_notes, admin_notes, rejection_reason,
		created_at, updated_at
	) VALUES (
		:id, :invoice_number, :seller_id, :seller_email, :anchor_id,
		:amount, :currency, :issue_date, :due_date, :description, :status,
		:max_funding_amount, :recommended_interest_rate, :max_tenure_days,
		:funded_by, :funding_amount, :interest_rate, :tenure_days,
		:total_repayment_amount, :amount_repaid,
		:submitted_at, :anchor_approval_date, :admin_verification_date,
		:listed_at, :funded_at, :repaid_at, :settled_at, :verified_by,
		:anchor_notes, :admin_notes, :rejection_reason,
		:created_at, :updated_at
	)`

const invoiceUpdate = `
	UPDATE invoices SET
		invoice_number = :invoice_number, seller_email = :seller_email,
		anchor_id = :anchor_id, amount = :amount, currency = :currency,
		issue_date = :issue_date, due_date = :due_date, description = :description,
		status = :status, max_funding_amount = :max_funding_amount,
		recommended_interest_rate = :recommended_interest_rate,
		max_tenure_days = :max_tenure_days, funded_by = :funded_by,
		funding_amount = :funding_amount, interest_rate = :interest_rate,
		tenure_days = :tenure_days, total_repayment_amount = :total_repayment_amount,
		amount_repaid = :amount_repaid, submitted_at = :submitted_at,
		anchor_approval_date = :anchor_approval_date,
		admin_verification_date = :admin_verification_date,
		listed_at = :listed_at, funded_at = :funded_at, repaid_at = :repaid_at,
		settled_at = :settled_at, verified_by = :verified_by,
		anchor_notes = :anchor_notes, admin_notes = :admin_notes,
		rejection_reason = :rejection_reason, updated_at = :updated_at
	WHERE id = :id`

const historyInsert = `
	INSERT INTO invoice_status_history (id, invoice_id, status, actor_id, actor_role, notes, created_at)
	VALUES (:id, :invoice_id, :status, :actor_id, :actor_role, :notes, :created_at)`

// Create persists the invoice and its initial audit-trail entry in one
// transaction so no invoice exists without history.
func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
		entry.InvoiceID = invoice.ID
	}
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(invoiceInsert, invoice); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	if _, err := tx.NamedExec(historyInsert, entry); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invoice creation: %w", err)
	}
	return nil
}

func (r *invoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices i WHERE i.id = $1`

	err := r.db.GetContext(ctx, &invoice, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("invoice")
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return &invoice, nil
}

func (r *invoiceRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error) {
	if len(ids) == 0 {
		return []models.Invoice{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+invoiceColumns+` FROM invoices i WHERE i.id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build invoice batch query: %w", err)
	}

	var invoices []models.Invoice
	err = r.db.SelectContext(ctx, &invoices, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoices by ids: %w", err)
	}
	return invoices, nil
}

func (r *invoiceRepository) Update(ctx context.Context, invoice *models.Invoice) error {
	invoice.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, invoiceUpdate, invoice)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NewNotFound("invoice")
	}
	return nil
}

// UpdateWithHistory applies a status mutation and its audit-trail entry
// atomically; the history append is unconditional for every transition.
func (r *invoiceRepository) UpdateWithHistory(ctx context.Context, invoice *models.Invoice, entry *models.StatusHistoryEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.UpdateTx(tx, invoice); err != nil {
		return err
	}
	if err := r.AppendHistoryTx(tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invoice update: %w", err)
	}
	return nil
}

func (r *invoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NewNotFound("invoice")
	}
	return nil
}

func (r *invoiceRepository) GetWithFilters(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	filter.Normalize()

	where := ` WHERE 1=1`
	args := []any{}
	argIndex := 1

	if filter.SellerID != "" {
		where += fmt.Sprintf(" AND i.seller_id = $%d", argIndex)
		args = append(args, filter.SellerID)
		argIndex++
	}
	if filter.AnchorID != "" {
		where += fmt.Sprintf(" AND i.anchor_id = $%d", argIndex)
		args = append(args, filter.AnchorID)
		argIndex++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND i.status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Currency != "" {
		where += fmt.Sprintf(" AND i.currency = $%d", argIndex)
		args = append(args, filter.Currency)
		argIndex++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM invoices i` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices i` + where +
		fmt.Sprintf(" ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get invoices with filters: %w", err)
	}

	return invoices, total, nil
}

// GetListed serves the lender marketplace browse over LISTED invoices only.
func (r *invoiceRepository) GetListed(ctx context.Context, filter models.MarketplaceFilter) ([]models.Invoice, int, error) {
	filter.Normalize()

	where := ` WHERE i.status = 'listed'`
	args := []any{}
	argIndex := 1

	if filter.Currency != "" {
		where += fmt.Sprintf(" AND i.currency = $%d", argIndex)
		args = append(args, filter.Currency)
		argIndex++
	}
	if filter.MinAmount != nil {
		where += fmt.Sprintf(" AND i.amount >= $%d", argIndex)
		args = append(args, *filter.MinAmount)
		argIndex++
	}
	if filter.MaxAmount != nil {
		where += fmt.Sprintf(" AND i.amount <= $%d", argIndex)
		args = append(args, *filter.MaxAmount)
		argIndex++
	}
	if filter.MaxInterestRate != nil {
		where += fmt.Sprintf(" AND i.recommended_interest_rate <= $%d", argIndex)
		args = append(args, *filter.MaxInterestRate)
		argIndex++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM invoices i` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count listed invoices: %w", err)
	}

	orderColumn := "i.listed_at"
	switch filter.SortBy {
	case "amount":
		orderColumn = "i.amount"
	case "due_date":
		orderColumn = "i.due_date"
	case "interest_rate":
		orderColumn = "i.recommended_interest_rate"
	}
	direction := "DESC"
	if filter.SortOrder == "asc" {
		direction = "ASC"
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices i` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", orderColumn, direction, argIndex, argIndex+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get listed invoices: %w", err)
	}

	return invoices, total, nil
}

func (r *invoiceRepository) GetHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.StatusHistoryEntry, error) {
	var history []models.StatusHistoryEntry
	query := `
		SELECT * FROM invoice_status_history
		WHERE invoice_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &history, query, invoiceID); err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	return history, nil
}

// ============================================================================
// DOCUMENTS
// ============================================================================

func (r *invoiceRepository) AddDocument(ctx context.Context, doc *models.InvoiceDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.UploadedAt = time.Now()

	query := `
		INSERT INTO invoice_documents (id, invoice_id, storage_id, url, file_size, mime_type, is_primary, uploaded_at)
		VALUES (:id, :invoice_id, :storage_id, :url, :file_size, :mime_type, :is_primary, :uploaded_at)`

	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("failed to add invoice document: %w", err)
	}
	return nil
}

func (r *invoiceRepository) GetDocuments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceDocument, error) {
	var docs []models.InvoiceDocument
	query := `SELECT * FROM invoice_documents WHERE invoice_id = $1 ORDER BY uploaded_at ASC`

	if err := r.db.SelectContext(ctx, &docs, query, invoiceID); err != nil {
		return nil, fmt.Errorf("failed to get invoice documents: %w", err)
	}
	return docs, nil
}

func (r *invoiceRepository) GetDocumentByID(ctx context.Context, id uuid.UUID) (*models.InvoiceDocument, error) {
	var doc models.InvoiceDocument
	query := `SELECT * FROM invoice_documents WHERE id = $1`

	err := r.db.GetContext(ctx, &doc, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("document")
		}
		return nil, fmt.Errorf("failed to get invoice document: %w", err)
	}
	return &doc, nil
}

func (r *invoiceRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invoice_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice document: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NewNotFound("document")
	}
	return nil
}

// ============================================================================
// TRANSACTION SUPPORT
// ============================================================================

func (r *invoiceRepository) BeginTransaction() (*sqlx.Tx, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		slog.Error("Failed to begin transaction", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// GetByIDTx reads the invoice inside a transaction with a row lock, so the
// acceptance cascade always evaluates guards against the authoritative row.
func (r *invoiceRepository) GetByIDTx(tx *sqlx.Tx, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices i WHERE i.id = $1 FOR UPDATE OF i`

	err := tx.Get(&invoice, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("invoice")
		}
		return nil, fmt.Errorf("failed to get invoice in transaction: %w", err)
	}
	return &invoice, nil
}

func (r *invoiceRepository) UpdateTx(tx *sqlx.Tx, invoice *models.Invoice) error {
	invoice.UpdatedAt = time.Now()

	if _, err := tx.NamedExec(invoiceUpdate, invoice); err != nil {
		return fmt.Errorf("failed to update invoice in transaction: %w", err)
	}
	return nil
}

func (r *invoiceRepository) AppendHistoryTx(tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	if _, err := tx.NamedExec(historyInsert, entry); err != nil {
		return fmt.Errorf("failed to append status history in transaction: %w", err)
	}
	return nil
}
