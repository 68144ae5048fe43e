package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/cache"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/minio"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
)

const documentURLExpiry = 15 * time.Minute

// DocumentService manages invoice attachments. Files live in private object
// storage; the database holds the reference row and access goes through
// short-lived presigned URLs.
type DocumentService struct {
	invoiceRepo repository.InvoiceRepository
	minioClient *minio.MinioClient
	cache       cache.Cache
}

func NewDocumentService(invoiceRepo repository.InvoiceRepository, minioClient *minio.MinioClient, cacheClient cache.Cache) *DocumentService {
	return &DocumentService{
		invoiceRepo: invoiceRepo,
		minioClient: minioClient,
		cache:       cacheClient,
	}
}

// UploadDocument attaches a document to one of the seller's editable
// invoices. The first primary document satisfies the submission guard.
func (s *DocumentService) UploadDocument(ctx context.Context, sellerID string, invoiceID uuid.UUID, filename string, reader io.Reader, size int64, mimeType string, isPrimary bool) (*models.InvoiceDocument, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.SellerID != sellerID {
		return nil, models.NewNotAuthorized("invoice does not belong to this seller")
	}
	if !invoice.CanBeEdited() {
		return nil, models.NewDomainErrorf(models.ErrInvalidStateTransition,
			"documents cannot be added to an invoice in status %s", invoice.Status)
	}
	if size <= 0 {
		return nil, models.NewDomainError(models.ErrValidation, "file is empty")
	}

	docID := uuid.New()
	objectName := fmt.Sprintf("%s/%s-%s", invoiceID, docID, filename)
	if err := s.minioClient.UploadFile(ctx, minio.Storage.InvoiceDocuments, objectName, reader, size, mimeType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc := &models.InvoiceDocument{
		ID:        docID,
		InvoiceID: invoiceID,
		StorageID: objectName,
		URL:       fmt.Sprintf("%s/%s", minio.Storage.InvoiceDocuments, objectName),
		FileSize:  size,
		MimeType:  mimeType,
		IsPrimary: isPrimary,
	}
	if err := s.invoiceRepo.AddDocument(ctx, doc); err != nil {
		// The object row failed; drop the orphaned file.
		if delErr := s.minioClient.DeleteFile(ctx, minio.Storage.InvoiceDocuments, objectName); delErr != nil {
			slog.Warn("Failed to remove orphaned document object", "object", objectName, "error", delErr)
		}
		return nil, err
	}

	if err := s.cache.DeletePattern(ctx, cache.InvoiceScopePattern(invoiceID)); err != nil {
		slog.Warn("Cache invalidation failed", "invoice_id", invoiceID, "error", err)
	}

	slog.Info("Document uploaded", "invoice_id", invoiceID, "document_id", doc.ID, "primary", isPrimary)
	return doc, nil
}

// GetDocuments lists an invoice's attachments.
func (s *DocumentService) GetDocuments(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceDocument, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoiceRepo.GetDocuments(ctx, invoiceID)
}

// GetDocumentURL returns a short-lived presigned download URL.
func (s *DocumentService) GetDocumentURL(ctx context.Context, invoiceID, documentID uuid.UUID) (string, error) {
	doc, err := s.invoiceRepo.GetDocumentByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc.InvoiceID != invoiceID {
		return "", models.NewNotFound("document")
	}

	url, err := s.minioClient.GetPresignedURL(ctx, minio.Storage.InvoiceDocuments, doc.StorageID, documentURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign document: %w", err)
	}
	return url, nil
}

// DeleteDocument removes an attachment from an editable invoice.
func (s *DocumentService) DeleteDocument(ctx context.Context, sellerID string, invoiceID, documentID uuid.UUID) error {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.SellerID != sellerID {
		return models.NewNotAuthorized("invoice does not belong to this seller")
	}
	if !invoice.CanBeEdited() {
		return models.NewDomainErrorf(models.ErrInvalidStateTransition,
			"documents cannot be removed from an invoice in status %s", invoice.Status)
	}

	doc, err := s.invoiceRepo.GetDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.InvoiceID != invoiceID {
		return models.NewNotFound("document")
	}

	if err := s.invoiceRepo.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.minioClient.DeleteFile(ctx, minio.Storage.InvoiceDocuments, doc.StorageID); err != nil {
		slog.Warn("Failed to delete document object", "object", doc.StorageID, "error", err)
	}

	if err := s.cache.DeletePattern(ctx, cache.InvoiceScopePattern(invoiceID)); err != nil {
		slog.Warn("Cache invalidation failed", "invoice_id", invoiceID, "error", err)
	}
	return nil
}
