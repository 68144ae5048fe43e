package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/services"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

type InvoiceHandler struct {
	invoiceService     *services.InvoiceService
	documentService    *services.DocumentService
	marketplaceService *services.MarketplaceService
}

func NewInvoiceHandler(
	invoiceService *services.InvoiceService,
	documentService *services.DocumentService,
	marketplaceService *services.MarketplaceService,
) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService:     invoiceService,
		documentService:    documentService,
		marketplaceService: marketplaceService,
	}
}

func (h *InvoiceHandler) Register(app *fiber.App) {
	api := app.Group("marketplace/api/v1")
	invoices := api.Group("/invoices")

	// ============================================================================
	// SELLER ROUTES
	// ============================================================================

	sellerGroup := invoices.Group("/seller")
	sellerGroup.Post("/", h.CreateInvoice)                        // POST   /invoices/seller
	sellerGroup.Get("/list", h.GetSellerInvoices)                 // GET    /invoices/seller/list
	sellerGroup.Put("/:id", h.UpdateInvoice)                      // PUT    /invoices/seller/:id
	sellerGroup.Delete("/:id", h.DeleteInvoice)                   // DELETE /invoices/seller/:id
	sellerGroup.Post("/:id/submit", h.SubmitInvoice)              // POST   /invoices/seller/:id/submit
	sellerGroup.Post("/:id/documents", h.UploadDocument)          // POST   /invoices/seller/:id/documents
	sellerGroup.Delete("/:id/documents/:doc_id", h.DeleteDocument) // DELETE /invoices/seller/:id/documents/:doc_id

	// ============================================================================
	// ANCHOR ROUTES
	// ============================================================================

	anchorGroup := invoices.Group("/anchor")
	anchorGroup.Get("/queue", h.GetAnchorQueue)     // GET  /invoices/anchor/queue
	anchorGroup.Post("/:id/review", h.AnchorReview) // POST /invoices/anchor/:id/review

	// ============================================================================
	// ADMIN ROUTES
	// ============================================================================

	adminGroup := invoices.Group("/admin")
	adminGroup.Get("/queue", h.GetAdminQueue)             // GET  /invoices/admin/queue
	adminGroup.Post("/:id/review", h.AdminReview)         // POST /invoices/admin/:id/review
	adminGroup.Post("/:id/list", h.ListInvoice)           // POST /invoices/admin/:id/list
	adminGroup.Post("/:id/repayments", h.RecordRepayment) // POST /invoices/admin/:id/repayments
	adminGroup.Post("/:id/settle", h.SettleInvoice)       // POST /invoices/admin/:id/settle

	// ============================================================================
	// SHARED ROUTES
	// ============================================================================

	invoices.Get("/:id", h.GetInvoiceDetail)                    // GET /invoices/:id
	invoices.Get("/:id/history", h.GetHistory)                  // GET /invoices/:id/history
	invoices.Get("/:id/documents", h.GetDocuments)              // GET /invoices/:id/documents
	invoices.Get("/:id/documents/:doc_id/url", h.GetDocumentURL) // GET /invoices/:id/documents/:doc_id/url
}

// ============================================================================
// SELLER HANDLERS
// ============================================================================

func (h *InvoiceHandler) CreateInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.CreateInvoiceRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Context(), userID, req)
	if err != nil {
		return respondError(c, "create_invoice", err)
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) GetSellerInvoices(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	filter := invoiceFilterFromQuery(c)
	page, err := h.marketplaceService.GetSellerInvoices(c.Context(), userID, filter)
	if err != nil {
		return respondError(c, "get_seller_invoices", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(page))
}

func (h *InvoiceHandler) UpdateInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "update_invoice", err)
	}

	var req models.UpdateInvoiceRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	invoice, err := h.invoiceService.UpdateInvoice(c.Context(), userID, invoiceID, req)
	if err != nil {
		return respondError(c, "update_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) DeleteInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "delete_invoice", err)
	}

	if err := h.invoiceService.DeleteInvoice(c.Context(), userID, invoiceID); err != nil {
		return respondError(c, "delete_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"deleted": invoiceID,
	}))
}

func (h *InvoiceHandler) SubmitInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "submit_invoice", err)
	}

	invoice, err := h.invoiceService.SubmitInvoice(c.Context(), userID, invoiceID)
	if err != nil {
		return respondError(c, "submit_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) UploadDocument(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "upload_document", err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "A file upload is required"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Failed to read uploaded file"))
	}
	defer file.Close()

	isPrimary := c.FormValue("is_primary") == "true"
	mimeType := fileHeader.Header.Get("Content-Type")

	doc, err := h.documentService.UploadDocument(c.Context(), userID, invoiceID,
		fileHeader.Filename, file, fileHeader.Size, mimeType, isPrimary)
	if err != nil {
		return respondError(c, "upload_document", err)
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(doc))
}

func (h *InvoiceHandler) DeleteDocument(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "delete_document", err)
	}
	docID, err := parseIDParam(c, "doc_id")
	if err != nil {
		return respondError(c, "delete_document", err)
	}

	if err := h.documentService.DeleteDocument(c.Context(), userID, invoiceID, docID); err != nil {
		return respondError(c, "delete_document", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"deleted": docID,
	}))
}

// ============================================================================
// ANCHOR HANDLERS
// ============================================================================

func (h *InvoiceHandler) GetAnchorQueue(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	filter := invoiceFilterFromQuery(c)
	page, err := h.marketplaceService.GetAnchorQueue(c.Context(), userID, filter)
	if err != nil {
		return respondError(c, "get_anchor_queue", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(page))
}

func (h *InvoiceHandler) AnchorReview(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "anchor_review", err)
	}

	var req models.ReviewRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	invoice, err := h.invoiceService.AnchorReview(c.Context(), userID, invoiceID, req)
	if err != nil {
		return respondError(c, "anchor_review", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

// ============================================================================
// ADMIN HANDLERS
// ============================================================================

func (h *InvoiceHandler) GetAdminQueue(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}

	filter := invoiceFilterFromQuery(c)
	page, err := h.marketplaceService.GetAdminQueue(c.Context(), filter)
	if err != nil {
		return respondError(c, "get_admin_queue", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(page))
}

func (h *InvoiceHandler) AdminReview(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "admin_review", err)
	}

	var req models.ReviewRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	invoice, err := h.invoiceService.AdminReview(c.Context(), userID, invoiceID, req)
	if err != nil {
		return respondError(c, "admin_review", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) ListInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "list_invoice", err)
	}

	invoice, err := h.invoiceService.ListInvoice(c.Context(), userID, invoiceID)
	if err != nil {
		return respondError(c, "list_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) RecordRepayment(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "record_repayment", err)
	}

	var req models.RepaymentRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	invoice, err := h.invoiceService.RecordRepayment(c.Context(), userID, invoiceID, req)
	if err != nil {
		return respondError(c, "record_repayment", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

func (h *InvoiceHandler) SettleInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "settle_invoice", err)
	}

	invoice, err := h.invoiceService.SettleInvoice(c.Context(), userID, invoiceID)
	if err != nil {
		return respondError(c, "settle_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(invoice))
}

// ============================================================================
// SHARED HANDLERS
// ============================================================================

func (h *InvoiceHandler) GetInvoiceDetail(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "get_invoice_detail", err)
	}

	detail, err := h.marketplaceService.GetInvoiceDetail(c.Context(), invoiceID)
	if err != nil {
		return respondError(c, "get_invoice_detail", err)
	}
	h.marketplaceService.RecordView(c.Context(), invoiceID)

	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(detail))
}

func (h *InvoiceHandler) GetHistory(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "get_history", err)
	}

	history, err := h.invoiceService.GetHistory(c.Context(), invoiceID)
	if err != nil {
		return respondError(c, "get_history", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"invoice_id": invoiceID,
		"history":    history,
	}))
}

func (h *InvoiceHandler) GetDocuments(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "get_documents", err)
	}

	docs, err := h.documentService.GetDocuments(c.Context(), invoiceID)
	if err != nil {
		return respondError(c, "get_documents", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"invoice_id": invoiceID,
		"documents":  docs,
	}))
}

func (h *InvoiceHandler) GetDocumentURL(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "get_document_url", err)
	}
	docID, err := parseIDParam(c, "doc_id")
	if err != nil {
		return respondError(c, "get_document_url", err)
	}

	url, err := h.documentService.GetDocumentURL(c.Context(), invoiceID, docID)
	if err != nil {
		return respondError(c, "get_document_url", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"url": url,
	}))
}

// invoiceFilterFromQuery builds a filter from common query params.
func invoiceFilterFromQuery(c fiber.Ctx) models.InvoiceFilter {
	filter := models.InvoiceFilter{
		Currency: c.Query("currency"),
	}
	if statusParam := c.Query("status"); statusParam != "" {
		status := models.InvoiceStatus(statusParam)
		if models.IsValidInvoiceStatus(status) {
			filter.Status = &status
		}
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		filter.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("page_size")); err == nil {
		filter.PageSize = pageSize
	}
	return filter
}
