package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/services"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

type OfferHandler struct {
	offerService       *services.OfferService
	acceptanceService  *services.AcceptanceService
	marketplaceService *services.MarketplaceService
}

func NewOfferHandler(
	offerService *services.OfferService,
	acceptanceService *services.AcceptanceService,
	marketplaceService *services.MarketplaceService,
) *OfferHandler {
	return &OfferHandler{
		offerService:       offerService,
		acceptanceService:  acceptanceService,
		marketplaceService: marketplaceService,
	}
}

func (h *OfferHandler) Register(app *fiber.App) {
	api := app.Group("marketplace/api/v1")
	offers := api.Group("/offers")

	// Lender routes
	lenderGroup := offers.Group("/lender")
	lenderGroup.Post("/", h.CreateOffer)                 // POST /offers/lender
	lenderGroup.Post("/:id/withdraw", h.WithdrawOffer)   // POST /offers/lender/:id/withdraw
	lenderGroup.Get("/portfolio", h.GetLenderPortfolio)  // GET  /offers/lender/portfolio

	// Seller routes
	sellerGroup := offers.Group("/seller")
	sellerGroup.Get("/by-invoice/:invoice_id", h.GetOffersForInvoice) // GET  /offers/seller/by-invoice/:invoice_id
	sellerGroup.Post("/:id/accept", h.AcceptOffer)                    // POST /offers/seller/:id/accept
	sellerGroup.Post("/:id/reject", h.RejectOffer)                    // POST /offers/seller/:id/reject

	// Shared
	offers.Get("/:id", h.GetOffer) // GET /offers/:id
}

// ============================================================================
// LENDER HANDLERS
// ============================================================================

func (h *OfferHandler) CreateOffer(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.CreateOfferRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	offer, err := h.offerService.CreateOffer(c.Context(), userID, req)
	if err != nil {
		return respondError(c, "create_offer", err)
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(offer))
}

func (h *OfferHandler) WithdrawOffer(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	offerID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "withdraw_offer", err)
	}

	offer, err := h.offerService.WithdrawOffer(c.Context(), userID, offerID)
	if err != nil {
		return respondError(c, "withdraw_offer", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(offer))
}

func (h *OfferHandler) GetLenderPortfolio(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	portfolio, err := h.marketplaceService.GetLenderPortfolio(c.Context(), userID)
	if err != nil {
		return respondError(c, "get_lender_portfolio", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(portfolio))
}

// ============================================================================
// SELLER HANDLERS
// ============================================================================

func (h *OfferHandler) GetOffersForInvoice(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "invoice_id")
	if err != nil {
		return respondError(c, "get_offers_for_invoice", err)
	}

	offers, err := h.offerService.GetOffersForInvoice(c.Context(), userID, invoiceID)
	if err != nil {
		return respondError(c, "get_offers_for_invoice", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"invoice_id": invoiceID,
		"offers":     offers,
		"count":      len(offers),
	}))
}

func (h *OfferHandler) AcceptOffer(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	offerID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "accept_offer", err)
	}

	var req models.OfferActionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	result, err := h.acceptanceService.AcceptOffer(c.Context(), userID, offerID, req)
	if err != nil {
		return respondError(c, "accept_offer", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

func (h *OfferHandler) RejectOffer(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	offerID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "reject_offer", err)
	}

	var req models.OfferActionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_BODY", "Invalid request body"))
	}

	offer, err := h.offerService.RejectOffer(c.Context(), userID, offerID, req)
	if err != nil {
		return respondError(c, "reject_offer", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(offer))
}

// ============================================================================
// SHARED HANDLERS
// ============================================================================

func (h *OfferHandler) GetOffer(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	offerID, err := parseIDParam(c, "id")
	if err != nil {
		return respondError(c, "get_offer", err)
	}

	offer, err := h.offerService.GetOffer(c.Context(), userID, offerID)
	if err != nil {
		return respondError(c, "get_offer", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(offer))
}
