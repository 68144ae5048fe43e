package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/shopspring/decimal"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/services"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

type MarketplaceHandler struct {
	marketplaceService *services.MarketplaceService
}

func NewMarketplaceHandler(marketplaceService *services.MarketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{marketplaceService: marketplaceService}
}

func (h *MarketplaceHandler) Register(app *fiber.App) {
	api := app.Group("marketplace/api/v1")

	browse := api.Group("/browse")
	browse.Get("/", h.Browse)                                      // GET /browse
	browse.Get("/trending", h.GetTrending)                         // GET /browse/trending
	browse.Get("/:invoice_id/analysis", h.GetCompetitiveAnalysis)  // GET /browse/:invoice_id/analysis
}

// Browse serves the lender marketplace over LISTED invoices.
func (h *MarketplaceHandler) Browse(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}

	filter := marketplaceFilterFromQuery(c)
	page, err := h.marketplaceService.BrowseMarketplace(c.Context(), filter)
	if err != nil {
		return respondError(c, "browse_marketplace", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(page))
}

func (h *MarketplaceHandler) GetTrending(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return unauthorized(c)
	}

	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	trending, err := h.marketplaceService.GetTrending(c.Context(), limit)
	if err != nil {
		return respondError(c, "get_trending", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"trending": trending,
		"count":    len(trending),
	}))
}

func (h *MarketplaceHandler) GetCompetitiveAnalysis(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}
	invoiceID, err := parseIDParam(c, "invoice_id")
	if err != nil {
		return respondError(c, "get_competitive_analysis", err)
	}

	analysis, err := h.marketplaceService.GetCompetitiveAnalysis(c.Context(), invoiceID, userID)
	if err != nil {
		return respondError(c, "get_competitive_analysis", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(analysis))
}

func marketplaceFilterFromQuery(c fiber.Ctx) models.MarketplaceFilter {
	filter := models.MarketplaceFilter{
		Currency:  c.Query("currency"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("min_amount"); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			filter.MinAmount = &amount
		}
	}
	if raw := c.Query("max_amount"); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			filter.MaxAmount = &amount
		}
	}
	if raw := c.Query("max_interest_rate"); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil {
			filter.MaxInterestRate = &rate
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
