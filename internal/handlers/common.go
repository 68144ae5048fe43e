package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

// domainErrorStatus maps each business-rule error kind to an HTTP status.
var domainErrorStatus = map[models.ErrorKind]int{
	models.ErrInvalidStateTransition:    http.StatusConflict,
	models.ErrInvoiceNotAvailable:       http.StatusConflict,
	models.ErrFundingTermsNotSet:        http.StatusConflict,
	models.ErrInterestRateMismatch:      http.StatusUnprocessableEntity,
	models.ErrTenureExceedsLimit:        http.StatusUnprocessableEntity,
	models.ErrFundingAmountExceedsLimit: http.StatusUnprocessableEntity,
	models.ErrDuplicateActiveOffer:      http.StatusConflict,
	models.ErrOfferNotActionable:        http.StatusConflict,
	models.ErrNotAuthorized:             http.StatusForbidden,
	models.ErrNotFound:                  http.StatusNotFound,
	models.ErrValidation:                http.StatusBadRequest,
}

// respondError turns a service error into the standard JSON envelope. Domain
// errors keep their kind and structured details; anything else is a 500.
func respondError(c fiber.Ctx, operation string, err error) error {
	var domainErr *models.DomainError
	if errors.As(err, &domainErr) {
		status, ok := domainErrorStatus[domainErr.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		if len(domainErr.Details) > 0 {
			return c.Status(status).JSON(
				utils.CreateErrorResponseWithDetails(string(domainErr.Kind), domainErr.Message, domainErr.Details))
		}
		return c.Status(status).JSON(
			utils.CreateErrorResponse(string(domainErr.Kind), domainErr.Message))
	}

	slog.Error("Request failed", "operation", operation, "error", err)
	return c.Status(http.StatusInternalServerError).JSON(
		utils.CreateErrorResponse("INTERNAL_ERROR", "An internal error occurred"))
}

// requireUser reads the gateway-asserted identity header.
func requireUser(c fiber.Ctx) (string, bool) {
	userID := c.Get("X-User-ID")
	return userID, userID != ""
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(http.StatusUnauthorized).JSON(
		utils.CreateErrorResponse("UNAUTHORIZED", "User ID is required"))
}

func parseIDParam(c fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, models.NewDomainErrorf(models.ErrValidation, "invalid %s", name)
	}
	return id, nil
}
