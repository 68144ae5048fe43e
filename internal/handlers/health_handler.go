package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/postgres"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/database/redis"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/event"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/services"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/utils"
)

type HealthHandler struct {
	expirationService *services.OfferExpirationService
	redisClient       *redis.Client
	rabbitConn        *event.RabbitMQConnection
	publisher         *event.NotificationPublisher
}

func NewHealthHandler(expirationService *services.OfferExpirationService, redisClient *redis.Client, rabbitConn *event.RabbitMQConnection, publisher *event.NotificationPublisher) *HealthHandler {
	return &HealthHandler{
		expirationService: expirationService,
		redisClient:       redisClient,
		rabbitConn:        rabbitConn,
		publisher:         publisher,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("marketplace/api/v1/health", h.Health)
}

func (h *HealthHandler) Health(c fiber.Ctx) error {
	components := map[string]string{
		"database":     "up",
		"redis":        "up",
		"rabbitmq":     "up",
		"expiry_sweep": "up",
	}
	healthy := true

	if !postgres.DBStatus {
		components["database"] = "down"
		healthy = false
	}

	if h.redisClient != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.redisClient.GetClient().Ping(pingCtx).Err(); err != nil {
			components["redis"] = "down"
			healthy = false
		}
		cancel()
	}

	if h.rabbitConn == nil || h.rabbitConn.Connection == nil || h.rabbitConn.Connection.IsClosed() {
		components["rabbitmq"] = "down"
		healthy = false
	}

	if err := h.expirationService.HealthCheck(); err != nil {
		components["expiry_sweep"] = err.Error()
		healthy = false
	}

	stats := h.expirationService.GetStats()
	body := map[string]any{
		"components": components,
		"sweep": map[string]any{
			"total_swept":    stats.TotalSwept,
			"failed_sweeps":  stats.FailedSweeps,
			"last_processed": stats.LastProcessed,
		},
	}
	if h.publisher != nil {
		published, failed, lastPublish := h.publisher.Stats()
		body["notifications"] = map[string]any{
			"published":    published,
			"failed":       failed,
			"last_publish": lastPublish,
		}
	}

	if !healthy {
		return c.Status(http.StatusServiceUnavailable).JSON(
			utils.CreateErrorResponseWithDetails("UNHEALTHY", "One or more components are degraded", body))
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(body))
}
