package handlers

import (
	"docman/internal/health"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	aggregator *health.Aggregator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(aggregator *health.Aggregator) *HealthHandler {
	return &HealthHandler{aggregator: aggregator}
}

// Handle responds with the aggregated backend health
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	report := h.aggregator.Check(c.Context())

	status := fiber.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status":    report.Status,
		"timestamp": report.CheckedAt,
	})
}

// Detailed responds with per-backend status and latency
// GET /health/detailed
func (h *HealthHandler) Detailed(c *fiber.Ctx) error {
	report := h.aggregator.Check(c.Context())

	status := fiber.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}
