package handlers

import (
	"docman/internal/coordinator"
	"docman/internal/jobs"

	"github.com/gofiber/fiber/v2"
)

// ManagementHandler exposes the admin projections and on-demand triggers
// for the background passes
type ManagementHandler struct {
	coord     *coordinator.Coordinator
	scheduler *jobs.Scheduler
}

// NewManagementHandler creates a new management handler
func NewManagementHandler(coord *coordinator.Coordinator, scheduler *jobs.Scheduler) *ManagementHandler {
	return &ManagementHandler{coord: coord, scheduler: scheduler}
}

// Stats returns aggregate system statistics
// GET /api/admin/stats
func (h *ManagementHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.coord.SystemStats(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// Sweep triggers an expiration sweep immediately
// POST /api/admin/sweep
func (h *ManagementHandler) Sweep(c *fiber.Ctx) error {
	summary, err := h.coord.SweepExpired(c.Context(), c.QueryInt("batch_size", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// Reconcile triggers a reconciliation pass immediately
// POST /api/admin/reconcile
func (h *ManagementHandler) Reconcile(c *fiber.Ctx) error {
	summary, err := h.coord.Reconcile(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// RunJob triggers a registered background job by name
// POST /api/admin/jobs/:name/run
func (h *ManagementHandler) RunJob(c *fiber.Ctx) error {
	if err := h.scheduler.RunNow(c.Context(), c.Params("name")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "completed"})
}
