package handlers

import (
	"time"

	"docman/internal/coordinator"

	"github.com/gofiber/fiber/v2"
)

// SearchHandler handles similarity search HTTP requests
type SearchHandler struct {
	coord *coordinator.Coordinator
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(coord *coordinator.Coordinator) *SearchHandler {
	return &SearchHandler{coord: coord}
}

type searchRequest struct {
	QueryVector []float32 `json:"query_vector"`
	DocumentID  string    `json:"document_id"`
	Limit       int       `json:"limit"`
}

// Search runs a session-scoped similarity search
// POST /api/sessions/:id/search
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()
	hits, err := h.coord.SearchChunks(c.Context(), c.Params("id"), req.QueryVector,
		coordinator.VectorFilter{DocumentID: req.DocumentID}, req.Limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"results":        hits,
		"total_results":  len(hits),
		"search_time_ms": time.Since(start).Milliseconds(),
	})
}
