package handlers

import (
	"docman/internal/coordinator"

	"github.com/gofiber/fiber/v2"
)

// ChunkHandler handles chunk upsert, listing and deletion HTTP requests
type ChunkHandler struct {
	coord *coordinator.Coordinator
}

// NewChunkHandler creates a new chunk handler
func NewChunkHandler(coord *coordinator.Coordinator) *ChunkHandler {
	return &ChunkHandler{coord: coord}
}

type chunkSpecRequest struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

type upsertChunksRequest struct {
	Chunks []chunkSpecRequest `json:"chunks"`
}

// Upsert inserts chunks for a document in input order
// POST /api/documents/:id/chunks
func (h *ChunkHandler) Upsert(c *fiber.Ctx) error {
	var req upsertChunksRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	specs := make([]coordinator.ChunkSpec, len(req.Chunks))
	for i, ch := range req.Chunks {
		specs[i] = coordinator.ChunkSpec{Text: ch.Text, Embedding: ch.Embedding}
	}

	chunks, err := h.coord.UpsertChunks(c.Context(), c.Params("id"), specs)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

// List returns a document's chunks in sequence order
// GET /api/documents/:id/chunks
func (h *ChunkHandler) List(c *fiber.Ctx) error {
	chunks, err := h.coord.ListChunks(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

type deleteChunksRequest struct {
	ChunkIDs []string `json:"chunk_ids"`
}

// Delete removes a document's chunks, all of them or a named id set
// DELETE /api/documents/:id/chunks
func (h *ChunkHandler) Delete(c *fiber.Ctx) error {
	var req deleteChunksRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	deleted, err := h.coord.DeleteChunks(c.Context(), c.Params("id"), req.ChunkIDs)
	if err != nil && !coordinator.IsKind(err, coordinator.KindPartialFailure) {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}
