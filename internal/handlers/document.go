package handlers

import (
	"io"

	"docman/internal/coordinator"

	"github.com/gofiber/fiber/v2"
)

// DocumentHandler handles document ingest and retrieval HTTP requests
type DocumentHandler struct {
	coord *coordinator.Coordinator
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(coord *coordinator.Coordinator) *DocumentHandler {
	return &DocumentHandler{coord: coord}
}

// Upload ingests a multipart file into a session
// POST /api/sessions/:id/documents
func (h *DocumentHandler) Upload(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Multipart field 'file' is required",
		})
	}
	if fileHeader.Size > coordinator.MaxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "File exceeds maximum upload size",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	doc, err := h.coord.IngestDocument(c.Context(), sessionID, data, fileHeader.Filename, mimeType)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// Get returns document metadata
// GET /api/documents/:id
func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	doc, err := h.coord.GetDocument(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(doc)
}

// Download streams the raw document bytes
// GET /api/documents/:id/content
func (h *DocumentHandler) Download(c *fiber.Ctx) error {
	doc, data, err := h.coord.GetDocumentContent(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, doc.MimeType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+doc.Filename+`"`)
	return c.Send(data)
}

type updateDocumentRequest struct {
	Metadata map[string]any `json:"metadata"`
}

// UpdateMetadata merges metadata into a document
// PATCH /api/documents/:id
func (h *DocumentHandler) UpdateMetadata(c *fiber.Ctx) error {
	var req updateDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	doc, err := h.coord.UpdateDocumentMetadata(c.Context(), c.Params("id"), req.Metadata)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(doc)
}

// Delete removes a document together with its chunks and vectors
// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	err := h.coord.DeleteDocument(c.Context(), c.Params("id"))
	if err != nil && !coordinator.IsKind(err, coordinator.KindPartialFailure) {
		return respondError(c, err)
	}
	status := "deleted"
	if err != nil {
		status = "deleted_pending_reconciliation"
	}
	return c.JSON(fiber.Map{
		"document_id": c.Params("id"),
		"status":      status,
	})
}

// List returns a session's documents with pagination
// GET /api/sessions/:id/documents
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	docs, total, err := h.coord.ListDocuments(c.Context(), c.Params("id"),
		c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"documents": docs,
		"total":     total,
	})
}
