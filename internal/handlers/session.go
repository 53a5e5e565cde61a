package handlers

import (
	"time"

	"docman/internal/coordinator"
	"docman/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	coord *coordinator.Coordinator
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(coord *coordinator.Coordinator) *SessionHandler {
	return &SessionHandler{coord: coord}
}

type createSessionRequest struct {
	UserID         string         `json:"user_id"`
	ExpiresInHours int            `json:"expires_in_hours"`
	Metadata       map[string]any `json:"metadata"`
}

// Create registers a new session
// POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ExpiresInHours <= 0 {
		req.ExpiresInHours = 24
	}
	if req.ExpiresInHours > 168 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "expires_in_hours must be between 1 and 168",
		})
	}

	session, err := h.coord.CreateSession(c.Context(), req.UserID,
		time.Now().UTC().Add(time.Duration(req.ExpiresInHours)*time.Hour), req.Metadata)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// Get returns a session by id
// GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.coord.GetSession(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

type updateSessionRequest struct {
	Metadata    map[string]any `json:"metadata"`
	ExtendHours int            `json:"extend_hours"`
}

// Update merges metadata and optionally extends the expiry
// PATCH /api/sessions/:id
func (h *SessionHandler) Update(c *fiber.Ctx) error {
	var req updateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ExtendHours < 0 || req.ExtendHours > 168 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "extend_hours must be between 0 and 168",
		})
	}

	session, err := h.coord.UpdateSession(c.Context(), c.Params("id"),
		req.Metadata, time.Duration(req.ExtendHours)*time.Hour)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// Finalize transitions the session to its terminal finalized state
// POST /api/sessions/:id/finalize
func (h *SessionHandler) Finalize(c *fiber.Ctx) error {
	session, err := h.coord.FinalizeSession(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// Delete removes the session and everything it owns
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	err := h.coord.DeleteSession(c.Context(), c.Params("id"))
	if err != nil && !coordinator.IsKind(err, coordinator.KindPartialFailure) {
		return respondError(c, err)
	}

	status := "deleted"
	if err != nil {
		// Metadata rows are gone; leftover artifacts converge via reconciliation
		status = "deleted_pending_reconciliation"
	}
	return c.JSON(fiber.Map{"status": status})
}

// ListByUser returns a user's sessions with pagination
// GET /api/users/:id/sessions
func (h *SessionHandler) ListByUser(c *fiber.Ctx) error {
	filter := coordinator.SessionFilter{
		UserID: c.Params("id"),
		Status: models.SessionStatus(c.Query("status")),
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status filter",
		})
	}

	sessions, total, err := h.coord.ListSessions(c.Context(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}
