package handlers

import (
	"docman/internal/coordinator"

	"github.com/gofiber/fiber/v2"
)

// respondError maps a coordinator error to a stable HTTP shape. Backend
// error details never reach the response body.
func respondError(c *fiber.Ctx, err error) error {
	kind := coordinator.KindOf(err)
	status := fiber.StatusInternalServerError
	switch kind {
	case coordinator.KindNotFound:
		status = fiber.StatusNotFound
	case coordinator.KindConflict:
		status = fiber.StatusConflict
	case coordinator.KindSessionInactive:
		status = fiber.StatusUnprocessableEntity
	case coordinator.KindInvalid:
		status = fiber.StatusBadRequest
	case coordinator.KindBackendUnavailable:
		status = fiber.StatusServiceUnavailable
	case coordinator.KindPartialFailure:
		status = fiber.StatusInternalServerError
	}

	message := "internal error"
	if kind != "" {
		message = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"error":      true,
		"error_code": string(kind),
		"message":    message,
	})
}
