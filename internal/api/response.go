package api

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope every endpoint responds with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code plus human detail.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// RespondData sends a 200 with a data payload.
func RespondData(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{Success: true, Data: data})
}

// RespondMessage sends a 200 with a plain message.
func RespondMessage(c *fiber.Ctx, message string) error {
	return c.JSON(APIResponse{Success: true, Message: message})
}

// RespondNotFound sends a 404 for a missing resource.
func RespondNotFound(c *fiber.Ctx, resource, details string) error {
	return c.Status(fiber.StatusNotFound).JSON(APIResponse{
		Success: false,
		Error:   &APIError{Code: "NOT_FOUND", Message: resource + " not found", Details: details},
	})
}

// RespondInternalError sends a 500.
func RespondInternalError(c *fiber.Ctx, message, details string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
		Success: false,
		Error:   &APIError{Code: "INTERNAL_ERROR", Message: message, Details: details},
	})
}

// RespondServiceUnavailable sends a 503 with a Retry-After hint, used
// while the process is still warming up.
func RespondServiceUnavailable(c *fiber.Ctx, message, details string) error {
	c.Set("Retry-After", "10")
	return c.Status(fiber.StatusServiceUnavailable).JSON(APIResponse{
		Success: false,
		Error:   &APIError{Code: "SERVICE_UNAVAILABLE", Message: message, Details: details},
	})
}
