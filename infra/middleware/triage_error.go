package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
	"triage_server/pkg/response"
)

// ErrorHandler maps application errors onto the response envelope.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			if appErr.Status >= 500 {
				logger.WithError(err).Error("request failed: %s %s", c.Method(), c.Path())
			}
			return response.Error(c, appErr.Status, appErr.Code, appErr.Message)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return response.Error(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message)
		}

		logger.WithError(err).Error("unhandled error: %s %s", c.Method(), c.Path())
		return response.InternalError(c, "internal server error")
	}
}
