package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs every request under prefix with its final status and
// latency. Handler errors are rendered here so the logged status is the sent one.
func RequestLogger(logger *slog.Logger, prefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		if strings.HasPrefix(c.Path(), prefix) {
			logger.Info("request",
				"method", c.Method(),
				"path", c.Path(),
				"status", c.Response().StatusCode(),
				"latency", time.Since(start))
		}
		return nil
	}
}
