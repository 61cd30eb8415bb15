package api

import (
	"github.com/gofiber/fiber/v2"
)

// DocumentLister reports the documents waiting in the source directory.
type DocumentLister interface {
	Documents() ([]string, error)
}

type CheckHandler struct {
	docs DocumentLister
}

func NewCheckHandler(docs DocumentLister) *CheckHandler {
	return &CheckHandler{docs: docs}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady answers 503 while the source directory cannot be listed.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	files, err := h.docs.Documents()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(Error{
			Code:    fiber.StatusServiceUnavailable,
			Message: "source directory unavailable",
		})
	}
	return c.JSON(fiber.Map{"result": "ok", "pending": len(files)})
}
