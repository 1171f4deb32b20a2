package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/kb"
)

const defaultFilterLimit = 50

type kbHandler struct {
	kb *kb.Browser
}

func (h *kbHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/filter", h.Filter)
	r.Get("/stats", h.Stats)
}

// Filter serves GET /kb/filter?q=&type=&limit= from the browse cache.
func (h *kbHandler) Filter(c *fiber.Ctx) error {
	codeType, err := codes.ParseFilterType(c.Query("type"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	limit := c.QueryInt("limit", defaultFilterLimit)
	if limit <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be positive")
	}

	res, err := h.kb.Filter(c.UserContext(), c.Query("q"), codeType, limit)
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success filter codes", res))
}

func (h *kbHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.kb.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(successResponse("Success get knowledge base stats", stats))
}
