package main

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

func wrapHandler(h interface{}) fiber.Handler {
	switch v := h.(type) {
	case func(*fiber.Ctx) error:
		return v
	case func(*fiber.Ctx):
		return func(c *fiber.Ctx) error {
			v(c)
			return nil
		}
	default:
		return func(c *fiber.Ctx) error {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "invalid_handler", "message": "unsupported handler type"})
		}
	}
}
