package handlers

import (
	"log"
	"strconv"

	"xp-tournaments/services"

	"github.com/gofiber/fiber/v2"
)

var statusByCode = map[string]int{
	"invalid_argument":    fiber.StatusBadRequest,
	"unknown_player":      fiber.StatusBadRequest,
	"unauthorized":        fiber.StatusForbidden,
	"not_found":           fiber.StatusNotFound,
	"invalid_state":       fiber.StatusConflict,
	"already_contributed": fiber.StatusConflict,
	"transfer_failed":     fiber.StatusPaymentRequired,
}

// respondError maps engine errors to a status and a {"error","code"} body.
func respondError(c *fiber.Ctx, err error) error {
	code := services.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		log.Printf("❌ %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"code":  code,
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "invalid_argument",
	})
}

func tournamentID(c *fiber.Ctx) (uint64, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	return id, err == nil
}
