package handlers

import (
	"xp-tournaments/middleware"
	"xp-tournaments/services"

	"github.com/gofiber/fiber/v2"
)

// TokenHandler exposes the fungible token ledger contributors fund from.
type TokenHandler struct {
	ledger *services.TokenLedger
}

func NewTokenHandler(ledger *services.TokenLedger) *TokenHandler {
	return &TokenHandler{ledger: ledger}
}

type amountRequest struct {
	To      string `json:"to"`
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

func SetupTokenRoutes(app *fiber.App, h *TokenHandler) {
	app.Get("/tokens/:token/balances/:account", h.BalanceOf)
	app.Get("/tokens/:token/allowances/:owner/:spender", h.Allowance)
	app.Get("/tokens/:token/supply", h.TotalSupply)

	caller := middleware.RequireCaller()
	app.Get("/tokens/:token/entries", caller, h.Entries)
	app.Post("/tokens/:token/approve", caller, h.Approve)
	app.Post("/tokens/:token/transfer", caller, h.Transfer)
}

func (h *TokenHandler) BalanceOf(c *fiber.Ctx) error {
	token, account := c.Params("token"), c.Params("account")
	bal, err := h.ledger.WithContext(c.UserContext()).BalanceOf(nil, token, account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "account": account, "balance": bal})
}

func (h *TokenHandler) Allowance(c *fiber.Ctx) error {
	token, owner, spender := c.Params("token"), c.Params("owner"), c.Params("spender")
	amount, err := h.ledger.WithContext(c.UserContext()).Allowance(nil, token, owner, spender)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "owner": owner, "spender": spender, "allowance": amount})
}

func (h *TokenHandler) TotalSupply(c *fiber.Ctx) error {
	token := c.Params("token")
	supply, err := h.ledger.WithContext(c.UserContext()).TotalSupply(nil, token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "total_supply": supply})
}

// Entries lists the caller's own journal.
func (h *TokenHandler) Entries(c *fiber.Ctx) error {
	token := c.Params("token")
	entries, err := h.ledger.WithContext(c.UserContext()).Entries(nil, token, middleware.Caller(c), c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "entries": entries})
}

// Approve sets the allowance the caller grants to spender.
func (h *TokenHandler) Approve(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token := c.Params("token")
	if err := h.ledger.WithContext(c.UserContext()).Approve(nil, token, middleware.Caller(c), req.Spender, req.Amount); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "owner": middleware.Caller(c), "spender": req.Spender, "allowance": req.Amount})
}

func (h *TokenHandler) Transfer(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token := c.Params("token")
	if err := h.ledger.WithContext(c.UserContext()).Transfer(nil, token, middleware.Caller(c), req.To, req.Amount, "transfer"); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "from": middleware.Caller(c), "to": req.To, "amount": req.Amount})
}
