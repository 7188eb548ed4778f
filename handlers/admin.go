package handlers

import (
	"time"

	"xp-tournaments/middleware"
	"xp-tournaments/services"

	"github.com/gofiber/fiber/v2"
)

// AdminRole is the Gateway role allowed to mint and audit.
const AdminRole = "admin"

// AuditReport is the latest result of the background custody audit.
type AuditReport interface {
	LastDiscrepancies() []services.CustodyDiscrepancy
	LastRun() time.Time
}

type AdminHandler struct {
	ledger  *services.TokenLedger
	auditor *services.CustodyAuditor
	report  AuditReport
}

func NewAdminHandler(ledger *services.TokenLedger, auditor *services.CustodyAuditor, report AuditReport) *AdminHandler {
	return &AdminHandler{ledger: ledger, auditor: auditor, report: report}
}

func SetupAdminRoutes(app *fiber.App, h *AdminHandler) {
	admin := app.Group("/admin", middleware.RequireCaller(), middleware.RequireRole(AdminRole))
	admin.Post("/tokens/:token/mint", h.Mint)
	admin.Get("/custody/audit", h.AuditCustody)
	admin.Get("/custody/audit/latest", h.LatestAudit)
}

func (h *AdminHandler) Mint(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token := c.Params("token")
	memo := "minted by " + middleware.Caller(c)
	if err := h.ledger.WithContext(c.UserContext()).Mint(nil, token, req.To, req.Amount, memo); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token, "to": req.To, "amount": req.Amount})
}

func (h *AdminHandler) AuditCustody(c *fiber.Ctx) error {
	found, err := h.auditor.Audit(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": len(found) == 0, "discrepancies": found})
}

// LatestAudit serves what the background worker found on its last run
// without querying the ledger again.
func (h *AdminHandler) LatestAudit(c *fiber.Ctx) error {
	checked := h.report.LastRun()
	if checked.IsZero() {
		return c.JSON(fiber.Map{"checked_at": nil, "discrepancies": []services.CustodyDiscrepancy{}})
	}
	found := h.report.LastDiscrepancies()
	return c.JSON(fiber.Map{"ok": len(found) == 0, "checked_at": checked, "discrepancies": found})
}
