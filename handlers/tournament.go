package handlers

import (
	"net/url"

	"xp-tournaments/middleware"
	"xp-tournaments/models"
	"xp-tournaments/services"

	"github.com/gofiber/fiber/v2"
)

// TournamentHandler exposes the escrow engine and the ownership registry.
type TournamentHandler struct {
	escrow *services.EscrowService
	owners *services.OwnershipRegistry
}

func NewTournamentHandler(escrow *services.EscrowService, owners *services.OwnershipRegistry) *TournamentHandler {
	return &TournamentHandler{escrow: escrow, owners: owners}
}

func SetupTournamentRoutes(app *fiber.App, h *TournamentHandler) {
	// 🔓 Reads
	app.Get("/tournaments/next-id", h.GetNextID)
	app.Get("/tournaments/:id", h.GetParams)
	app.Get("/tournaments/:id/owner", h.GetOwner)
	app.Get("/tournaments/:id/owner/history", h.GetOwnerHistory)
	app.Get("/tournaments/:id/contributions", h.ListContributions)
	app.Get("/tournaments/:id/contributions/:player", h.GetContribution)
	app.Get("/tournaments/:id/settlement", h.GetSettlement)

	// 🔐 Mutations need a caller address
	caller := middleware.RequireCaller()
	app.Post("/tournaments", caller, h.Create)
	app.Post("/tournaments/:id/contributions", caller, h.Contribute)
	app.Post("/tournaments/:id/start", caller, h.Start)
	app.Post("/tournaments/:id/finish", caller, h.Finish)
	app.Post("/tournaments/:id/owner/transfer", caller, h.TransferOwnership)
}

func (h *TournamentHandler) Create(c *fiber.Ctx) error {
	var in services.CreateTournamentInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := h.escrow.Create(c.UserContext(), in, middleware.Caller(c))
	if err != nil {
		return respondError(c, err)
	}
	params, err := h.escrow.GetParams(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(params)
}

func (h *TournamentHandler) GetNextID(c *fiber.Ctx) error {
	next, err := h.escrow.GetNextID(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"next_id": next})
}

func (h *TournamentHandler) GetParams(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	params, err := h.escrow.GetParams(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(params)
}

func (h *TournamentHandler) GetOwner(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	owner, err := h.escrow.GetOwner(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tournament_id": id, "owner": owner})
}

func (h *TournamentHandler) GetOwnerHistory(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	history, err := h.owners.History(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tournament_id": id, "transfers": history})
}

func (h *TournamentHandler) TransferOwnership(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	var body struct {
		To string `json:"to"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.owners.Transfer(c.UserContext(), id, middleware.Caller(c), body.To); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tournament_id": id, "owner": body.To})
}

func (h *TournamentHandler) ListContributions(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	slots, err := h.escrow.ListContributions(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tournament_id": id, "slots": slots})
}

func (h *TournamentHandler) GetContribution(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	team, ok := models.ParseTeam(c.Query("team"))
	if !ok {
		return badRequest(c, "team must be one or two")
	}
	// Path params arrive still escaped.
	player, err := url.PathUnescape(c.Params("player"))
	if err != nil {
		return badRequest(c, "invalid player id")
	}

	var (
		contributor string
		funded      bool
	)
	if team == models.TeamNone {
		contributor, funded, err = h.escrow.GetContribution(c.UserContext(), id, player)
	} else {
		contributor, funded, err = h.escrow.GetSlotContribution(c.UserContext(), id, team, player)
	}
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{"tournament_id": id, "player_id": player, "contributor": nil}
	if funded {
		resp["contributor"] = contributor
	}
	return c.JSON(resp)
}

func (h *TournamentHandler) Contribute(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	var body struct {
		PlayerID string `json:"player_id"`
		Team     string `json:"team"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	team, ok := models.ParseTeam(body.Team)
	if !ok {
		return badRequest(c, "team must be one or two")
	}

	var err error
	if team == models.TeamNone {
		err = h.escrow.Contribute(c.UserContext(), id, body.PlayerID, middleware.Caller(c))
	} else {
		err = h.escrow.ContributeToSlot(c.UserContext(), id, team, body.PlayerID, middleware.Caller(c))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"tournament_id": id,
		"player_id":     body.PlayerID,
		"contributor":   middleware.Caller(c),
	})
}

func (h *TournamentHandler) Start(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.escrow.Start(c.UserContext(), id, body.Code, middleware.Caller(c)); err != nil {
		return respondError(c, err)
	}
	params, err := h.escrow.GetParams(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(params)
}

func (h *TournamentHandler) Finish(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	var body struct {
		WinningTeam string `json:"winning_team"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	team, ok := models.ParseTeam(body.WinningTeam)
	if !ok {
		return badRequest(c, "winning_team must be one or two")
	}
	settlement, err := h.escrow.Finish(c.UserContext(), id, team, middleware.Caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settlement)
}

func (h *TournamentHandler) GetSettlement(c *fiber.Ctx) error {
	id, ok := tournamentID(c)
	if !ok {
		return badRequest(c, "invalid tournament id")
	}
	settlement, err := h.escrow.GetSettlement(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settlement)
}
