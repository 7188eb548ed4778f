package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"xp-tournaments/models"
	"xp-tournaments/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("xp-tournaments/services")

// CreateTournamentInput carries the immutable terms of a new tournament.
type CreateTournamentInput struct {
	Name               string      `json:"name"`
	Game               models.Game `json:"game"`
	TeamOne            []string    `json:"team_one"`
	TeamTwo            []string    `json:"team_two"`
	ContributionAmount uint64      `json:"contribution_amount"`
	FundingToken       string      `json:"funding_token"`
}

// EscrowService owns tournament state, custodies contributions on the
// funding ledger and settles the pool when a tournament finishes.
//
// Mutations of one tournament are serialised twice: by an in-process lock
// keyed on the id and by a row lock on the tournament inside the database
// transaction, so several replicas can share one database.
type EscrowService struct {
	DB          *gorm.DB
	Ledger      FundingLedger
	Owners      OwnerRegistry
	Adjudicator Adjudicator

	// Address spends the allowances contributors grant and prefixes every
	// custody account.
	Address string

	tokens map[string]struct{}
	locks  *keyedLocker
}

// NewEscrowService wires the engine. An empty fundingTokens list accepts any
// token symbol. A ledger with ReserveAccounts gets the custody namespace
// reserved so only the engine moves pooled funds.
func NewEscrowService(db *gorm.DB, ledger FundingLedger, owners OwnerRegistry, address string, fundingTokens []string) *EscrowService {
	tokens := make(map[string]struct{}, len(fundingTokens))
	for _, t := range fundingTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens[t] = struct{}{}
		}
	}
	if r, ok := ledger.(interface{ ReserveAccounts(string) }); ok {
		r.ReserveAccounts(address)
	}
	return &EscrowService{
		DB:          db,
		Ledger:      ledger,
		Owners:      owners,
		Adjudicator: DeclaredOutcome{},
		Address:     address,
		tokens:      tokens,
		locks:       newKeyedLocker(),
	}
}

// CustodyAccount is the ledger account holding the pool of one tournament.
func (s *EscrowService) CustodyAccount(id uint64) string {
	return fmt.Sprintf("%s/tournament/%d", s.Address, id)
}

// AcceptsToken reports whether token may fund new tournaments.
func (s *EscrowService) AcceptsToken(token string) bool {
	if len(s.tokens) == 0 {
		return true
	}
	_, ok := s.tokens[token]
	return ok
}

// Create registers a tournament and mints its ownership token to creator.
func (s *EscrowService) Create(ctx context.Context, in CreateTournamentInput, creator string) (id uint64, err error) {
	ctx, span := tracer.Start(ctx, "escrow.Create")
	defer func() { endSpan(span, err) }()

	in, creator, err = s.validateCreate(in, creator)
	if err != nil {
		return 0, err
	}

	unlock := s.locks.Lock("create")
	defer unlock()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := allocateID(tx)
		if err != nil {
			return err
		}
		id = next

		t := models.Tournament{
			ID:                 id,
			Slug:               utils.TournamentSlug(in.Name, id),
			Name:               in.Name,
			Game:               in.Game,
			ContributionAmount: in.ContributionAmount,
			FundingToken:       in.FundingToken,
			Creator:            creator,
			State:              models.StateCreated,
			Winner:             models.TeamNone,
		}
		if err := tx.Create(&t).Error; err != nil {
			return fmt.Errorf("insert tournament: %w", err)
		}

		slots := make([]models.RosterSlot, 0, len(in.TeamOne)+len(in.TeamTwo))
		for i, p := range in.TeamOne {
			slots = append(slots, models.RosterSlot{TournamentID: id, Team: models.TeamOne, PlayerID: p, Position: i})
		}
		for i, p := range in.TeamTwo {
			slots = append(slots, models.RosterSlot{TournamentID: id, Team: models.TeamTwo, PlayerID: p, Position: i})
		}
		if err := tx.Create(&slots).Error; err != nil {
			return fmt.Errorf("insert roster slots: %w", err)
		}

		return s.Owners.Mint(tx, id, creator)
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("tournament.id", int64(id)))
	log.Printf("🏁 [ESCROW] tournament %d %q created by %s (%d vs %d players, %d %s per slot)",
		id, in.Name, creator, len(in.TeamOne), len(in.TeamTwo), in.ContributionAmount, in.FundingToken)
	return id, nil
}

func (s *EscrowService) validateCreate(in CreateTournamentInput, creator string) (CreateTournamentInput, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.FundingToken = strings.TrimSpace(in.FundingToken)
	creator = strings.TrimSpace(creator)

	if in.Name == "" {
		return in, creator, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if !in.Game.Valid() {
		return in, creator, fmt.Errorf("%w: unsupported game %d", ErrInvalidArgument, in.Game)
	}
	if in.ContributionAmount == 0 {
		return in, creator, fmt.Errorf("%w: contribution amount must be positive", ErrInvalidArgument)
	}
	if in.FundingToken == "" {
		return in, creator, fmt.Errorf("%w: funding token is required", ErrInvalidArgument)
	}
	if !s.AcceptsToken(in.FundingToken) {
		return in, creator, fmt.Errorf("%w: funding token %q is not accepted", ErrInvalidArgument, in.FundingToken)
	}
	if creator == "" {
		return in, creator, fmt.Errorf("%w: creator is required", ErrInvalidArgument)
	}

	var err error
	if in.TeamOne, err = normalizeRoster(models.TeamOne, in.TeamOne); err != nil {
		return in, creator, err
	}
	if in.TeamTwo, err = normalizeRoster(models.TeamTwo, in.TeamTwo); err != nil {
		return in, creator, err
	}
	if _, err := mulAmount(in.ContributionAmount, uint64(len(in.TeamOne)+len(in.TeamTwo))); err != nil {
		return in, creator, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return in, creator, nil
}

// normalizeRoster rejects empty rosters and players listed twice on the same
// roster. The same player may appear on both rosters.
func normalizeRoster(team models.Team, players []string) ([]string, error) {
	if len(players) == 0 {
		return nil, fmt.Errorf("%w: %s roster is empty", ErrInvalidArgument, team)
	}
	seen := make(map[string]struct{}, len(players))
	out := make([]string, 0, len(players))
	for _, raw := range players {
		p := utils.NormalizePlayerID(raw)
		if err := utils.ValidatePlayerID(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, team, err)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: player %q listed twice on %s", ErrInvalidArgument, p, team)
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func allocateID(tx *gorm.DB) (uint64, error) {
	var counter models.EngineCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&counter, "name = ?", models.TournamentCounterName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = models.EngineCounter{Name: models.TournamentCounterName, NextID: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, fmt.Errorf("init id counter: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	id := counter.NextID
	if err := tx.Model(&counter).Update("next_id", id+1).Error; err != nil {
		return 0, fmt.Errorf("advance id counter: %w", err)
	}
	return id, nil
}

// Contribute funds the slot of playerID. The player must be on exactly one
// roster; use ContributeToSlot for a player listed on both.
func (s *EscrowService) Contribute(ctx context.Context, id uint64, playerID, contributor string) error {
	return s.contribute(ctx, id, models.TeamNone, playerID, contributor)
}

// ContributeToSlot funds the slot of playerID on the given roster.
func (s *EscrowService) ContributeToSlot(ctx context.Context, id uint64, team models.Team, playerID, contributor string) error {
	if !team.IsRoster() {
		return fmt.Errorf("%w: team must be %s or %s", ErrInvalidArgument, models.TeamOne, models.TeamTwo)
	}
	return s.contribute(ctx, id, team, playerID, contributor)
}

func (s *EscrowService) contribute(ctx context.Context, id uint64, team models.Team, playerID, contributor string) (err error) {
	ctx, span := tracer.Start(ctx, "escrow.Contribute", trace.WithAttributes(
		attribute.Int64("tournament.id", int64(id)),
		attribute.String("tournament.team", string(team)),
	))
	defer func() { endSpan(span, err) }()

	player := utils.NormalizePlayerID(playerID)
	contributor = strings.TrimSpace(contributor)
	if contributor == "" {
		return fmt.Errorf("%w: contributor is required", ErrInvalidArgument)
	}

	unlock := s.locks.Lock(tournamentKey(id))
	defer unlock()

	var amount uint64
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, id)
		if err != nil {
			return err
		}
		if !t.State.AcceptsContributions() {
			return fmt.Errorf("%w: tournament %d is %s", ErrInvalidState, id, t.State)
		}

		slot, err := findSlot(tx, id, team, player)
		if err != nil {
			return err
		}
		if slot.Contributor != nil {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyContributed, player, slot.Team)
		}

		res := tx.Model(&models.RosterSlot{}).
			Where("id = ? AND contributor IS NULL", slot.ID).
			Updates(map[string]interface{}{
				"contributor":    contributor,
				"contributed_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("record contribution: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyContributed, player, slot.Team)
		}

		memo := fmt.Sprintf("tournament %d: %s on %s", id, player, slot.Team)
		if err := s.Ledger.Pull(tx, t.FundingToken, s.Address, contributor, s.CustodyAccount(id), t.ContributionAmount, memo); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		amount = t.ContributionAmount
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("💰 [ESCROW] %s funded %q in tournament %d (+%d)", contributor, player, id, amount)
	return nil
}

// findSlot resolves a player to a roster slot. With TeamNone the player must
// be on exactly one roster.
func findSlot(tx *gorm.DB, id uint64, team models.Team, player string) (*models.RosterSlot, error) {
	if player == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrUnknownPlayer)
	}
	q := tx.Where("tournament_id = ? AND player_id = ?", id, player)
	if team != models.TeamNone {
		q = q.Where("team = ?", team)
	}
	var slots []models.RosterSlot
	if err := q.Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("find slot: %w", err)
	}
	switch len(slots) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, player)
	case 1:
		return &slots[0], nil
	}
	return nil, fmt.Errorf("%w: player %q is on both rosters, name the team", ErrInvalidArgument, player)
}

// Start records the lobby code and opens the match. Only the current owner
// of the tournament token may start it.
func (s *EscrowService) Start(ctx context.Context, id uint64, code, caller string) (err error) {
	ctx, span := tracer.Start(ctx, "escrow.Start", trace.WithAttributes(attribute.Int64("tournament.id", int64(id))))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(tournamentKey(id))
	defer unlock()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.lockOwned(tx, id, caller)
		if err != nil {
			return err
		}
		if t.State != models.StateCreated {
			return fmt.Errorf("%w: tournament %d is %s", ErrInvalidState, id, t.State)
		}
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("%w: start code is required", ErrInvalidArgument)
		}

		now := time.Now().UTC()
		return tx.Model(&models.Tournament{}).Where("id = ?", id).Updates(map[string]interface{}{
			"state":      models.StateStarted,
			"start_code": code,
			"started_at": now,
		}).Error
	})
	if err != nil {
		return err
	}

	log.Printf("▶️ [ESCROW] tournament %d started by %s", id, caller)
	return nil
}

// Finish settles a started tournament in favour of winningTeam, paying every
// distinct winning contributor in one push. Nothing is paid and the pool is
// retained when no slot of the winning roster was funded.
func (s *EscrowService) Finish(ctx context.Context, id uint64, winningTeam models.Team, caller string) (settlement *models.Settlement, err error) {
	ctx, span := tracer.Start(ctx, "escrow.Finish", trace.WithAttributes(
		attribute.Int64("tournament.id", int64(id)),
		attribute.String("tournament.winner", string(winningTeam)),
	))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(tournamentKey(id))
	defer unlock()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.lockOwned(tx, id, caller)
		if err != nil {
			return err
		}
		if t.State != models.StateStarted {
			return fmt.Errorf("%w: tournament %d is %s", ErrInvalidState, id, t.State)
		}

		winner, err := s.Adjudicator.Adjudicate(ctx, t, winningTeam)
		if err != nil {
			return err
		}

		var slots []models.RosterSlot
		if err := tx.Where("tournament_id = ? AND contributor IS NOT NULL", id).
			Order("team ASC, position ASC").
			Find(&slots).Error; err != nil {
			return fmt.Errorf("load contributions: %w", err)
		}
		funded := make([]FundedSlot, 0, len(slots))
		for _, sl := range slots {
			funded = append(funded, FundedSlot{Team: sl.Team, Position: sl.Position, Contributor: *sl.Contributor})
		}

		plan, err := ComputeSettlement(t.ContributionAmount, winner, funded)
		if err != nil {
			return err
		}

		custody := s.CustodyAccount(id)
		for _, line := range plan.Payouts {
			memo := fmt.Sprintf("tournament %d payout: %d slot(s) on %s", id, line.SlotsWon, winner)
			if err := s.Ledger.Push(tx, t.FundingToken, custody, line.Recipient, line.Amount, memo); err != nil {
				return fmt.Errorf("%w: pay %s: %w", ErrTransferFailed, line.Recipient, err)
			}
		}

		settlement = &models.Settlement{
			ID:           uuid.NewString(),
			TournamentID: id,
			WinningTeam:  winner,
			Outcome:      plan.Outcome(),
			Pool:         plan.Pool,
			LosingPool:   plan.LosingPool,
			WinningSlots: plan.WinningSlots,
			Disbursed:    plan.Disbursed(),
			Retained:     plan.Retained,
			SettledBy:    caller,
		}
		for i, line := range plan.Payouts {
			settlement.Payouts = append(settlement.Payouts, models.Payout{
				ID:           uuid.NewString(),
				SettlementID: settlement.ID,
				TournamentID: id,
				Recipient:    line.Recipient,
				SlotsWon:     line.SlotsWon,
				Stake:        line.Stake,
				Share:        line.Share,
				Amount:       line.Amount,
				SortOrder:    i,
			})
		}
		if err := tx.Create(settlement).Error; err != nil {
			return fmt.Errorf("store settlement: %w", err)
		}

		return tx.Model(&models.Tournament{}).Where("id = ?", id).Updates(map[string]interface{}{
			"state":       models.StateFinished,
			"winner":      winner,
			"finished_at": time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	if settlement.Outcome == models.OutcomeRetained {
		log.Printf("⚠️ [ESCROW] tournament %d finished, %s won without backers; %d retained in custody", id, settlement.WinningTeam, settlement.Retained)
	} else {
		log.Printf("🏆 [ESCROW] tournament %d finished, %s won; %d paid to %d contributor(s)", id, settlement.WinningTeam, settlement.Disbursed, len(settlement.Payouts))
	}
	return settlement, nil
}

// lockOwned loads the tournament under a row lock and checks caller holds its
// ownership token.
func (s *EscrowService) lockOwned(tx *gorm.DB, id uint64, caller string) (*models.Tournament, error) {
	t, err := lockTournament(tx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.Owners.OwnerOf(tx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	if caller = strings.TrimSpace(caller); caller == "" || caller != owner {
		return nil, fmt.Errorf("%w: %q does not own tournament %d", ErrUnauthorized, caller, id)
	}
	return t, nil
}

func lockTournament(tx *gorm.DB, id uint64) (*models.Tournament, error) {
	var t models.Tournament
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load tournament %d: %w", id, err)
	}
	return &t, nil
}

func tournamentKey(id uint64) string {
	return fmt.Sprintf("tournament:%d", id)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	span.End()
}
