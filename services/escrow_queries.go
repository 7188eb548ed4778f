package services

import (
	"context"
	"errors"
	"fmt"

	"xp-tournaments/models"
	"xp-tournaments/utils"

	"gorm.io/gorm"
)

// GetParams returns the terms, state and funding totals of a tournament.
func (s *EscrowService) GetParams(ctx context.Context, id uint64) (*models.TournamentParams, error) {
	db := s.DB.WithContext(ctx)
	t, err := loadTournament(db, id)
	if err != nil {
		return nil, err
	}

	var slots []models.RosterSlot
	if err := db.Where("tournament_id = ?", id).Order("team ASC, position ASC").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("load rosters: %w", err)
	}

	p := &models.TournamentParams{
		ID:                 t.ID,
		Slug:               t.Slug,
		Name:               t.Name,
		Game:               t.Game,
		GameName:           t.Game.String(),
		TeamOneRoster:      []string{},
		TeamTwoRoster:      []string{},
		ContributionAmount: t.ContributionAmount,
		FundingToken:       t.FundingToken,
		State:              t.State,
		StartCode:          t.StartCode,
		Winner:             t.Winner,
		IsStarted:          t.State != models.StateCreated,
		IsTeamOneWon:       t.Winner == models.TeamOne,
		IsTeamTwoWon:       t.Winner == models.TeamTwo,
	}
	for _, sl := range slots {
		switch sl.Team {
		case models.TeamOne:
			p.TeamOneRoster = append(p.TeamOneRoster, sl.PlayerID)
		case models.TeamTwo:
			p.TeamTwoRoster = append(p.TeamTwoRoster, sl.PlayerID)
		}
		if sl.Contributor != nil {
			p.Contributions++
		}
	}
	// Bounded at create time.
	p.Pool = t.ContributionAmount * uint64(p.Contributions)
	return p, nil
}

// GetOwner returns the current holder of the tournament's ownership token.
func (s *EscrowService) GetOwner(ctx context.Context, id uint64) (string, error) {
	db := s.DB.WithContext(ctx)
	if _, err := loadTournament(db, id); err != nil {
		return "", err
	}
	return s.Owners.OwnerOf(db, id)
}

// GetContribution returns who funded playerID, if anybody. The player must be
// on exactly one roster.
func (s *EscrowService) GetContribution(ctx context.Context, id uint64, playerID string) (string, bool, error) {
	return s.getContribution(ctx, id, models.TeamNone, playerID)
}

// GetSlotContribution is GetContribution for a player on a named roster.
func (s *EscrowService) GetSlotContribution(ctx context.Context, id uint64, team models.Team, playerID string) (string, bool, error) {
	if !team.IsRoster() {
		return "", false, fmt.Errorf("%w: team must be %s or %s", ErrInvalidArgument, models.TeamOne, models.TeamTwo)
	}
	return s.getContribution(ctx, id, team, playerID)
}

func (s *EscrowService) getContribution(ctx context.Context, id uint64, team models.Team, playerID string) (string, bool, error) {
	db := s.DB.WithContext(ctx)
	if _, err := loadTournament(db, id); err != nil {
		return "", false, err
	}
	slot, err := findSlot(db, id, team, utils.NormalizePlayerID(playerID))
	if err != nil {
		return "", false, err
	}
	if slot.Contributor == nil {
		return "", false, nil
	}
	return *slot.Contributor, true, nil
}

// ListContributions returns every slot of both rosters in roster order.
func (s *EscrowService) ListContributions(ctx context.Context, id uint64) ([]models.SlotView, error) {
	db := s.DB.WithContext(ctx)
	if _, err := loadTournament(db, id); err != nil {
		return nil, err
	}
	var slots []models.RosterSlot
	if err := db.Where("tournament_id = ?", id).Order("team ASC, position ASC").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("load rosters: %w", err)
	}
	views := make([]models.SlotView, 0, len(slots))
	for _, sl := range slots {
		views = append(views, models.SlotView{
			Team:        sl.Team,
			Position:    sl.Position,
			PlayerID:    sl.PlayerID,
			Contributor: sl.Contributor,
			FundedAt:    sl.ContributedAt,
		})
	}
	return views, nil
}

// GetNextID returns the id the next Create will allocate.
func (s *EscrowService) GetNextID(ctx context.Context) (uint64, error) {
	var counter models.EngineCounter
	err := s.DB.WithContext(ctx).Take(&counter, "name = ?", models.TournamentCounterName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	return counter.NextID, nil
}

// GetSettlement returns the settlement written by Finish. A tournament that
// is not finished yet has none and reports ErrInvalidState.
func (s *EscrowService) GetSettlement(ctx context.Context, id uint64) (*models.Settlement, error) {
	db := s.DB.WithContext(ctx)
	t, err := loadTournament(db, id)
	if err != nil {
		return nil, err
	}
	if t.State != models.StateFinished {
		return nil, fmt.Errorf("%w: tournament %d is %s", ErrInvalidState, id, t.State)
	}
	var st models.Settlement
	err = db.Preload("Payouts", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).Take(&st, "tournament_id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	return &st, nil
}

func loadTournament(db *gorm.DB, id uint64) (*models.Tournament, error) {
	var t models.Tournament
	err := db.Take(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load tournament %d: %w", id, err)
	}
	return &t, nil
}
