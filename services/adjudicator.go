package services

import (
	"context"
	"fmt"

	"xp-tournaments/models"
)

// Adjudicator decides which roster won a started tournament. The engine only
// settles; who won always comes from outside.
type Adjudicator interface {
	Adjudicate(ctx context.Context, t *models.Tournament, declared models.Team) (models.Team, error)
}

// DeclaredOutcome trusts the team declared by the tournament owner.
type DeclaredOutcome struct{}

func (DeclaredOutcome) Adjudicate(_ context.Context, _ *models.Tournament, declared models.Team) (models.Team, error) {
	if !declared.IsRoster() {
		return models.TeamNone, fmt.Errorf("%w: winning team must be %s or %s, got %q",
			ErrInvalidArgument, models.TeamOne, models.TeamTwo, declared)
	}
	return declared, nil
}
