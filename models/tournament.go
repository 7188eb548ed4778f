package models

import (
	"time"
)

// Game is the closed category a tournament is played in.
type Game uint8

const (
	GameCounterStrike2 Game = 1
	GameDota2          Game = 2
)

// Valid reports whether g is one of the supported games.
func (g Game) Valid() bool {
	switch g {
	case GameCounterStrike2, GameDota2:
		return true
	}
	return false
}

func (g Game) String() string {
	switch g {
	case GameCounterStrike2:
		return "Counter-Strike 2"
	case GameDota2:
		return "Dota 2"
	}
	return "unknown"
}

// TournamentState only ever advances created → started → finished.
type TournamentState string

const (
	StateCreated  TournamentState = "created"
	StateStarted  TournamentState = "started"
	StateFinished TournamentState = "finished"
)

// AcceptsContributions reports whether player slots can still be funded.
func (s TournamentState) AcceptsContributions() bool {
	switch s {
	case StateCreated, StateStarted:
		return true
	case StateFinished:
		return false
	}
	return false
}

// Team identifies one of the two rosters. TeamNone is the winner of every
// tournament that is not finished.
type Team string

const (
	TeamNone Team = "none"
	TeamOne  Team = "team_one"
	TeamTwo  Team = "team_two"
)

// IsRoster reports whether t names an actual roster.
func (t Team) IsRoster() bool {
	switch t {
	case TeamOne, TeamTwo:
		return true
	case TeamNone:
		return false
	}
	return false
}

// Opponent returns the other roster. It returns TeamNone for TeamNone.
func (t Team) Opponent() Team {
	switch t {
	case TeamOne:
		return TeamTwo
	case TeamTwo:
		return TeamOne
	}
	return TeamNone
}

// Tournament is a head-to-head match between two rosters with a fixed
// per-player contribution held in escrow until it is settled.
type Tournament struct {
	ID                 uint64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Slug               string          `json:"slug" gorm:"uniqueIndex;not null"`
	Name               string          `json:"name" gorm:"not null"`
	Game               Game            `json:"game" gorm:"not null"`
	ContributionAmount uint64          `json:"contribution_amount" gorm:"not null"`
	FundingToken       string          `json:"funding_token" gorm:"type:varchar(64);not null"`
	Creator            string          `json:"creator" gorm:"type:varchar(128);not null;index"`
	State              TournamentState `json:"state" gorm:"type:varchar(16);not null;index"`
	StartCode          *string         `json:"start_code,omitempty"`
	Winner             Team            `json:"winner" gorm:"type:varchar(16);not null"`
	CreatedAt          time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	FinishedAt         *time.Time      `json:"finished_at,omitempty"`

	// Relationships
	Slots []RosterSlot `json:"slots,omitempty" gorm:"foreignKey:TournamentID"`
}

// RosterSlot is one player position on a roster. Contributor is nil until
// somebody funds the slot, and is never rewritten afterwards.
type RosterSlot struct {
	ID            uint64     `json:"-" gorm:"primaryKey;autoIncrement"`
	TournamentID  uint64     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_roster_slot"`
	Team          Team       `json:"team" gorm:"type:varchar(16);not null;uniqueIndex:idx_roster_slot"`
	PlayerID      string     `json:"player_id" gorm:"type:varchar(128);not null;uniqueIndex:idx_roster_slot"`
	Position      int        `json:"position" gorm:"not null"`
	Contributor   *string    `json:"contributor,omitempty" gorm:"type:varchar(128);index"`
	ContributedAt *time.Time `json:"contributed_at,omitempty"`
}

// EngineCounter holds the id the next created tournament will receive.
type EngineCounter struct {
	Name   string `gorm:"primaryKey;type:varchar(32)"`
	NextID uint64 `gorm:"not null"`
}

// TournamentCounterName is the EngineCounter row used for tournament ids.
const TournamentCounterName = "tournaments"

// TournamentParams is the read model of a tournament returned to callers.
type TournamentParams struct {
	ID                 uint64          `json:"id"`
	Slug               string          `json:"slug"`
	Name               string          `json:"name"`
	Game               Game            `json:"game"`
	GameName           string          `json:"game_name"`
	TeamOneRoster      []string        `json:"team_one_roster"`
	TeamTwoRoster      []string        `json:"team_two_roster"`
	ContributionAmount uint64          `json:"contribution_amount"`
	FundingToken       string          `json:"funding_token"`
	State              TournamentState `json:"state"`
	StartCode          *string         `json:"start_code"`
	Winner             Team            `json:"winner"`
	Contributions      int             `json:"contributions"`
	Pool               uint64          `json:"pool"`

	// Boolean flags mirror State and Winner for older clients.
	IsStarted    bool `json:"is_started"`
	IsTeamOneWon bool `json:"is_team_one_won"`
	IsTeamTwoWon bool `json:"is_team_two_won"`
}

// SlotView describes the funding status of a single roster slot.
type SlotView struct {
	Team        Team       `json:"team"`
	Position    int        `json:"position"`
	PlayerID    string     `json:"player_id"`
	Contributor *string    `json:"contributor"`
	FundedAt    *time.Time `json:"funded_at,omitempty"`
}

// ParseTeam accepts the roster names used by clients: "one"/"two",
// "team_one"/"team_two" or "1"/"2". An empty string is TeamNone.
func ParseTeam(s string) (Team, bool) {
	switch s {
	case "":
		return TeamNone, true
	case "one", "1", string(TeamOne):
		return TeamOne, true
	case "two", "2", string(TeamTwo):
		return TeamTwo, true
	}
	return TeamNone, false
}
