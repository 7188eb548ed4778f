package models

import (
	"time"
)

// SettlementOutcome describes what finish did with the pool.
type SettlementOutcome string

const (
	// OutcomePaid means the pool was distributed to the winning contributors.
	OutcomePaid SettlementOutcome = "paid"
	// OutcomeRetained means nobody backed the winning roster, so the pool
	// stays in the tournament's custody account.
	OutcomeRetained SettlementOutcome = "retained"
)

// Settlement is written once, by the finish operation.
type Settlement struct {
	ID           string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TournamentID uint64            `gorm:"not null;uniqueIndex" json:"tournament_id"`
	WinningTeam  Team              `gorm:"type:varchar(16);not null" json:"winning_team"`
	Outcome      SettlementOutcome `gorm:"type:varchar(16);not null" json:"outcome"`
	Pool         uint64            `gorm:"not null" json:"pool"`
	LosingPool   uint64            `gorm:"not null" json:"losing_pool"`
	WinningSlots int               `gorm:"not null" json:"winning_slots"`
	Disbursed    uint64            `gorm:"not null" json:"disbursed"`
	Retained     uint64            `gorm:"not null" json:"retained"`
	SettledBy    string            `gorm:"type:varchar(128);not null" json:"settled_by"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`

	// Receipt export
	ArchivedAt      *time.Time `gorm:"index" json:"archived_at,omitempty"`
	ArchiveURL      string     `json:"archive_url,omitempty"`
	ArchiveAttempts int        `gorm:"not null;default:0" json:"-"`

	Payouts []Payout `gorm:"foreignKey:SettlementID" json:"payouts"`
}

// Payout is the single transfer made to one distinct winning contributor.
type Payout struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SettlementID string `gorm:"type:varchar(36);not null;index" json:"settlement_id"`
	TournamentID uint64 `gorm:"not null;index" json:"tournament_id"`
	Recipient    string `gorm:"type:varchar(128);not null" json:"recipient"`
	SlotsWon     int    `gorm:"not null" json:"slots_won"`
	Stake        uint64 `gorm:"not null" json:"stake"`
	Share        uint64 `gorm:"not null" json:"share"`
	Amount       uint64 `gorm:"not null" json:"amount"`
	SortOrder    int    `gorm:"column:sort_order;not null" json:"sort_order"`
}
