package models

import "time"

// OwnershipToken binds a tournament id to its current administrative owner.
// It is transferable independently of the escrow engine.
type OwnershipToken struct {
	TournamentID uint64    `gorm:"primaryKey;autoIncrement:false" json:"tournament_id"`
	Owner        string    `gorm:"type:varchar(128);not null;index" json:"owner"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// OwnershipTransfer records every owner change, including the initial mint
// (From is empty).
type OwnershipTransfer struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TournamentID uint64    `gorm:"not null;index" json:"tournament_id"`
	From         string    `gorm:"column:from_owner;type:varchar(128)" json:"from"`
	To           string    `gorm:"column:to_owner;type:varchar(128);not null" json:"to"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
