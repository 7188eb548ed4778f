// models/ledger.go
package models

import (
	"time"
)

// LedgerEntryKind labels a movement recorded on the token ledger.
type LedgerEntryKind string

const (
	LedgerMint     LedgerEntryKind = "mint"
	LedgerTransfer LedgerEntryKind = "transfer"
	LedgerPull     LedgerEntryKind = "pull"
	LedgerPush     LedgerEntryKind = "push"
)

// TokenBalance is the amount of a fungible token held by one account.
// Table name: token_balances
type TokenBalance struct {
	Token     string    `gorm:"primaryKey;type:varchar(64)" json:"token"`
	Account   string    `gorm:"primaryKey;type:varchar(160)" json:"account"`
	Amount    uint64    `gorm:"not null" json:"amount"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TokenAllowance is the amount Spender may still pull from Owner.
type TokenAllowance struct {
	Token     string    `gorm:"primaryKey;type:varchar(64)" json:"token"`
	Owner     string    `gorm:"primaryKey;type:varchar(160)" json:"owner"`
	Spender   string    `gorm:"primaryKey;type:varchar(160)" json:"spender"`
	Amount    uint64    `gorm:"not null" json:"amount"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LedgerEntry is the append-only journal of every balance movement.
type LedgerEntry struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Token     string          `gorm:"type:varchar(64);not null;index" json:"token"`
	From      string          `gorm:"column:from_account;type:varchar(160);index" json:"from"` // empty for mints
	To        string          `gorm:"column:to_account;type:varchar(160);not null;index" json:"to"`
	Amount    uint64          `gorm:"not null" json:"amount"`
	Kind      LedgerEntryKind `gorm:"type:varchar(16);not null" json:"kind"`
	Memo      string          `gorm:"type:varchar(255)" json:"memo,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
