// services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"xp-tournaments/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FundingLedger is the slice of an allowance-based token ledger the escrow
// engine needs. Every call runs inside the caller's transaction so a failed
// transfer rolls back together with the engine's own writes.
type FundingLedger interface {
	Pull(tx *gorm.DB, token, spender, from, to string, amount uint64, memo string) error
	Push(tx *gorm.DB, token, from, to string, amount uint64, memo string) error
	BalanceOf(tx *gorm.DB, token, account string) (uint64, error)
}

// TokenLedger is a gorm-backed fungible token ledger with ERC-20 style
// allowances. A nil tx runs the call in its own transaction.
type TokenLedger struct {
	DB *gorm.DB

	// reserved is the escrow address. It and every account below it only
	// move through Push.
	reserved string
}

func NewTokenLedger(db *gorm.DB) *TokenLedger {
	return &TokenLedger{DB: db}
}

var _ FundingLedger = (*TokenLedger)(nil)

// WithContext returns a ledger whose own transactions carry ctx.
func (l *TokenLedger) WithContext(ctx context.Context) *TokenLedger {
	return &TokenLedger{DB: l.DB.WithContext(ctx), reserved: l.reserved}
}

// ReserveAccounts marks address and every "address/..." account as escrow
// custody. Transfer, Approve and Pull refuse to spend from them.
func (l *TokenLedger) ReserveAccounts(address string) {
	l.reserved = strings.TrimSpace(address)
}

// IsReserved reports whether account belongs to escrow custody.
func (l *TokenLedger) IsReserved(account string) bool {
	if l.reserved == "" {
		return false
	}
	account = strings.TrimSpace(account)
	return account == l.reserved || strings.HasPrefix(account, l.reserved+"/")
}

func (l *TokenLedger) checkSpendable(account string) error {
	if l.IsReserved(account) {
		return fmt.Errorf("%w: %s is an escrow custody account", ErrUnauthorized, account)
	}
	return nil
}

func (l *TokenLedger) run(tx *gorm.DB, fn func(db *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return l.DB.Transaction(fn)
}

func (l *TokenLedger) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return l.DB
}

// BalanceOf returns the balance of account, zero when it never held the token.
func (l *TokenLedger) BalanceOf(tx *gorm.DB, token, account string) (uint64, error) {
	var bal models.TokenBalance
	err := l.conn(tx).Where("token = ? AND account = ?", token, account).Take(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal.Amount, nil
}

// Allowance returns how much spender may still pull from owner.
func (l *TokenLedger) Allowance(tx *gorm.DB, token, owner, spender string) (uint64, error) {
	var al models.TokenAllowance
	err := l.conn(tx).Where("token = ? AND owner = ? AND spender = ?", token, owner, spender).Take(&al).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read allowance: %w", err)
	}
	return al.Amount, nil
}

// TotalSupply is the sum of every balance of token.
func (l *TokenLedger) TotalSupply(tx *gorm.DB, token string) (uint64, error) {
	var total int64
	err := l.conn(tx).Model(&models.TokenBalance{}).
		Where("token = ?", token).
		Select("CAST(COALESCE(SUM(amount), 0) AS BIGINT)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("read total supply: %w", err)
	}
	return uint64(total), nil
}

// Mint creates amount new tokens in account to.
func (l *TokenLedger) Mint(tx *gorm.DB, token, to string, amount uint64, memo string) error {
	if err := validateMovement(token, "-", to, amount); err != nil {
		return err
	}
	return l.run(tx, func(db *gorm.DB) error {
		supply, err := l.TotalSupply(db, token)
		if err != nil {
			return err
		}
		if _, err := addAmount(supply, amount); err != nil {
			return err
		}
		if err := credit(db, token, to, amount); err != nil {
			return err
		}
		log.Printf("[LEDGER] minted %d %s to %s", amount, token, to)
		return journal(db, token, "", to, amount, models.LedgerMint, memo)
	})
}

// Approve sets (not adds to) the amount spender may pull from owner.
// Approving zero revokes the allowance.
func (l *TokenLedger) Approve(tx *gorm.DB, token, owner, spender string, amount uint64) error {
	token, owner, spender = strings.TrimSpace(token), strings.TrimSpace(owner), strings.TrimSpace(spender)
	if token == "" || owner == "" || spender == "" {
		return fmt.Errorf("%w: token, owner and spender are required", ErrInvalidArgument)
	}
	if amount > maxStoredAmount {
		return fmt.Errorf("%w: allowance %d", ErrAmountOverflow, amount)
	}
	if err := l.checkSpendable(owner); err != nil {
		return err
	}
	al := models.TokenAllowance{Token: token, Owner: owner, Spender: spender, Amount: amount}
	err := l.conn(tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&al).Error
	if err != nil {
		return fmt.Errorf("store allowance: %w", err)
	}
	return nil
}

// Transfer moves tokens the sender holds itself.
func (l *TokenLedger) Transfer(tx *gorm.DB, token, from, to string, amount uint64, memo string) error {
	if err := l.checkSpendable(from); err != nil {
		return err
	}
	return l.move(tx, token, from, to, amount, models.LedgerTransfer, memo)
}

// Push moves tokens out of an account the caller controls, such as escrow
// custody. It is a Transfer journaled as a payout.
func (l *TokenLedger) Push(tx *gorm.DB, token, from, to string, amount uint64, memo string) error {
	return l.move(tx, token, from, to, amount, models.LedgerPush, memo)
}

// Pull moves amount from `from` to `to` on behalf of spender, consuming the
// allowance `from` granted to spender.
func (l *TokenLedger) Pull(tx *gorm.DB, token, spender, from, to string, amount uint64, memo string) error {
	if err := validateMovement(token, from, to, amount); err != nil {
		return err
	}
	if strings.TrimSpace(spender) == "" {
		return fmt.Errorf("%w: spender is required", ErrInvalidArgument)
	}
	if err := l.checkSpendable(from); err != nil {
		return err
	}
	return l.run(tx, func(db *gorm.DB) error {
		res := db.Model(&models.TokenAllowance{}).
			Where("token = ? AND owner = ? AND spender = ? AND amount >= ?", token, from, spender, amount).
			Update("amount", gorm.Expr("amount - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("spend allowance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s has not approved %d %s for %s", ErrInsufficientAllowance, from, amount, token, spender)
		}
		if err := debit(db, token, from, amount); err != nil {
			return err
		}
		if err := credit(db, token, to, amount); err != nil {
			return err
		}
		return journal(db, token, from, to, amount, models.LedgerPull, memo)
	})
}

// Entries lists the most recent journal entries touching account.
func (l *TokenLedger) Entries(tx *gorm.DB, token, account string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.LedgerEntry
	err := l.conn(tx).
		Where("token = ? AND (from_account = ? OR to_account = ?)", token, account, account).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

func (l *TokenLedger) move(tx *gorm.DB, token, from, to string, amount uint64, kind models.LedgerEntryKind, memo string) error {
	if err := validateMovement(token, from, to, amount); err != nil {
		return err
	}
	return l.run(tx, func(db *gorm.DB) error {
		if err := debit(db, token, from, amount); err != nil {
			return err
		}
		if err := credit(db, token, to, amount); err != nil {
			return err
		}
		return journal(db, token, from, to, amount, kind, memo)
	})
}

func validateMovement(token, from, to string, amount uint64) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: token, sender and recipient are required", ErrInvalidArgument)
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if amount > maxStoredAmount {
		return fmt.Errorf("%w: %d", ErrAmountOverflow, amount)
	}
	return nil
}

func debit(db *gorm.DB, token, account string, amount uint64) error {
	res := db.Model(&models.TokenBalance{}).
		Where("token = ? AND account = ? AND amount >= ?", token, account, amount).
		Update("amount", gorm.Expr("amount - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit %s: %w", account, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s holds less than %d %s", ErrInsufficientBalance, account, amount, token)
	}
	return nil
}

// credit cannot overflow: Mint caps the total supply of a token.
func credit(db *gorm.DB, token, account string, amount uint64) error {
	bal := models.TokenBalance{Token: token, Account: account, Amount: amount}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}, {Name: "account"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount": gorm.Expr("token_balances.amount + excluded.amount"),
		}),
	}).Create(&bal).Error
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

func journal(db *gorm.DB, token, from, to string, amount uint64, kind models.LedgerEntryKind, memo string) error {
	entry := models.LedgerEntry{
		ID:     uuid.NewString(),
		Token:  token,
		From:   from,
		To:     to,
		Amount: amount,
		Kind:   kind,
		Memo:   memo,
	}
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("journal %s: %w", kind, err)
	}
	return nil
}

// BootstrapTreasury mints the initial supply of token to treasury once, when
// the token has no supply at all yet.
func (l *TokenLedger) BootstrapTreasury(token, treasury string, supply uint64) error {
	if token == "" || treasury == "" || supply == 0 {
		return nil
	}
	return l.DB.Transaction(func(tx *gorm.DB) error {
		current, err := l.TotalSupply(tx, token)
		if err != nil {
			return err
		}
		if current > 0 {
			log.Printf("[LEDGER] %s already has a supply of %d, treasury bootstrap skipped", token, current)
			return nil
		}
		return l.Mint(tx, token, treasury, supply, "treasury bootstrap")
	})
}
