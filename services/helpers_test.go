package services

import (
	"context"
	"fmt"
	"testing"

	"xp-tournaments/database"
	"xp-tournaments/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testToken   = "XP"
	testEscrow  = "escrow"
	testCreator = "0xcreator"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type fixture struct {
	db     *gorm.DB
	ledger *TokenLedger
	owners *OwnershipRegistry
	escrow *EscrowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	ledger := NewTokenLedger(db)
	owners := NewOwnershipRegistry(db)
	return &fixture{
		db:     db,
		ledger: ledger,
		owners: owners,
		escrow: NewEscrowService(db, ledger, owners, testEscrow, []string{testToken}),
	}
}

// fund mints amount to account and lets the escrow pull all of it.
func (f *fixture) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(nil, testToken, account, amount, "test"))
	require.NoError(t, f.ledger.Approve(nil, testToken, account, testEscrow, amount))
}

func (f *fixture) balance(t *testing.T, account string) uint64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(nil, testToken, account)
	require.NoError(t, err)
	return bal
}

func (f *fixture) custody(t *testing.T, id uint64) uint64 {
	t.Helper()
	return f.balance(t, f.escrow.CustodyAccount(id))
}

func (f *fixture) create(t *testing.T, teamOne, teamTwo []string, amount uint64) uint64 {
	t.Helper()
	id, err := f.escrow.Create(context.Background(), CreateTournamentInput{
		Name:               "Major Qualifier",
		Game:               models.GameCounterStrike2,
		TeamOne:            teamOne,
		TeamTwo:            teamTwo,
		ContributionAmount: amount,
		FundingToken:       testToken,
	}, testCreator)
	require.NoError(t, err)
	return id
}

func (f *fixture) state(t *testing.T, id uint64) *models.TournamentParams {
	t.Helper()
	p, err := f.escrow.GetParams(context.Background(), id)
	require.NoError(t, err)
	return p
}
