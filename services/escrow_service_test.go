package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"xp-tournaments/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEscrowRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "A", 100)
	f.fund(t, "B", 100)

	id := f.create(t, []string{"kiv1n"}, []string{"lexus"}, 5)

	require.NoError(t, f.escrow.Contribute(ctx, id, "kiv1n", "A"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "lexus", "B"))
	assert.Equal(t, uint64(10), f.custody(t, id))

	require.NoError(t, f.escrow.Start(ctx, id, "AMG7-XXEQ", testCreator))
	p := f.state(t, id)
	require.NotNil(t, p.StartCode)
	assert.Equal(t, "AMG7-XXEQ", *p.StartCode)
	assert.True(t, p.IsStarted)

	st, err := f.escrow.Finish(ctx, id, models.TeamTwo, testCreator)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePaid, st.Outcome)
	assert.Equal(t, uint64(10), st.Disbursed)
	require.Len(t, st.Payouts, 1)
	assert.Equal(t, "B", st.Payouts[0].Recipient)

	assert.Equal(t, uint64(95), f.balance(t, "A"))
	assert.Equal(t, uint64(105), f.balance(t, "B"))
	assert.Zero(t, f.custody(t, id))

	p = f.state(t, id)
	assert.Equal(t, models.StateFinished, p.State)
	assert.Equal(t, models.TeamTwo, p.Winner)
	assert.True(t, p.IsTeamTwoWon)
	assert.False(t, p.IsTeamOneWon)

	stored, err := f.escrow.GetSettlement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st.ID, stored.ID)
	require.Len(t, stored.Payouts, 1)
	assert.Equal(t, uint64(10), stored.Payouts[0].Amount)
}

func TestEscrowCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	next, err := f.escrow.GetNextID(ctx)
	require.NoError(t, err)
	assert.Zero(t, next)

	for want := uint64(0); want < 3; want++ {
		id := f.create(t, []string{"a", "b"}, []string{"c"}, 2)
		assert.Equal(t, want, id)

		next, err := f.escrow.GetNextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want+1, next)
	}

	p := f.state(t, 1)
	assert.Equal(t, models.StateCreated, p.State)
	assert.Equal(t, models.TeamNone, p.Winner)
	assert.Nil(t, p.StartCode)
	assert.Zero(t, p.Contributions)
	assert.Equal(t, []string{"a", "b"}, p.TeamOneRoster)
	assert.Equal(t, []string{"c"}, p.TeamTwoRoster)
	assert.Equal(t, "Counter-Strike 2", p.GameName)
	assert.Equal(t, "major-qualifier-1", p.Slug)

	owner, err := f.escrow.GetOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testCreator, owner)
}

func TestEscrowCreateValidation(t *testing.T) {
	valid := func() CreateTournamentInput {
		return CreateTournamentInput{
			Name:               "Cup",
			Game:               models.GameDota2,
			TeamOne:            []string{"a"},
			TeamTwo:            []string{"b"},
			ContributionAmount: 1,
			FundingToken:       testToken,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateTournamentInput)
		creator string
	}{
		{"empty name", func(in *CreateTournamentInput) { in.Name = "  " }, testCreator},
		{"unknown game", func(in *CreateTournamentInput) { in.Game = 9 }, testCreator},
		{"game left unset", func(in *CreateTournamentInput) { in.Game = 0 }, testCreator},
		{"zero amount", func(in *CreateTournamentInput) { in.ContributionAmount = 0 }, testCreator},
		{"empty roster", func(in *CreateTournamentInput) { in.TeamTwo = nil }, testCreator},
		{"empty player", func(in *CreateTournamentInput) { in.TeamOne = []string{"a", " "} }, testCreator},
		{"duplicate player", func(in *CreateTournamentInput) { in.TeamOne = []string{"a", "a "} }, testCreator},
		{"duplicate after NFC", func(in *CreateTournamentInput) { in.TeamOne = []string{"caf\u00e9", "cafe\u0301"} }, testCreator},
		{"token not accepted", func(in *CreateTournamentInput) { in.FundingToken = "DOGE" }, testCreator},
		{"no token", func(in *CreateTournamentInput) { in.FundingToken = "" }, testCreator},
		{"pool overflows", func(in *CreateTournamentInput) { in.ContributionAmount = 1 << 62 }, testCreator},
		{"no creator", func(in *CreateTournamentInput) {}, ""},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := f.escrow.Create(context.Background(), in, tt.creator)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	next, err := f.escrow.GetNextID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, next, "rejected creates must not consume ids")

	t.Run("same player on both rosters is allowed", func(t *testing.T) {
		in := valid()
		in.TeamTwo = []string{"a"}
		_, err := f.escrow.Create(context.Background(), in, testCreator)
		assert.NoError(t, err)
	})
}

func TestEscrowContribute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "A", 20)
	id := f.create(t, []string{"kiv1n", "s1mple"}, []string{"lexus"}, 5)

	require.NoError(t, f.escrow.Contribute(ctx, id, " kiv1n ", "A"))
	assert.Equal(t, uint64(5), f.custody(t, id))

	who, ok, err := f.escrow.GetContribution(ctx, id, "kiv1n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", who)

	_, ok, err = f.escrow.GetContribution(ctx, id, "s1mple")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("second contribution is rejected", func(t *testing.T) {
		err := f.escrow.Contribute(ctx, id, "kiv1n", "A")
		assert.ErrorIs(t, err, ErrAlreadyContributed)
		assert.Equal(t, uint64(5), f.custody(t, id))
		assert.Equal(t, uint64(15), f.balance(t, "A"))
	})

	t.Run("unknown player", func(t *testing.T) {
		assert.ErrorIs(t, f.escrow.Contribute(ctx, id, "ghost", "A"), ErrUnknownPlayer)
		assert.ErrorIs(t, f.escrow.Contribute(ctx, id, "", "A"), ErrUnknownPlayer)
		_, _, err := f.escrow.GetContribution(ctx, id, "ghost")
		assert.ErrorIs(t, err, ErrUnknownPlayer)
	})

	t.Run("unknown tournament", func(t *testing.T) {
		assert.ErrorIs(t, f.escrow.Contribute(ctx, 42, "kiv1n", "A"), ErrNotFound)
		_, _, err := f.escrow.GetContribution(ctx, 42, "kiv1n")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing contributor", func(t *testing.T) {
		assert.ErrorIs(t, f.escrow.Contribute(ctx, id, "s1mple", ""), ErrInvalidArgument)
	})

	t.Run("failed pull records nothing", func(t *testing.T) {
		err := f.escrow.Contribute(ctx, id, "s1mple", "broke")
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.ErrorIs(t, err, ErrInsufficientAllowance)

		_, ok, err := f.escrow.GetContribution(ctx, id, "s1mple")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, uint64(5), f.custody(t, id))
	})

	t.Run("contributions stay open after start", func(t *testing.T) {
		require.NoError(t, f.escrow.Start(ctx, id, "LOBBY", testCreator))
		require.NoError(t, f.escrow.Contribute(ctx, id, "lexus", "A"))
		assert.Equal(t, uint64(10), f.custody(t, id))
	})

	t.Run("closed once finished", func(t *testing.T) {
		_, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
		require.NoError(t, err)
		assert.ErrorIs(t, f.escrow.Contribute(ctx, id, "s1mple", "A"), ErrInvalidState)
	})
}

func TestEscrowPlayerOnBothRosters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "A", 10)
	id := f.create(t, []string{"twin"}, []string{"twin"}, 5)

	assert.ErrorIs(t, f.escrow.Contribute(ctx, id, "twin", "A"), ErrInvalidArgument)
	assert.ErrorIs(t, f.escrow.ContributeToSlot(ctx, id, models.TeamNone, "twin", "A"), ErrInvalidArgument)

	require.NoError(t, f.escrow.ContributeToSlot(ctx, id, models.TeamTwo, "twin", "A"))
	assert.ErrorIs(t, f.escrow.ContributeToSlot(ctx, id, models.TeamTwo, "twin", "A"), ErrAlreadyContributed)

	who, ok, err := f.escrow.GetSlotContribution(ctx, id, models.TeamTwo, "twin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", who)

	_, ok, err = f.escrow.GetSlotContribution(ctx, id, models.TeamOne, "twin")
	require.NoError(t, err)
	assert.False(t, ok)

	slots, err := f.escrow.ListContributions(ctx, id)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, models.TeamOne, slots[0].Team)
	assert.Nil(t, slots[0].Contributor)
	require.NotNil(t, slots[1].Contributor)
	assert.Equal(t, "A", *slots[1].Contributor)
}

func TestEscrowStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, []string{"a"}, []string{"b"}, 1)

	assert.ErrorIs(t, f.escrow.Start(ctx, 99, "CODE", testCreator), ErrNotFound)
	assert.ErrorIs(t, f.escrow.Start(ctx, id, "CODE", "0xintruder"), ErrUnauthorized)
	assert.ErrorIs(t, f.escrow.Start(ctx, id, "", "0xintruder"), ErrUnauthorized, "ownership is checked before arguments")
	assert.ErrorIs(t, f.escrow.Start(ctx, id, "  ", testCreator), ErrInvalidArgument)
	assert.Equal(t, models.StateCreated, f.state(t, id).State)

	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))
	assert.ErrorIs(t, f.escrow.Start(ctx, id, "OTHER", testCreator), ErrInvalidState)

	p := f.state(t, id)
	assert.Equal(t, models.StateStarted, p.State)
	assert.Equal(t, "CODE", *p.StartCode)
}

func TestEscrowFinish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, []string{"a"}, []string{"b"}, 1)

	_, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	assert.ErrorIs(t, err, ErrInvalidState, "finish before start")

	_, err = f.escrow.GetSettlement(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))

	_, err = f.escrow.Finish(ctx, 99, models.TeamOne, testCreator)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.escrow.Finish(ctx, id, models.TeamOne, "0xintruder")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.escrow.Finish(ctx, id, models.TeamNone, testCreator)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, models.StateStarted, f.state(t, id).State)

	_, err = f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)

	_, err = f.escrow.Finish(ctx, id, models.TeamTwo, testCreator)
	assert.ErrorIs(t, err, ErrInvalidState, "finish twice")
	assert.Equal(t, models.TeamOne, f.state(t, id).Winner)
}

func TestEscrowFinishRetainsPoolWithoutWinners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "A", 10)
	id := f.create(t, []string{"a"}, []string{"b", "c"}, 3)

	require.NoError(t, f.escrow.Contribute(ctx, id, "b", "A"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "c", "A"))
	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))

	st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRetained, st.Outcome)
	assert.Zero(t, st.Disbursed)
	assert.Equal(t, uint64(6), st.Retained)
	assert.Empty(t, st.Payouts)
	assert.Equal(t, uint64(6), f.custody(t, id))
	assert.Equal(t, models.StateFinished, f.state(t, id).State)
}

func TestEscrowFinishPaysEveryWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, who := range []string{"A", "B", "C"} {
		f.fund(t, who, 100)
	}
	id := f.create(t, []string{"p1", "p2", "p3"}, []string{"q1", "q2"}, 10)

	require.NoError(t, f.escrow.Contribute(ctx, id, "p1", "A"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "p2", "A"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "p3", "B"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "q1", "C"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "q2", "C"))
	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))

	st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), st.Pool)
	assert.Equal(t, uint64(50), st.Disbursed)

	assert.Equal(t, uint64(80+33), f.balance(t, "A"))
	assert.Equal(t, uint64(90+17), f.balance(t, "B"))
	assert.Equal(t, uint64(80), f.balance(t, "C"))
	assert.Zero(t, f.custody(t, id))
}

func TestEscrowOwnershipTransferMovesRights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, []string{"a"}, []string{"b"}, 1)

	require.NoError(t, f.owners.Transfer(ctx, id, testCreator, "0xnew"))

	assert.ErrorIs(t, f.escrow.Start(ctx, id, "CODE", testCreator), ErrUnauthorized)
	require.NoError(t, f.escrow.Start(ctx, id, "CODE", "0xnew"))

	owner, err := f.escrow.GetOwner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0xnew", owner)
}

func TestEscrowConcurrentContributionsToOneSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, []string{"star"}, []string{"b"}, 5)

	const funders = 8
	for i := 0; i < funders; i++ {
		f.fund(t, fmt.Sprintf("F%d", i), 5)
	}

	errs := make([]error, funders)
	var wg sync.WaitGroup
	for i := 0; i < funders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.escrow.Contribute(ctx, id, "star", fmt.Sprintf("F%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyContributed)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, uint64(5), f.custody(t, id))
}

func TestEscrowConcurrentTournamentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 5
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = f.create(t, []string{"a"}, []string{"b"}, 2)
		f.fund(t, fmt.Sprintf("A%d", i), 2)
		f.fund(t, fmt.Sprintf("B%d", i), 2)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint64) {
			defer wg.Done()
			assert.NoError(t, f.escrow.Contribute(ctx, id, "a", fmt.Sprintf("A%d", i)))
			assert.NoError(t, f.escrow.Contribute(ctx, id, "b", fmt.Sprintf("B%d", i)))
			assert.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))
			_, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
			assert.NoError(t, err)
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		assert.Zero(t, f.custody(t, id))
		assert.Equal(t, uint64(4), f.balance(t, fmt.Sprintf("A%d", i)))
		assert.Zero(t, f.balance(t, fmt.Sprintf("B%d", i)))
	}
}

// failingLedger lets pulls through and fails the n-th push.
type failingLedger struct {
	*TokenLedger
	failOnPush int
	pushes     int
}

func (l *failingLedger) Push(tx *gorm.DB, token, from, to string, amount uint64, memo string) error {
	l.pushes++
	if l.pushes == l.failOnPush {
		return errors.New("recipient cannot receive")
	}
	return l.TokenLedger.Push(tx, token, from, to, amount, memo)
}

func TestEscrowFinishRollsBackOnFailedPayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ledger := &failingLedger{TokenLedger: f.ledger, failOnPush: 2}
	f.escrow.Ledger = ledger

	f.fund(t, "A", 10)
	f.fund(t, "B", 10)
	f.fund(t, "C", 10)
	id := f.create(t, []string{"a", "b"}, []string{"c"}, 4)
	require.NoError(t, f.escrow.Contribute(ctx, id, "a", "A"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "b", "B"))
	require.NoError(t, f.escrow.Contribute(ctx, id, "c", "C"))
	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))

	_, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.True(t, strings.Contains(err.Error(), "recipient cannot receive"))

	assert.Equal(t, uint64(12), f.custody(t, id), "first payout must be rolled back too")
	assert.Equal(t, uint64(6), f.balance(t, "A"))
	p := f.state(t, id)
	assert.Equal(t, models.StateStarted, p.State)
	assert.Equal(t, models.TeamNone, p.Winner)

	ledger.failOnPush = 0
	st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), st.Disbursed)
	assert.Equal(t, uint64(12), f.balance(t, "A"))
	assert.Equal(t, uint64(12), f.balance(t, "B"))
}

type fixedOutcome struct{ team models.Team }

func (o fixedOutcome) Adjudicate(context.Context, *models.Tournament, models.Team) (models.Team, error) {
	return o.team, nil
}

func TestEscrowUsesAdjudicator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.escrow.Adjudicator = fixedOutcome{team: models.TeamTwo}

	id := f.create(t, []string{"a"}, []string{"b"}, 1)
	require.NoError(t, f.escrow.Start(ctx, id, "CODE", testCreator))

	st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)
	assert.Equal(t, models.TeamTwo, st.WinningTeam)
	assert.Equal(t, models.TeamTwo, f.state(t, id).Winner)
}
