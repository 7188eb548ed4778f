package services

import (
	"fmt"
	"math/bits"
	"sort"

	"xp-tournaments/models"
)

// FundedSlot is a roster slot that has a recorded contribution.
type FundedSlot struct {
	Team        models.Team
	Position    int
	Contributor string
}

// PayoutLine is what one distinct winning contributor receives.
type PayoutLine struct {
	Recipient string
	SlotsWon  int
	Stake     uint64 // contribution amount × slots won
	Share     uint64 // part of the losing roster's pool
	Amount    uint64 // Stake + Share
}

// SettlementPlan is the result of ComputeSettlement. Payouts are ordered by
// the roster position of each recipient's first winning slot.
type SettlementPlan struct {
	WinningTeam  models.Team
	Pool         uint64
	LosingPool   uint64
	WinningSlots int
	Payouts      []PayoutLine
	Retained     uint64
}

// Disbursed is the total paid out by the plan.
func (p SettlementPlan) Disbursed() uint64 {
	var total uint64
	for _, line := range p.Payouts {
		total += line.Amount
	}
	return total
}

// Outcome reports whether the plan pays anybody.
func (p SettlementPlan) Outcome() models.SettlementOutcome {
	if len(p.Payouts) == 0 {
		return models.OutcomeRetained
	}
	return models.OutcomePaid
}

// ComputeSettlement splits the pool of a tournament between the contributors
// who backed the winning roster.
//
// Every winning contributor gets back amount × slotsWon plus
// losingPool × slotsWon / totalWinningSlots. Units lost to integer division
// are handed out one by one, largest fractional remainder first and roster
// order on ties, so the payouts always add up to the pool. When nobody backed
// the winner the whole pool is retained.
func ComputeSettlement(amount uint64, winner models.Team, funded []FundedSlot) (SettlementPlan, error) {
	if !winner.IsRoster() {
		return SettlementPlan{}, fmt.Errorf("%w: winner must be %s or %s", ErrInvalidArgument, models.TeamOne, models.TeamTwo)
	}
	if amount == 0 {
		return SettlementPlan{}, fmt.Errorf("%w: contribution amount is zero", ErrInvalidArgument)
	}

	winning := make([]FundedSlot, 0, len(funded))
	losingCount := 0
	for _, slot := range funded {
		switch slot.Team {
		case winner:
			winning = append(winning, slot)
		case winner.Opponent():
			losingCount++
		default:
			return SettlementPlan{}, fmt.Errorf("%w: slot on unknown team %q", ErrInvalidArgument, slot.Team)
		}
	}
	sort.SliceStable(winning, func(i, j int) bool { return winning[i].Position < winning[j].Position })

	pool, err := mulAmount(amount, uint64(len(funded)))
	if err != nil {
		return SettlementPlan{}, err
	}
	losingPool, err := mulAmount(amount, uint64(losingCount))
	if err != nil {
		return SettlementPlan{}, err
	}

	plan := SettlementPlan{
		WinningTeam:  winner,
		Pool:         pool,
		LosingPool:   losingPool,
		WinningSlots: len(winning),
	}
	if len(winning) == 0 {
		plan.Retained = pool
		return plan, nil
	}

	// Group winning slots per address, keeping first-seen order.
	index := make(map[string]int, len(winning))
	for _, slot := range winning {
		i, ok := index[slot.Contributor]
		if !ok {
			i = len(plan.Payouts)
			index[slot.Contributor] = i
			plan.Payouts = append(plan.Payouts, PayoutLine{Recipient: slot.Contributor})
		}
		plan.Payouts[i].SlotsWon++
	}

	total := uint64(len(winning))
	remainders := make([]uint64, len(plan.Payouts))
	var distributed uint64
	for i := range plan.Payouts {
		line := &plan.Payouts[i]
		slots := uint64(line.SlotsWon)
		line.Stake = amount * slots // bounded by pool

		hi, lo := bits.Mul64(losingPool, slots)
		line.Share, remainders[i] = bits.Div64(hi, lo, total)
		distributed += line.Share
	}

	leftover := losingPool - distributed
	if leftover > 0 {
		order := make([]int, len(plan.Payouts))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return remainders[order[a]] > remainders[order[b]]
		})
		for _, i := range order {
			if leftover == 0 {
				break
			}
			plan.Payouts[i].Share++
			leftover--
		}
	}

	for i := range plan.Payouts {
		plan.Payouts[i].Amount = plan.Payouts[i].Stake + plan.Payouts[i].Share
	}
	return plan, nil
}

// mulAmount multiplies token quantities, refusing results that do not fit the
// signed 64-bit columns the ledger is stored in.
func mulAmount(amount, count uint64) (uint64, error) {
	hi, lo := bits.Mul64(amount, count)
	if hi != 0 || lo > maxStoredAmount {
		return 0, fmt.Errorf("%w: %d × %d", ErrAmountOverflow, amount, count)
	}
	return lo, nil
}

// addAmount adds token quantities with the same bound as mulAmount.
func addAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 || sum > maxStoredAmount {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return sum, nil
}

// maxStoredAmount is the largest quantity a bigint column can hold.
const maxStoredAmount = 1<<63 - 1
