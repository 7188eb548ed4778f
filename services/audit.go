package services

import (
	"context"
	"fmt"

	"xp-tournaments/models"

	"gorm.io/gorm"
)

// CustodyDiscrepancy is a tournament whose custody account does not hold
// what its contributions and settlement say it should.
type CustodyDiscrepancy struct {
	TournamentID uint64 `json:"tournament_id"`
	Token        string `json:"token"`
	Account      string `json:"account"`
	Expected     uint64 `json:"expected"`
	Actual       uint64 `json:"actual"`
}

// CustodyAuditor checks every tournament's custody balance against
// amount × contributions − disbursed.
type CustodyAuditor struct {
	DB     *gorm.DB
	Ledger FundingLedger
	Escrow *EscrowService
}

func NewCustodyAuditor(db *gorm.DB, ledger FundingLedger, escrow *EscrowService) *CustodyAuditor {
	return &CustodyAuditor{DB: db, Ledger: ledger, Escrow: escrow}
}

type custodyRow struct {
	ID                 uint64
	FundingToken       string
	ContributionAmount uint64
	Contributions      int64
}

// Audit returns every discrepancy found, in tournament id order.
func (a *CustodyAuditor) Audit(ctx context.Context) ([]CustodyDiscrepancy, error) {
	ctx, span := tracer.Start(ctx, "custody.Audit")
	defer span.End()

	db := a.DB.WithContext(ctx)

	var rows []custodyRow
	err := db.Model(&models.Tournament{}).
		Select("tournaments.id, tournaments.funding_token, tournaments.contribution_amount, COUNT(roster_slots.contributor) AS contributions").
		Joins("LEFT JOIN roster_slots ON roster_slots.tournament_id = tournaments.id").
		Group("tournaments.id, tournaments.funding_token, tournaments.contribution_amount").
		Order("tournaments.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load custody totals: %w", err)
	}

	var settlements []models.Settlement
	if err := db.Select("tournament_id", "disbursed").Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}
	disbursed := make(map[uint64]uint64, len(settlements))
	for _, st := range settlements {
		disbursed[st.TournamentID] = st.Disbursed
	}

	discrepancies := []CustodyDiscrepancy{}
	for _, row := range rows {
		account := a.Escrow.CustodyAccount(row.ID)
		actual, err := a.Ledger.BalanceOf(db, row.FundingToken, account)
		if err != nil {
			return nil, err
		}
		// Contribution totals are bounded at create time and disbursed never
		// exceeds them unless the books are already broken.
		funded := row.ContributionAmount * uint64(row.Contributions)
		var expected uint64
		if paid := disbursed[row.ID]; paid <= funded {
			expected = funded - paid
		}
		if actual != expected {
			discrepancies = append(discrepancies, CustodyDiscrepancy{
				TournamentID: row.ID,
				Token:        row.FundingToken,
				Account:      account,
				Expected:     expected,
				Actual:       actual,
			})
		}
	}
	return discrepancies, nil
}
