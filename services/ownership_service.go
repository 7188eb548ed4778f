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

// OwnerRegistry is what the escrow engine needs from the ownership tokens:
// minting one per tournament and reading its current holder.
type OwnerRegistry interface {
	Mint(tx *gorm.DB, tournamentID uint64, owner string) error
	OwnerOf(tx *gorm.DB, tournamentID uint64) (string, error)
}

// OwnershipRegistry stores one non-fungible ownership token per tournament id.
type OwnershipRegistry struct {
	DB *gorm.DB
}

func NewOwnershipRegistry(db *gorm.DB) *OwnershipRegistry {
	return &OwnershipRegistry{DB: db}
}

var _ OwnerRegistry = (*OwnershipRegistry)(nil)

// Mint creates the token for tournamentID. Minting an id twice fails.
func (r *OwnershipRegistry) Mint(tx *gorm.DB, tournamentID uint64, owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	}
	db := tx
	if db == nil {
		db = r.DB
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.OwnershipToken{TournamentID: tournamentID, Owner: owner})
	if res.Error != nil {
		return fmt.Errorf("mint ownership token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: ownership token %d already minted", ErrInvalidState, tournamentID)
	}
	return db.Create(&models.OwnershipTransfer{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		To:           owner,
	}).Error
}

// OwnerOf returns the current holder of the token.
func (r *OwnershipRegistry) OwnerOf(tx *gorm.DB, tournamentID uint64) (string, error) {
	db := tx
	if db == nil {
		db = r.DB
	}
	var token models.OwnershipToken
	if err := db.Take(&token, "tournament_id = ?", tournamentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: no ownership token for %d", ErrNotFound, tournamentID)
		}
		return "", err
	}
	return token.Owner, nil
}

// Transfer hands the token to a new owner. Only the current owner may do so.
// The new owner is the only one allowed to start or finish the tournament
// from then on.
func (r *OwnershipRegistry) Transfer(ctx context.Context, tournamentID uint64, from, to string) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalidArgument)
	}

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.OwnershipToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&token, "tournament_id = ?", tournamentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no ownership token for %d", ErrNotFound, tournamentID)
		}
		if err != nil {
			return err
		}
		if token.Owner != from {
			return ErrNotOwner
		}
		if from == to {
			return nil
		}

		if err := tx.Model(&models.OwnershipToken{}).Where("tournament_id = ?", tournamentID).Update("owner", to).Error; err != nil {
			return fmt.Errorf("update owner: %w", err)
		}
		if err := tx.Create(&models.OwnershipTransfer{
			ID:           uuid.NewString(),
			TournamentID: tournamentID,
			From:         from,
			To:           to,
		}).Error; err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
		log.Printf("🔑 [OWNERSHIP] tournament %d moved from %s to %s", tournamentID, from, to)
		return nil
	})
}

// History lists every owner change of the token, oldest first.
func (r *OwnershipRegistry) History(ctx context.Context, tournamentID uint64) ([]models.OwnershipTransfer, error) {
	if _, err := r.OwnerOf(r.DB.WithContext(ctx), tournamentID); err != nil {
		return nil, err
	}
	var transfers []models.OwnershipTransfer
	err := r.DB.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("created_at ASC").
		Find(&transfers).Error
	return transfers, err
}
