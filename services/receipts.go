package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"xp-tournaments/models"

	"gorm.io/gorm"
)

// ReceiptStore persists a settlement receipt and returns where it can be read.
type ReceiptStore interface {
	PutReceipt(ctx context.Context, key string, body []byte) (string, error)
}

// SettlementReceipt is the public JSON document exported for every settlement.
type SettlementReceipt struct {
	TournamentID   uint64             `json:"tournament_id"`
	TournamentSlug string             `json:"tournament_slug"`
	TournamentName string             `json:"tournament_name"`
	Game           string             `json:"game"`
	FundingToken   string             `json:"funding_token"`
	StartCode      *string            `json:"start_code"`
	FinishedAt     *time.Time         `json:"finished_at"`
	Settlement     *models.Settlement `json:"settlement"`
}

// ReceiptArchiver uploads the receipts of settlements not archived yet.
type ReceiptArchiver struct {
	DB        *gorm.DB
	Store     ReceiptStore
	BatchSize int
}

func NewReceiptArchiver(db *gorm.DB, store ReceiptStore) *ReceiptArchiver {
	return &ReceiptArchiver{DB: db, Store: store, BatchSize: 50}
}

// ReceiptKey is the object key of a settlement receipt.
func ReceiptKey(t *models.Tournament, st *models.Settlement) string {
	return fmt.Sprintf("settlements/%s/%s.json", t.Slug, st.ID)
}

// ArchivePending uploads one batch of pending receipts and returns how many
// were archived. A failed upload stays pending with one more attempt counted,
// and the batch takes the fewest attempts first so it cannot block newer ones.
func (a *ReceiptArchiver) ArchivePending(ctx context.Context) (int, error) {
	db := a.DB.WithContext(ctx)

	var pending []models.Settlement
	err := db.Preload("Payouts", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).
		Where("archived_at IS NULL").
		Order("archive_attempts ASC").
		Order("created_at ASC").
		Limit(a.BatchSize).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("load pending settlements: %w", err)
	}

	archived := 0
	for i := range pending {
		st := &pending[i]
		t, err := loadTournament(db, st.TournamentID)
		if err != nil {
			return archived, err
		}

		body, err := json.MarshalIndent(SettlementReceipt{
			TournamentID:   t.ID,
			TournamentSlug: t.Slug,
			TournamentName: t.Name,
			Game:           t.Game.String(),
			FundingToken:   t.FundingToken,
			StartCode:      t.StartCode,
			FinishedAt:     t.FinishedAt,
			Settlement:     st,
		}, "", "  ")
		if err != nil {
			return archived, fmt.Errorf("encode receipt %s: %w", st.ID, err)
		}

		url, err := a.Store.PutReceipt(ctx, ReceiptKey(t, st), body)
		if err != nil {
			log.Printf("❌ [Receipts] upload of settlement %s failed: %v", st.ID, err)
			if err := db.Model(&models.Settlement{}).Where("id = ?", st.ID).
				UpdateColumn("archive_attempts", gorm.Expr("archive_attempts + 1")).Error; err != nil {
				return archived, fmt.Errorf("count archive attempt of %s: %w", st.ID, err)
			}
			continue
		}

		now := time.Now().UTC()
		if err := db.Model(&models.Settlement{}).Where("id = ?", st.ID).Updates(map[string]interface{}{
			"archived_at": now,
			"archive_url": url,
		}).Error; err != nil {
			return archived, fmt.Errorf("mark settlement %s archived: %w", st.ID, err)
		}
		archived++
		log.Printf("✅ [Receipts] tournament %d settlement archived at %s", t.ID, url)
	}
	return archived, nil
}
