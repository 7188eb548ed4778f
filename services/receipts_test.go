package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"xp-tournaments/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
	// failPrefix rejects only the keys it prefixes.
	failPrefix string
}

func (m *memoryStore) PutReceipt(_ context.Context, key string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || (m.failPrefix != "" && strings.HasPrefix(key, m.failPrefix)) {
		return "", errors.New("bucket unavailable")
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = body
	return "https://cdn.test/" + key, nil
}

func TestReceiptArchiver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "A", 10)

	id := f.create(t, []string{"kiv1n"}, []string{"lexus"}, 5)
	require.NoError(t, f.escrow.Contribute(ctx, id, "kiv1n", "A"))
	require.NoError(t, f.escrow.Start(ctx, id, "AMG7-XXEQ", testCreator))
	st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
	require.NoError(t, err)

	store := &memoryStore{fail: true}
	archiver := NewReceiptArchiver(f.db, store)

	n, err := archiver.ArchivePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed uploads stay pending")

	store.fail = false
	n, err = archiver.ArchivePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := "settlements/major-qualifier-0/" + st.ID + ".json"
	require.Contains(t, store.objects, key)

	var receipt SettlementReceipt
	require.NoError(t, json.Unmarshal(store.objects[key], &receipt))
	assert.Equal(t, id, receipt.TournamentID)
	assert.Equal(t, "Counter-Strike 2", receipt.Game)
	require.NotNil(t, receipt.StartCode)
	assert.Equal(t, "AMG7-XXEQ", *receipt.StartCode)
	require.Len(t, receipt.Settlement.Payouts, 1)
	assert.Equal(t, uint64(5), receipt.Settlement.Payouts[0].Amount)

	stored, err := f.escrow.GetSettlement(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.ArchivedAt)
	assert.Equal(t, "https://cdn.test/"+key, stored.ArchiveURL)

	n, err = archiver.ArchivePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "archived settlements are not uploaded again")
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func TestReceiptScheduler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.create(t, []string{"a"}, []string{"b"}, 1)
	require.NoError(t, f.escrow.Start(ctx, id, "GO", testCreator))
	_, err := f.escrow.Finish(ctx, id, models.TeamTwo, testCreator)
	require.NoError(t, err)

	store := &memoryStore{}
	sched, err := NewReceiptArchiver(f.db, store).StartReceiptScheduler(20 * time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = sched.Shutdown() }()

	require.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiptArchiverFailingReceiptDoesNotBlockBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var settled []*models.Settlement
	for i := 0; i < 2; i++ {
		id := f.create(t, []string{"a"}, []string{"b"}, 1)
		require.NoError(t, f.escrow.Start(ctx, id, "GO", testCreator))
		st, err := f.escrow.Finish(ctx, id, models.TeamOne, testCreator)
		require.NoError(t, err)
		settled = append(settled, st)
	}

	store := &memoryStore{failPrefix: "settlements/major-qualifier-0/"}
	archiver := NewReceiptArchiver(f.db, store)
	archiver.BatchSize = 1

	for i := 0; i < 2; i++ {
		_, err := archiver.ArchivePending(ctx)
		require.NoError(t, err)
	}

	var stuck, next models.Settlement
	require.NoError(t, f.db.First(&stuck, "id = ?", settled[0].ID).Error)
	require.NoError(t, f.db.First(&next, "id = ?", settled[1].ID).Error)
	assert.Nil(t, stuck.ArchivedAt)
	assert.Positive(t, stuck.ArchiveAttempts)
	require.NotNil(t, next.ArchivedAt)
	assert.Zero(t, next.ArchiveAttempts)

	store.mu.Lock()
	store.failPrefix = ""
	store.mu.Unlock()
	n, err := archiver.ArchivePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
