package postcard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Postcard{}, &models.PostcardEvent{}))
	return NewRepository(conn)
}

func seedPostcard(t *testing.T, repo Repository, status enums.PostcardStatus) *models.Postcard {
	t.Helper()
	pc := &models.Postcard{
		UserID:         uuid.New(),
		Status:         status,
		TemplateID:     "classic",
		OriginalText:   "hello from busan",
		RecipientEmail: "friend@example.com",
	}
	require.NoError(t, repo.Create(context.Background(), pc))
	return pc
}

func TestGetReturnsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCreateDefaultsToWriting(t *testing.T) {
	repo := newTestRepo(t)
	pc := &models.Postcard{
		UserID:         uuid.New(),
		TemplateID:     "classic",
		OriginalText:   "hi",
		RecipientEmail: "friend@example.com",
	}
	require.NoError(t, repo.Create(context.Background(), pc))
	assert.NotEqual(t, uuid.Nil, pc.ID)

	got, err := repo.Get(context.Background(), pc.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PostcardStatusWriting, got.Status)
}

func TestClaimOnlyOneWinner(t *testing.T) {
	repo := newTestRepo(t)
	pc := seedPostcard(t, repo, enums.PostcardStatusWriting)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, pc.ID, enums.PostcardStatusProcessing, enums.PostcardStatusWriting)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim along the same edge loses.
	claimed, err = repo.Claim(ctx, pc.ID, enums.PostcardStatusProcessing, enums.PostcardStatusWriting)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.Get(ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PostcardStatusProcessing, got.Status)
}

func TestClaimAcceptsMultipleFromStatuses(t *testing.T) {
	repo := newTestRepo(t)
	pc := seedPostcard(t, repo, enums.PostcardStatusFailed)
	ctx := context.Background()

	claimed, err := repo.Claim(ctx, pc.ID, enums.PostcardStatusProcessing,
		enums.PostcardStatusWriting, enums.PostcardStatusFailed)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimRejectsEdgeOutsideLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	pc := seedPostcard(t, repo, enums.PostcardStatusSent)
	ctx := context.Background()

	_, err := repo.Claim(ctx, pc.ID, enums.PostcardStatusProcessing, enums.PostcardStatusSent)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))

	got, err := repo.Get(ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PostcardStatusSent, got.Status, "a sent postcard never re-enters the pipeline")
}

func TestFailStaleRespectsCutoff(t *testing.T) {
	repo := newTestRepo(t)
	pc := seedPostcard(t, repo, enums.PostcardStatusProcessing)
	ctx := context.Background()

	// A fresh row is not stale.
	failed, err := repo.FailStale(ctx, pc.ID, "processing interrupted by restart", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, failed)

	failed, err = repo.FailStale(ctx, pc.ID, "processing interrupted by restart", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, failed)

	got, err := repo.Get(ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PostcardStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "processing interrupted by restart", *got.ErrorMessage)
}

func TestListPendingScheduledOrdersByFireTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	later := seedPostcard(t, repo, enums.PostcardStatusPending)
	sooner := seedPostcard(t, repo, enums.PostcardStatusPending)
	unscheduled := seedPostcard(t, repo, enums.PostcardStatusPending)
	_ = unscheduled

	require.NoError(t, repo.Update(ctx, later.ID, map[string]any{"scheduled_at": time.Now().Add(2 * time.Hour)}))
	require.NoError(t, repo.Update(ctx, sooner.ID, map[string]any{"scheduled_at": time.Now().Add(time.Hour)}))

	rows, err := repo.ListPendingScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, sooner.ID, rows[0].ID)
	assert.Equal(t, later.ID, rows[1].ID)
}

func TestCountInStatusesScopedToUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pc := seedPostcard(t, repo, enums.PostcardStatusSent)
	require.NoError(t, repo.Create(ctx, &models.Postcard{
		UserID:         pc.UserID,
		Status:         enums.PostcardStatusFailed,
		TemplateID:     "classic",
		OriginalText:   "again",
		RecipientEmail: "friend@example.com",
	}))
	seedPostcard(t, repo, enums.PostcardStatusSent) // different user

	count, err := repo.CountInStatuses(ctx, pc.UserID,
		enums.PostcardStatusSent, enums.PostcardStatusPending, enums.PostcardStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteRemovesEventLog(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Postcard{}, &models.PostcardEvent{}))
	repo := NewRepository(conn)
	ctx := context.Background()

	pc := seedPostcard(t, repo, enums.PostcardStatusSent)
	require.NoError(t, conn.Create(&models.PostcardEvent{
		ID:         uuid.New(),
		PostcardID: pc.ID,
		EventType:  enums.PostcardEventCompleted,
	}).Error)

	require.NoError(t, repo.Delete(ctx, pc.ID))

	var events int64
	require.NoError(t, conn.Model(&models.PostcardEvent{}).Where("postcard_id = ?", pc.ID).Count(&events).Error)
	assert.Equal(t, int64(0), events, "no orphaned history rows")
	_, err = repo.Get(ctx, pc.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Delete(context.Background(), uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
