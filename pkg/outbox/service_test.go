package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/pkg/db/dbtest"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

func TestEmitStoresEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	campaignID := uuid.New()
	actorID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCampaignStatusChanged,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   campaignID,
			Actor:         &ActorRef{UserID: &actorID, Role: enums.ActorRoleSeller},
			Data:          map[string]string{"to": "ACTIVE"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.NotEqual(t, uuid.Nil, rows[0].ID)
	assert.Equal(t, campaignID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	require.NotNil(t, envelope.Actor.UserID)
	assert.Equal(t, actorID, *envelope.Actor.UserID)
	assert.JSONEq(t, `{"to":"ACTIVE"}`, string(envelope.Data))
}

func TestEmitRejectsInvalidInput(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     "order_created",
			AggregateType: enums.AggregateCampaign,
			AggregateID:   uuid.New(),
		})
	})
	require.Error(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   uuid.New(),
		})
	})
	require.Error(t, err, "events without data are rejected")

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateCampaign,
			Data:          map[string]string{"action": "campaign.created"},
		})
	})
	require.Error(t, err, "events without aggregate id are rejected")
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateUGC,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"action": "ugc.validated"},
		}); err != nil {
			return err
		}
		return errors.New("state change failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	now := time.Now().UTC()
	base := now.Add(-time.Hour)
	retryAt := now.Add(10 * time.Minute)

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, repo.Insert(db, models.OutboxEvent{
			ID:            ids[i],
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3, now)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, ids[0], rows[0].ID)

		require.NoError(t, repo.MarkPublishedTx(tx, ids[0]))
		require.NoError(t, repo.MarkFailedTx(tx, ids[1], errors.New("timeout"), retryAt))
		return repo.MarkTerminalTx(tx, ids[2], errors.New("bad payload"), 3)
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3, now)
		require.NoError(t, err)
		assert.Empty(t, rows, "failed row must wait out its backoff")
		return nil
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3, retryAt.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, ids[1], rows[0].ID)
		assert.Equal(t, 1, rows[0].AttemptCount)
		require.NotNil(t, rows[0].LastError)
		assert.Equal(t, "timeout", *rows[0].LastError)
		return nil
	}))

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestRetryBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0:  2 * time.Second,
		1:  2 * time.Second,
		2:  4 * time.Second,
		3:  8 * time.Second,
		8:  256 * time.Second,
		9:  5 * time.Minute,
		40: 5 * time.Minute,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, RetryBackoff(attempt), "attempt %d", attempt)
	}
}

func TestDLQRepositoryInsertTruncates(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDLQRepository(db)
	eventID := uuid.New()
	long := make([]byte, maxDLQErrorLen+50)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)

	require.NoError(t, repo.InsertTx(db, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateUGC,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
		FailedAt:      time.Now().UTC(),
	}))

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDLQRepositoryCountByReasonSince(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDLQRepository(db)
	now := time.Now().UTC()

	insert := func(reason enums.OutboxDLQErrorReason, failedAt time.Time) {
		require.NoError(t, repo.InsertTx(db, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   reason,
			FailedAt:      failedAt,
		}))
	}
	insert(enums.OutboxDLQReasonMaxAttempts, now)
	insert(enums.OutboxDLQReasonMaxAttempts, now)
	insert(enums.OutboxDLQReasonInvalidPayload, now)
	insert(enums.OutboxDLQReasonTopicUnconfigured, now.Add(-48*time.Hour))

	counts, err := repo.CountByReasonSince(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.OutboxDLQReasonMaxAttempts])
	assert.Equal(t, int64(1), counts[enums.OutboxDLQReasonInvalidPayload])
	assert.Zero(t, counts[enums.OutboxDLQReasonTopicUnconfigured])

	err = repo.InsertTx(db, models.OutboxDLQ{EventID: uuid.New(), ErrorReason: "bogus"})
	require.Error(t, err)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "short", truncate("short", 10))
}
