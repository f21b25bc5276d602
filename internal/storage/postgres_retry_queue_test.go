package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/config"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
)

func newTestQueueRepo(t *testing.T, match sqlmock.QueryMatcher) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(match))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{
		db: gormDB,
		queuePolicy: config.RetryQueueConfig{
			MaxRetries:        5,
			BaseDelay:         time.Minute,
			MaxDelay:          24 * time.Hour,
			BackoffMultiplier: 2.0,
		},
	}
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return repo, mock, teardown
}

func TestPostgresRepo_Enqueue_Success(t *testing.T) {
	repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := context.Background()

	// Zero-valued columns with defaults are filled back via RETURNING.
	returnedRows := sqlmock.NewRows([]string{"retry_count", "processed"}).AddRow(0, false)
	mock.ExpectQuery(`INSERT INTO "webhook_retry_queue"`).
		WillReturnRows(returnedRows)

	id, err := repo.Enqueue(ctx, string(model.WebhookTypeStripe), testEventID, []byte(`{"id":"evt_abc_456"}`), 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPostgresRepo_Enqueue_InsertFails(t *testing.T) {
	repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO "webhook_retry_queue"`).
		WillReturnError(errors.New("insert exploded"))

	id, err := repo.Enqueue(ctx, string(model.WebhookTypeStripe), testEventID, []byte(`{}`), 0)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Empty(t, id)
}

func TestPostgresRepo_GetPending(t *testing.T) {
	t.Run("Returns Due Items Oldest First", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()
		now := time.Now()

		cols := []string{"id", "webhook_type", "webhook_id", "payload", "retry_count", "max_retries", "scheduled_at", "processed"}
		rows := sqlmock.NewRows(cols).
			AddRow("item-1", "stripe", "evt_1", []byte(`{}`), 0, 5, now.Add(-2*time.Minute), false).
			AddRow("item-2", "stripe", "evt_2", []byte(`{}`), 1, 5, now.Add(-time.Minute), false)
		selectQuery := `SELECT * FROM "webhook_retry_queue" WHERE processed = $1 AND scheduled_at <= $2 ORDER BY scheduled_at ASC LIMIT $3`
		mock.ExpectQuery(selectQuery).WithArgs(false, AnyTime{}, 10).WillReturnRows(rows)

		items, err := repo.GetPending(ctx, 10)
		assert.NoError(t, err)
		assert.Len(t, items, 2)
		assert.Equal(t, "item-1", items[0].ID)
		assert.Equal(t, "item-2", items[1].ID)
	})

	t.Run("Empty Queue Returns Empty Slice", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		selectQuery := `SELECT * FROM "webhook_retry_queue" WHERE processed = $1 AND scheduled_at <= $2 ORDER BY scheduled_at ASC LIMIT $3`
		mock.ExpectQuery(selectQuery).WithArgs(false, AnyTime{}, 50).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		// Non-positive limits fall back to the default batch size.
		items, err := repo.GetPending(ctx, 0)
		assert.NoError(t, err)
		assert.NotNil(t, items)
		assert.Len(t, items, 0)
	})
}

func TestPostgresRepo_MarkProcessed(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
		t.Cleanup(teardown)
		ctx := context.Background()

		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET`).
			WithArgs(nil, true, AnyTime{}, AnyTime{}, "item-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkProcessed(ctx, "item-1")
		assert.NoError(t, err)
	})

	t.Run("Unknown Item", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
		t.Cleanup(teardown)
		ctx := context.Background()

		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET`).
			WithArgs(nil, true, AnyTime{}, AnyTime{}, "item-404").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkProcessed(ctx, "item-404")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_MarkFailed(t *testing.T) {
	lockQuery := `SELECT * FROM "webhook_retry_queue" WHERE id = $1 ORDER BY "webhook_retry_queue"."id" LIMIT $2 FOR UPDATE`
	cols := []string{"id", "webhook_type", "webhook_id", "payload", "retry_count", "max_retries", "scheduled_at", "processed"}

	t.Run("Reschedules While Budget Remains", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		rows := sqlmock.NewRows(cols).
			AddRow("item-1", "stripe", "evt_1", []byte(`{}`), 0, 5, time.Now(), false)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("item-1", 1).WillReturnRows(rows)
		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET "error_message"=$1,"retry_count"=$2,"scheduled_at"=$3,"updated_at"=$4 WHERE "id" = $5`).
			WithArgs("boom", 1, AnyTime{}, AnyTime{}, "item-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.MarkFailed(ctx, "item-1", "boom")
		assert.NoError(t, err)
	})

	t.Run("Goes Terminal When Budget Is Spent", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		rows := sqlmock.NewRows(cols).
			AddRow("item-1", "stripe", "evt_1", []byte(`{}`), 5, 5, time.Now(), false)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("item-1", 1).WillReturnRows(rows)
		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET "error_message"=$1,"processed"=$2,"processed_at"=$3,"updated_at"=$4 WHERE "id" = $5`).
			WithArgs("max retries (5) reached: boom", true, AnyTime{}, AnyTime{}, "item-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.MarkFailed(ctx, "item-1", "boom")
		assert.NoError(t, err)
	})

	t.Run("Already Settled Is A No-Op", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		rows := sqlmock.NewRows(cols).
			AddRow("item-1", "stripe", "evt_1", []byte(`{}`), 2, 5, time.Now(), true)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("item-1", 1).WillReturnRows(rows)
		mock.ExpectCommit()

		err := repo.MarkFailed(ctx, "item-1", "boom")
		assert.NoError(t, err)
	})

	t.Run("Unknown Item", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("item-404", 1).WillReturnError(gorm.ErrRecordNotFound)
		mock.ExpectRollback()

		err := repo.MarkFailed(ctx, "item-404", "boom")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_MarkExhausted(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
		t.Cleanup(teardown)
		ctx := context.Background()

		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET`).
			WithArgs("permanent failure: no account for email", true, AnyTime{}, AnyTime{}, "item-1", false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkExhausted(ctx, "item-1", "no account for email")
		assert.NoError(t, err)
	})

	t.Run("Already Settled Is A No-Op", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherRegexp)
		t.Cleanup(teardown)
		ctx := context.Background()

		mock.ExpectExec(`UPDATE "webhook_retry_queue" SET`).
			WithArgs("permanent failure: stale", true, AnyTime{}, AnyTime{}, "item-1", false).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkExhausted(ctx, "item-1", "stale")
		assert.NoError(t, err)
	})
}

func TestPostgresRepo_Cleanup(t *testing.T) {
	t.Run("Deletes Old Processed Rows", func(t *testing.T) {
		repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		deleteQuery := `DELETE FROM "webhook_retry_queue" WHERE processed = $1 AND processed_at < $2`
		mock.ExpectExec(deleteQuery).WithArgs(true, AnyTime{}).WillReturnResult(sqlmock.NewResult(0, 7))

		deleted, err := repo.Cleanup(ctx, 30)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), deleted)
	})

	t.Run("Rejects Non-Positive Retention", func(t *testing.T) {
		repo, _, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
		t.Cleanup(teardown)
		ctx := context.Background()

		deleted, err := repo.Cleanup(ctx, 0)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.Zero(t, deleted)
	})
}

func TestPostgresRepo_CountPending(t *testing.T) {
	repo, mock, teardown := newTestQueueRepo(t, sqlmock.QueryMatcherEqual)
	t.Cleanup(teardown)
	ctx := context.Background()

	countQuery := `SELECT count(*) FROM "webhook_retry_queue" WHERE processed = $1`
	mock.ExpectQuery(countQuery).WithArgs(false).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountPending(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
