/*
Copyright 2024 ECP Indexer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOutboxEvent_Inserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	createdAt := time.Now()
	event := &model.OutboxEvent{
		EventUID:      "comment.added:1700000000000:0d4f",
		EventType:     model.EventTypeCommentAdded,
		AggregateType: model.AggregateTypeComment,
		AggregateID:   "0xabc",
		Payload:       json.RawMessage(`{"id":"0xabc"}`),
	}

	mock.ExpectQuery("INSERT INTO event_outbox").
		WithArgs(event.EventUID, event.EventType, event.AggregateType, event.AggregateID, []byte(event.Payload)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, createdAt))

	inserted, err := ds.InsertOutboxEvent(context.Background(), db, event)
	assert.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(42), event.ID)
	assert.Equal(t, createdAt, event.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutboxEvent_DuplicateUID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	createdAt := time.Now().Add(-time.Hour)
	processedAt := time.Now().Add(-time.Minute)
	event := &model.OutboxEvent{
		EventUID:      "comment.added:1700000000000:0d4f",
		EventType:     model.EventTypeCommentAdded,
		AggregateType: model.AggregateTypeComment,
		AggregateID:   "0xabc",
		Payload:       json.RawMessage(`{"id":"0xabc"}`),
	}

	mock.ExpectQuery("INSERT INTO event_outbox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectQuery("SELECT (.+) FROM event_outbox WHERE event_uid").
		WithArgs(event.EventUID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "processed_at", "event_type", "aggregate_type", "aggregate_id", "payload"}).
			AddRow(7, createdAt, processedAt, model.EventTypeCommentAdded, model.AggregateTypeComment, "0xabc", []byte(`{"id":"0xabc"}`)))

	inserted, err := ds.InsertOutboxEvent(context.Background(), nil, event)
	assert.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(7), event.ID)
	require.NotNil(t, event.ProcessedAt)
	assert.Equal(t, processedAt, *event.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutboxEvent_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("INSERT INTO event_outbox").WillReturnError(assert.AnError)

	_, err = ds.InsertOutboxEvent(context.Background(), nil, &model.OutboxEvent{EventUID: "x", Payload: json.RawMessage(`{}`)})
	assert.True(t, apierror.HasCode(err, apierror.ErrInternalServer))
}

func TestInsertNotifications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	parent := "0xparent"
	createdAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []model.NotificationOutboxEntry{
		{
			CreatedAt:        createdAt,
			NotificationUID:  "reply:0xabc:0xbob",
			Type:             model.NotificationTypeReply,
			AuthorAddress:    "0xalice",
			RecipientAddress: "0xbob",
			ParentID:         &parent,
			EntityID:         "0xabc",
			AppSigner:        "0xapp",
		},
		{
			NotificationUID:  "mention:0xabc:0xcarol",
			Type:             model.NotificationTypeMention,
			AuthorAddress:    "0xalice",
			RecipientAddress: "0xcarol",
			EntityID:         "0xabc",
			AppSigner:        "0xapp",
		},
	}

	mock.ExpectExec("INSERT INTO notification_outbox (.+) SELECT COALESCE\\(t.created_at, NOW\\(\\)\\)(.+) FROM unnest(.+) ON CONFLICT \\(notification_uid\\) DO NOTHING").
		WithArgs(
			pq.Array([]sql.NullString{{String: "2024-06-01T12:00:00Z", Valid: true}, {}}),
			pq.Array([]string{"reply:0xabc:0xbob", "mention:0xabc:0xcarol"}),
			pq.Array([]string{model.NotificationTypeReply, model.NotificationTypeMention}),
			pq.Array([]string{"0xalice", "0xalice"}),
			pq.Array([]string{"0xbob", "0xcarol"}),
			pq.Array([]sql.NullString{{String: "0xparent", Valid: true}, {}}),
			pq.Array([]string{"0xabc", "0xabc"}),
			pq.Array([]string{"0xapp", "0xapp"}),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := ds.InsertNotifications(context.Background(), db, entries)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A batch larger than the bind parameter limit of a multi-row VALUES insert still goes
// out as one statement with eight array parameters.
func TestInsertNotifications_LargeBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	entries := make([]model.NotificationOutboxEntry, 10000)
	for i := range entries {
		entries[i] = model.NotificationOutboxEntry{
			NotificationUID:  fmt.Sprintf("reply:0xabc:%d", i),
			Type:             model.NotificationTypeReply,
			AuthorAddress:    "0xalice",
			RecipientAddress: "0xbob",
			EntityID:         "0xabc",
			AppSigner:        "0xapp",
		}
	}

	mock.ExpectExec("INSERT INTO notification_outbox").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 10000))

	inserted, err := ds.InsertNotifications(context.Background(), nil, entries)
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotifications_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	inserted, err := ds.InsertNotifications(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
