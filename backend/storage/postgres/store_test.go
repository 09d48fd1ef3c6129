// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func ptr(s string) *string { return &s }

var messageColumns = []string{"id", "group_id", "sender_id", "content", "attachment_url",
	"attachment_kind", "created_at", "username"}

func Test_AppendGroupMessage_Should_Return_Stored_Row_With_Author(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Given an insert that returns the server assigned id and timestamp
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO group_messages")).
		WithArgs(int64(4), int64(7), "hello", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(int64(11), int64(4), int64(7), "hello", nil, nil, now, "ada"))

	// When the message is appended
	stored, err := store.AppendGroupMessage(context.Background(), models.Message{
		GroupID: 4, SenderID: 7, Content: ptr("hello"),
	})

	// Then the stored record carries the author summary
	req.NoError(err)
	req.Equal(int64(11), stored.ID)
	req.Equal(models.AuthorSummary{ID: 7, Username: "ada"}, stored.Author)
	req.Equal("hello", *stored.Content)
	req.Nil(stored.Attachment)
	req.Equal(now, stored.CreatedAt)
}

func Test_AppendGroupMessage_Should_Reject_Empty_Message_Without_Query(t *testing.T) {
	req := require.New(t)
	store, _ := newMockStore(t)

	_, err := store.AppendGroupMessage(context.Background(), models.Message{
		GroupID: 4, SenderID: 7, Content: ptr("   "),
	})

	req.ErrorIs(err, apperr.ErrValidation)
}

func Test_AppendGroupMessage_Should_Map_Missing_Group_To_NotFound(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO group_messages")).
		WillReturnError(&pq.Error{Code: codeForeignKeyViolation})

	_, err := store.AppendGroupMessage(context.Background(), models.Message{
		GroupID: 99, SenderID: 7, Content: ptr("hi"),
	})

	req.ErrorIs(err, apperr.ErrNotFound)
}

func Test_AppendDirectMessage_Should_Fill_Receiver_And_Attachment(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO direct_messages")).
		WithArgs(int64(1), int64(2), sqlmock.AnyArg(), "/uploads/a.png", "image").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "content",
			"attachment_url", "attachment_kind", "created_at", "sender", "receiver"}).
			AddRow(int64(5), int64(1), int64(2), nil, "/uploads/a.png", "image", now, "ada", "bob"))

	stored, err := store.AppendDirectMessage(context.Background(), models.Message{
		SenderID: 1, ReceiverID: 2,
		Attachment: &models.Attachment{URL: "/uploads/a.png", Kind: models.AttachmentImage},
	})

	req.NoError(err)
	req.True(stored.IsDirect())
	req.Nil(stored.Content)
	req.Equal(&models.AuthorSummary{ID: 2, Username: "bob"}, stored.Receiver)
	req.Equal(models.AttachmentImage, stored.Attachment.Kind)
}

func Test_ListGroupMessages_Should_Filter_By_Window(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	since := time.Now().Add(-7 * 24 * time.Hour)
	first := since.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.created_at ASC, m.id ASC")).
		WithArgs(int64(4), since).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(int64(1), int64(4), int64(7), "a", nil, nil, first, "ada").
			AddRow(int64(2), int64(4), int64(8), "b", nil, nil, first, "bob"))

	messages, err := store.ListGroupMessages(context.Background(), 4, since)

	req.NoError(err)
	req.Len(messages, 2)
	req.Equal(int64(1), messages[0].ID)
	req.Equal("bob", messages[1].Author.Username)
}

func Test_PurgeOlderThan_Should_Report_Counts_Per_Category(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM group_messages WHERE created_at < $1")).
		WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM direct_messages WHERE created_at < $1")).
		WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	report, err := store.PurgeOlderThan(context.Background(), cutoff)

	req.NoError(err)
	req.Equal(storage.PurgeReport{GroupMessages: 3, DirectMessages: 2}, report)
	req.Equal(int64(5), report.Total())
}

func Test_Join_Should_Report_Duplicate_Membership(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_members")).
		WithArgs(int64(3), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Join(context.Background(), 7, 3)

	req.ErrorIs(err, apperr.ErrAlreadyMember)
}

func Test_Join_Should_Map_Missing_Group_To_NotFound(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_members")).
		WillReturnError(&pq.Error{Code: codeForeignKeyViolation})

	req.ErrorIs(store.Join(context.Background(), 7, 3), apperr.ErrNotFound)
}

func Test_DeleteGroup_Should_Return_NotFound_When_Nothing_Deleted(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM groups WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req.ErrorIs(store.DeleteGroup(context.Background(), 3), apperr.ErrNotFound)
}

func Test_GetUser_Should_Map_No_Rows_To_NotFound(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, is_admin FROM users")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "is_admin"}))

	_, err := store.GetUser(context.Background(), 42)

	req.ErrorIs(err, apperr.ErrNotFound)
}

func Test_ListConversations_Should_Preview_Attachments_As_File(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (partner_id)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"partner_id", "username", "content", "attachment_url", "created_at"}).
			AddRow(int64(2), "bob", nil, "/uploads/x.pdf", now).
			AddRow(int64(3), "cy", "see you", nil, now.Add(-time.Minute)))

	conversations, err := store.ListConversations(context.Background(), 1)

	req.NoError(err)
	req.Len(conversations, 2)
	req.Equal("[file]", conversations[0].LastMessage)
	req.Equal("see you", conversations[1].LastMessage)
}

func Test_TrimUserResults_Should_Delete_All_But_Newest(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id"})
	for id := int64(10); id > 5; id-- {
		rows.AddRow(id)
	}
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM cbt_results")).
		WithArgs(int64(9), int64(5)).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("NOT (id = ANY($2))")).
		WithArgs(int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.TrimUserResults(context.Background(), 9, 5)

	req.NoError(err)
	req.Equal(int64(2), n)
}

func Test_HasAccess_Should_Read_Subscription_Expiry(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("expires_at > now()")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasAccess(context.Background(), 5)

	req.NoError(err)
	req.True(ok)
}
