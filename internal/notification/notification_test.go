package notification

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/directory"
	"qrattend/internal/logging"
	"qrattend/internal/queue"
	"qrattend/internal/store/storetest"
)

func newTestService(t *testing.T) (*Service, directory.User, directory.User) {
	t.Helper()
	ctx := context.Background()
	db := storetest.Open(t)
	dir := directory.NewService(directory.NewRepository(db))
	alice, err := dir.CreateUser(ctx, directory.NewUser{Role: directory.RoleStudent, Name: "Alice", Email: "alice@uni.edu"})
	require.NoError(t, err)
	bob, err := dir.CreateUser(ctx, directory.NewUser{Role: directory.RoleLecturer, Name: "Bob", Email: "bob@uni.edu"})
	require.NoError(t, err)
	return NewService(NewRepository(db)), alice, bob
}

func TestInboxOrderingAndUnread(t *testing.T) {
	ctx := context.Background()
	svc, alice, bob := newTestService(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Notify(ctx,
		Notification{UserID: alice.ID, Title: "first", Message: "m1", Type: TypeSuccess, CreatedAt: base},
		Notification{UserID: alice.ID, Title: "second", Message: "m2", CreatedAt: base.Add(time.Minute)},
		Notification{UserID: bob.ID, Title: "other", Message: "m3", CreatedAt: base},
	))
	require.NoError(t, svc.Notify(ctx))

	items, unread, err := svc.Inbox(ctx, alice.ID, false, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, unread)
	assert.Equal(t, "second", items[0].Title)
	assert.Equal(t, TypeInfo, items[0].Type, "type defaults to info")
	assert.Equal(t, TypeSuccess, items[1].Type)

	require.NoError(t, svc.MarkRead(ctx, alice.ID, items[0].ID))
	items, unread, err = svc.Inbox(ctx, alice.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, unread)
	assert.Equal(t, "first", items[0].Title)
}

func TestOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	svc, alice, bob := newTestService(t)
	require.NoError(t, svc.Notify(ctx, Notification{UserID: alice.ID, Title: "t", Message: "m"}))
	items, _, err := svc.Inbox(ctx, alice.ID, false, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.ErrorIs(t, svc.MarkRead(ctx, bob.ID, items[0].ID), ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, bob.ID, items[0].ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, alice.ID, items[0].ID))
	assert.ErrorIs(t, svc.Delete(ctx, alice.ID, items[0].ID), ErrNotFound)
}

func TestMarkAllRead(t *testing.T) {
	ctx := context.Background()
	svc, alice, _ := newTestService(t)
	require.NoError(t, svc.Notify(ctx,
		Notification{UserID: alice.ID, Title: "a", Message: "a"},
		Notification{UserID: alice.ID, Title: "b", Message: "b"},
	))

	n, err := svc.MarkAllRead(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	items, unread, err := svc.Inbox(ctx, alice.ID, true, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.Zero(t, unread)
}

func TestSendGridPrepare(t *testing.T) {
	m := NewSendGridMailer("key", "QR Attend", "noreply@uni.edu")
	v3 := m.prepare(Email{
		To:      mail.Address{Name: "Ada", Address: "ada@uni.edu"},
		Subject: "Attendance recorded",
		Text:    "You were marked present.",
	})
	require.Len(t, v3.Personalizations, 1)
	assert.Equal(t, "[QR Attend] Attendance recorded", v3.Personalizations[0].Subject)
	assert.Equal(t, "ada@uni.edu", v3.Personalizations[0].To[0].Address)
	assert.Equal(t, "noreply@uni.edu", v3.From.Address)
	require.Len(t, v3.Content, 1)
	assert.Equal(t, "text/plain", v3.Content[0].Type)
}

func TestConsoleMailer(t *testing.T) {
	var buf bytes.Buffer
	m := ConsoleMailer{Logger: log.New(&buf, "", 0)}
	require.NoError(t, m.Send(context.Background(), Email{
		To:      mail.Address{Address: "ada@uni.edu"},
		Subject: "hello",
		Text:    "body",
	}))
	assert.Contains(t, buf.String(), "ada@uni.edu")
	assert.Contains(t, buf.String(), `subject="hello"`)
	assert.Contains(t, buf.String(), "body")
}

type recordingMailer struct {
	sent []Email
	fail string
}

func (m *recordingMailer) Send(_ context.Context, msg Email) error {
	if msg.To.Address == m.fail {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestDispatchMailsConfirmations(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(log.New(&logs, "", 0), "", "test", "")
	marked := func(email string) queue.Message {
		msg, err := queue.NewMessage(queue.TypeAttendanceMarked, queue.AttendanceMarked{
			RecordID:     "rec-" + email,
			ClassName:    "Compilers",
			CourseCode:   "CS401",
			StudentName:  "Ada",
			StudentEmail: email,
			Status:       "present",
			MarkedAt:     time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		return msg
	}

	ch := make(chan queue.Message, 4)
	ch <- queue.Message{Type: "something.else"}
	ch <- marked("broken@uni.edu")
	ch <- marked("ada@uni.edu")
	close(ch)

	m := &recordingMailer{fail: "broken@uni.edu"}
	Dispatch(context.Background(), ch, m, logger)

	require.Len(t, m.sent, 1)
	assert.Equal(t, "ada@uni.edu", m.sent[0].To.Address)
	assert.Equal(t, "Attendance recorded: Compilers (CS401)", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].Text, "recorded as present at 2024-03-01 09:01:00 UTC")
	assert.Contains(t, logs.String(), "mailbox unavailable")
	assert.Contains(t, logs.String(), "something.else")
}
