package mailer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/kanghyki/badang-post-office/internal/pipeline"
	"github.com/kanghyki/badang-post-office/internal/storage"
	"github.com/kanghyki/badang-post-office/pkg/config"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

func newTestMailer(send func(m *gomail.Message) error) *SMTPMailer {
	m := New(config.SMTPConfig{
		Host:       "smtp.localhost",
		Port:       587,
		From:       "postman@badang.example",
		RatePerMin: 600,
	})
	m.send = send
	return m
}

func TestSendSetsHeaders(t *testing.T) {
	var got *gomail.Message
	m := newTestMailer(func(msg *gomail.Message) error {
		got = msg
		return nil
	})

	err := m.Send(context.Background(), "friend@example.com", "/tmp/postcard.png", pipeline.MailMeta{
		RecipientName: "Min-ji",
		SenderName:    "Hyun-woo",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"friend@example.com"}, got.GetHeader("To"))
	assert.Equal(t, []string{"A postcard from Hyun-woo"}, got.GetHeader("Subject"))
}

func TestSendAttachmentOpensWhenSerialized(t *testing.T) {
	store, err := storage.NewLocal(config.StorageConfig{Root: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	rel, err := store.SaveRendered(ctx, []byte("png-bytes"))
	require.NoError(t, err)
	abs, err := store.Path(rel)
	require.NoError(t, err)

	// gomail only opens attachments at serialization time, so the hook
	// writes the message out instead of just recording it.
	m := newTestMailer(func(msg *gomail.Message) error {
		_, werr := msg.WriteTo(io.Discard)
		return werr
	})
	require.NoError(t, m.Send(ctx, "friend@example.com", abs, pipeline.MailMeta{}))
}

func TestSendWrapsSMTPFailure(t *testing.T) {
	m := newTestMailer(func(*gomail.Message) error { return errors.New("connection refused") })

	err := m.Send(context.Background(), "friend@example.com", "/tmp/postcard.png", pipeline.MailMeta{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestSendHonorsContextWhileRateLimited(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.localhost", From: "postman@badang.example", RatePerMin: 1})
	m.send = func(*gomail.Message) error { return nil }

	ctx := context.Background()
	require.NoError(t, m.Send(ctx, "a@example.com", "/tmp/a.png", pipeline.MailMeta{}))

	// The second send must wait a full minute; a short deadline aborts it.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := m.Send(shortCtx, "b@example.com", "/tmp/b.png", pipeline.MailMeta{})
	assert.Error(t, err)
}
