package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/pkg/config"
)

func TestWhatsAppSenderPostsPayload(t *testing.T) {
	var got whatsAppPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(config.WhatsAppConfig{APIURL: srv.URL, APIToken: "tok"}, srv.Client())
	err := sender.Send(context.Background(), "+237 699-00", Content{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "23769900", got.To)
	assert.Equal(t, "hello", got.Text.Body)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
}

func TestWhatsAppSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(config.WhatsAppConfig{APIURL: srv.URL}, srv.Client())
	err := sender.Send(context.Background(), "+33600", Content{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	assert.Error(t, sender.Send(context.Background(), "  ", Content{Body: "x"}))
	assert.Error(t, NewWhatsAppSender(config.WhatsAppConfig{}, nil).Send(context.Background(), "+1", Content{}))
}

func TestWhatsAppSenderHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sender := NewWhatsAppSender(config.WhatsAppConfig{APIURL: srv.URL}, srv.Client())
	assert.Error(t, sender.Send(ctx, "+33600", Content{Body: "x"}))
}

func TestSMTPSenderBuildMessage(t *testing.T) {
	sender := NewSMTPSender(config.EmailConfig{From: "no-reply@institut.test", FromName: "Institut"})
	sender.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	raw := string(sender.buildMessage("awa@example.com", Content{Subject: "Hello", Body: "line1\nline2"}))
	assert.Contains(t, raw, "From: Institut <no-reply@institut.test>\r\n")
	assert.Contains(t, raw, "To: awa@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, "line1\r\nline2\r\n")

	assert.Error(t, NewSMTPSender(config.EmailConfig{}).Send(context.Background(), "a@b.c", Content{}))
}
