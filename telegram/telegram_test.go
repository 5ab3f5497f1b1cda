package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gidra39/trainlog/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTelegramNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		assert.Equal(t, "loss &lt; 1", r.PostForm.Get("text"))
		assert.Equal(t, "HTML", r.PostForm.Get("parse_mode"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Config{
		TelegramAPIURL:     srv.URL + "/",
		TelegramBotToken:   "secret",
		TelegramChatID:     "42",
		HTTPTimeoutSeconds: 5,
	}
	require.NoError(t, SendTelegramNotification(context.Background(), "loss < 1", cfg))
}

func TestSendTelegramNotificationErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		err := SendTelegramNotification(context.Background(), "x", config.Config{HTTPTimeoutSeconds: 5})
		assert.Error(t, err)
	})

	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		cfg := config.Config{TelegramAPIURL: srv.URL, TelegramBotToken: "t", TelegramChatID: "1", HTTPTimeoutSeconds: 5}
		err := SendTelegramNotification(context.Background(), "x", cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("unreachable hides token", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		cfg := config.Config{TelegramAPIURL: srv.URL, TelegramBotToken: "topsecret", TelegramChatID: "1", HTTPTimeoutSeconds: 1}
		err := SendTelegramNotification(context.Background(), "x", cfg)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "topsecret")
	})
}
