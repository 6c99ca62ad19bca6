package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketChannel_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authFrames := make(chan map[string]interface{}, 1)
	activityFrames := make(chan map[string]interface{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth map[string]interface{}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		authFrames <- auth

		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"system_message","data":{"title":"Heads up","message":"Deploy at noon","priority":"medium"}}`,
		))

		var activity map[string]interface{}
		if err := conn.ReadJSON(&activity); err != nil {
			return
		}
		activityFrames <- activity

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second

	ch, err := NewChannel(Options{
		Config:   cfg,
		Sessions: newFakeSessions(testSession("live-token")),
		Logger:   logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer ch.Disconnect()

	ch.Start(context.Background())
	require.True(t, ch.IsConnected())

	select {
	case auth := <-authFrames:
		assert.Equal(t, "auth", auth["type"])
		assert.Equal(t, "live-token", auth["token"])
		assert.Equal(t, "user-1", auth["userId"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the auth frame")
	}

	require.Eventually(t, func() bool { return len(ch.Notifications()) == 1 }, 2*time.Second, 10*time.Millisecond)
	n := ch.Notifications()[0]
	assert.Equal(t, models.NotificationSystemUpdate, n.Type)
	assert.Equal(t, "Deploy at noon", n.Message)

	require.NoError(t, ch.SendUserActivity(context.Background(), UserActivity{
		Type:  models.ActivityShare,
		Title: "Shared a transcript",
	}))
	select {
	case frame := <-activityFrames:
		assert.Equal(t, "user_activity", frame["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the activity frame")
	}
}

func TestWebsocketDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no upgrade", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	dialer := NewWebsocketDialer(cfg)

	_, err := dialer.Dial(context.Background(), wsURL(srv))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNetwork))
}
