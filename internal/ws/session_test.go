package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
)

// newDetachedSession builds a session whose assistant connection was
// never established, the state a session is in between the websocket
// upgrade and the upstream dial.
func newDetachedSession(t *testing.T) *session {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	serverConn := <-conns
	t.Cleanup(func() { serverConn.Close() })

	h := NewHandler(zap.NewNop(), appconfig.Config{
		SatelliteAudioFormat:   "pcm16",
		SatelliteSampleRate:    24000,
		SatelliteChannels:      1,
		SatelliteFrameDuration: 20,
		OutputSampleRate:       24000,
	})
	return newSession(h, serverConn, "detached-session")
}

func TestServiceOpsBeforeUpstreamReady(t *testing.T) {
	sess := newDetachedSession(t)
	ctx := t.Context()

	sess.startConversation(ctx, "")
	sess.setSystemPrompt(ctx, "be brief")
	sess.setVoice(ctx, "nova")
	sess.clearContext(ctx)
	sess.stopConversation(ctx)

	sess.mu.Lock()
	active := sess.inConversation
	sess.mu.Unlock()
	if active {
		t.Fatal("conversation should be stopped")
	}
}
