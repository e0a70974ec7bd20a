package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/hub"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

// testPage dials the page mount point, sends an identity frame, and echoes
// back a successful reply for every frame it receives (the loopback
// pattern called out in wsproto.ActionLoopbackPing).
type testPage struct {
	conn *websocket.Conn
}

func dialPage(t *testing.T, url, windowID string) *testPage {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	identity := wsproto.IdentityPayload{WindowID: windowID, PageInstanceID: windowID + "-instance", URL: "https://example.test/" + windowID, Title: "Example " + windowID}
	frame, err := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionIdentity, identity, wsproto.SourcePage)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	tp := &testPage{conn: conn}
	go tp.loop()
	return tp
}

func (tp *testPage) loop() {
	for {
		_, raw, err := tp.conn.ReadMessage()
		if err != nil {
			return
		}
		var f wsproto.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.IsSystem() {
			continue
		}
		reply, _ := wsproto.NewReply(f.ID, map[string]string{"echo": f.Action})
		_ = tp.conn.WriteJSON(reply)
	}
}

func TestRouterCallRoundTrip(t *testing.T) {
	log := logging.Default()
	h := hub.New(log, 100)
	r := New(h, log, time.Second)

	tsMux := httptest.NewServer(http.HandlerFunc(h.ServePages))
	defer tsMux.Close()

	wsURL := "ws" + strings.TrimPrefix(tsMux.URL, "http")
	page := dialPage(t, wsURL, "w1")
	defer page.conn.Close()

	time.Sleep(50 * time.Millisecond) // allow identity frame to register the window

	reply, err := r.Call("dom", "click", json.RawMessage(`{"selector":"#go"}`), 0, "", "")
	require.NoError(t, err)
	require.True(t, reply.Success)
}

func TestRouterCallNoWindowsConnected(t *testing.T) {
	log := logging.Default()
	h := hub.New(log, 100)
	r := New(h, log, time.Second)

	reply, err := r.Call("dom", "click", nil, 0, "", "")
	require.NoError(t, err)
	require.False(t, reply.Success)
	require.Contains(t, reply.Error, "no windows connected")
}

func TestRouterCallExplicitWindowNotFound(t *testing.T) {
	log := logging.Default()
	h := hub.New(log, 100)
	r := New(h, log, time.Second)

	reply, err := r.Call("dom", "click", nil, 0, "ghost-window", "")
	require.NoError(t, err)
	require.False(t, reply.Success)
	require.Contains(t, reply.Error, "ghost-window")
}

func TestRouterConcurrentCallsNoCrosstalk(t *testing.T) {
	log := logging.Default()
	h := hub.New(log, 100)
	r := New(h, log, time.Second)

	tsMux := httptest.NewServer(http.HandlerFunc(h.ServePages))
	defer tsMux.Close()
	wsURL := "ws" + strings.TrimPrefix(tsMux.URL, "http")

	page := dialPage(t, wsURL, "w1")
	defer page.conn.Close()
	time.Sleep(50 * time.Millisecond)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			reply, err := r.Call("dom", "op", json.RawMessage(`{}`), 0, "w1", "")
			require.NoError(t, err)
			require.True(t, reply.Success)
		}(i)
	}
	wg.Wait()
}
