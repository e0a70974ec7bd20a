package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestIdentityClaimsWindow(t *testing.T) {
	h := New(logging.Default(), 10)
	srv := httptest.NewServer(http.HandlerFunc(h.ServePages))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	identity := wsproto.IdentityPayload{WindowID: "w1", PageInstanceID: "pi1", URL: "https://x.test", Title: "X"}
	frame, err := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionIdentity, identity, wsproto.SourcePage)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	require.Eventually(t, func() bool {
		w, ok := h.Windows.Get("w1")
		return ok && w.URL == "https://x.test"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "w1", h.Windows.FocusedWindowID())
}

func TestDisconnectDropsWindowAndClearsAffinity(t *testing.T) {
	h := New(logging.Default(), 10)
	srv := httptest.NewServer(http.HandlerFunc(h.ServePages))
	defer srv.Close()

	conn := dialWS(t, srv)

	identity := wsproto.IdentityPayload{WindowID: "w1", PageInstanceID: "pi1", URL: "https://x.test", Title: "X"}
	frame, err := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionIdentity, identity, wsproto.SourcePage)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	require.Eventually(t, func() bool {
		_, ok := h.Windows.Get("w1")
		return ok
	}, time.Second, 10*time.Millisecond)

	h.Affinity.Set("sess1", "w1")
	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := h.Windows.Get("w1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, ok := h.Affinity.Get("sess1")
	assert.False(t, ok)
}

func TestWindowClaimCollisionEvictsPriorOwner(t *testing.T) {
	h := New(logging.Default(), 10)
	srv := httptest.NewServer(http.HandlerFunc(h.ServePages))
	defer srv.Close()

	connA := dialWS(t, srv)
	defer connA.Close()
	identityA := wsproto.IdentityPayload{WindowID: "w1", PageInstanceID: "piA", URL: "https://a.test", Title: "A"}
	frameA, _ := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionIdentity, identityA, wsproto.SourcePage)
	require.NoError(t, connA.WriteJSON(frameA))

	require.Eventually(t, func() bool {
		_, ok := h.Windows.Get("w1")
		return ok
	}, time.Second, 10*time.Millisecond)

	connB := dialWS(t, srv)
	defer connB.Close()
	identityB := wsproto.IdentityPayload{WindowID: "w1", PageInstanceID: "piB", URL: "https://b.test", Title: "B"}
	frameB, _ := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionIdentity, identityB, wsproto.SourcePage)
	require.NoError(t, connB.WriteJSON(frameB))

	require.Eventually(t, func() bool {
		w, ok := h.Windows.Get("w1")
		return ok && w.URL == "https://b.test"
	}, time.Second, 10*time.Millisecond)

	// connA should have been closed by the eviction.
	connA.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := connA.ReadMessage()
	assert.Error(t, err)
}
