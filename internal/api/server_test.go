package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/agentsup"
	"github.com/tabbroker/tabbroker/internal/config"
	"github.com/tabbroker/tabbroker/internal/hub"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/router"
	"github.com/tabbroker/tabbroker/internal/taskboard"
	"github.com/tabbroker/tabbroker/internal/transcript"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logging.Default()
	h := hub.New(log, 100)
	rtr := router.New(h, log, 0)
	store := transcript.NewStore()
	sup := agentsup.New("true", nil, nil, log, store)
	boardPath, err := taskboard.Locate(t.TempDir())
	require.NoError(t, err)

	srv := New(h, rtr, sup, h.Status, store, &config.Config{}, log, boardPath)
	srv.Engine.GET("/ws/terminals", gin.WrapF(h.ServeTerminals))
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, sessionID string, body interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeaderName, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// dialTerminal connects to the terminal mount point and immediately sends
// the hello frame that ties this socket to sessionID, mirroring what a
// real terminal client does right after connecting.
func dialTerminal(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminals"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	hello, err := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionTerminalHello,
		wsproto.TerminalHelloPayload{SessionID: sessionID}, wsproto.SourceTerminal)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(hello))
	return conn
}

func TestRegisterRenameSendDMRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Engine)
	defer ts.Close()

	sessionID := "sess-1"
	conn := dialTerminal(t, ts, sessionID)
	defer conn.Close()

	// The hub's read pump processes the hello frame asynchronously, so
	// register-shell may need a couple of tries before the peer's session
	// id is recorded.
	require.Eventually(t, func() bool {
		out := postJSON(t, ts, "/register-shell", sessionID, map[string]string{"name": "alpha"})
		return out["success"] == true
	}, time.Second, 10*time.Millisecond)

	listResp, err := http.Get(ts.URL + "/list-shells")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var listOut map[string]interface{}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listOut))
	assert.Contains(t, listOut["shells"], "alpha")

	renameOut := postJSON(t, ts, "/rename-shell", "", map[string]string{"oldName": "alpha", "newName": "beta"})
	assert.Equal(t, true, renameOut["success"])

	dmOut := postJSON(t, ts, "/send-dm", "", map[string]string{"target": "beta", "text": "hi"})
	require.Equal(t, true, dmOut["success"])

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wsproto.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, "dm", f.Action)
}

func TestRegisterShellWithoutTerminalConnectionFails(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Engine)
	defer ts.Close()

	out := postJSON(t, ts, "/register-shell", "never-connected", map[string]string{"name": "alpha"})
	assert.Equal(t, false, out["success"])
}

func TestRegisterShellMissingSessionHeaderIsValidationError(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Engine)
	defer ts.Close()

	out := postJSON(t, ts, "/register-shell", "", map[string]string{"name": "alpha"})
	assert.Equal(t, false, out["success"])
}

func TestTasksRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Engine)
	defer ts.Close()

	out := postJSON(t, ts, "/tasks", "", map[string]string{"command": `add "write tests"`, "caller": "ember"})
	require.Equal(t, true, out["success"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
