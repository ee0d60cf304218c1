package events

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/audiopipe/internal/status"
)

func newTestHub(t *testing.T, snap status.Snapshot) (*Hub, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(func() status.Snapshot { return snap }, logger)
	ts := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEvents_SnapshotOnConnect(t *testing.T) {
	_, ts := newTestHub(t, status.Snapshot{RunID: "r1", Stage: "diarize", Total: 2})
	conn := dial(t, ts)

	msg := readMessage(t, conn)
	assert.Equal(t, EventStatus, msg["event"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "r1", data["run_id"])
	assert.Equal(t, "diarize", data["stage"])
}

func TestEvents_BroadcastObservedEvent(t *testing.T) {
	hub, ts := newTestHub(t, status.Snapshot{})
	conn := dial(t, ts)
	readMessage(t, conn)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Observe(status.Event{Kind: status.FileDone, RunID: "r2", Stage: "convert", File: "a.wav"})

	msg := readMessage(t, conn)
	assert.Equal(t, "file_done", msg["event"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "a.wav", data["file"])
	assert.Equal(t, "convert", data["stage"])
}

func TestEvents_ClientDisconnectRemoves(t *testing.T) {
	hub, ts := newTestHub(t, status.Snapshot{})
	conn := dial(t, ts)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcast_NoClients(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Broadcast("file_done", map[string]string{"file": "x"})
	assert.Zero(t, hub.ClientCount())
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestHub(t, status.Snapshot{RunID: "r3", Processed: 4, Failed: 1})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap status.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "r3", snap.RunID)
	assert.Equal(t, 4, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
}

func TestStatusEndpoint_MethodNotAllowed(t *testing.T) {
	_, ts := newTestHub(t, status.Snapshot{})
	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
