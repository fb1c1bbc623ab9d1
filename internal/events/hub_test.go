// README: Hub tests over live WebSocket connections.
package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(zap.NewNop().Sugar())
}

func dialClient(t *testing.T, h *Hub, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Serve(w, r, userID); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitOnline(t, h, userID)
	return conn
}

func waitOnline(t *testing.T, h *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Online(userID) {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev Event
	if err := conn.ReadJSON(&ev); err == nil {
		t.Fatalf("unexpected event %q", ev.Name)
	}
}

func TestHubPublishUser(t *testing.T) {
	h := testHub(t)
	conn := dialClient(t, h, "u1")

	h.PublishUser("u1", Event{Name: EventTrucksConfirmed, Ts: time.Now(), Data: map[string]string{"orderId": "o1"}})

	ev := readEvent(t, conn)
	if ev.Name != EventTrucksConfirmed {
		t.Fatalf("event = %q, want %q", ev.Name, EventTrucksConfirmed)
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data["orderId"] != "o1" {
		t.Fatalf("unexpected data: %#v", ev.Data)
	}
}

func TestHubFanout(t *testing.T) {
	h := testHub(t)
	c1 := dialClient(t, h, "t1")
	c2 := dialClient(t, h, "t2")

	h.PublishUsers([]string{"t1", "t2"}, Event{Name: EventNewBroadcast, Ts: time.Now()})

	if ev := readEvent(t, c1); ev.Name != EventNewBroadcast {
		t.Fatalf("t1 got %q", ev.Name)
	}
	if ev := readEvent(t, c2); ev.Name != EventNewBroadcast {
		t.Fatalf("t2 got %q", ev.Name)
	}
}

func TestHubRooms(t *testing.T) {
	h := testHub(t)
	member := dialClient(t, h, "u1")
	outsider := dialClient(t, h, "u2")

	h.JoinRoom("order:o1", "u1")
	h.PublishRoom("order:o1", Event{Name: EventBroadcastUpdate, Ts: time.Now()})

	if ev := readEvent(t, member); ev.Name != EventBroadcastUpdate {
		t.Fatalf("member got %q", ev.Name)
	}
	expectSilence(t, outsider)

	h.CloseRoom("order:o1")
	h.PublishRoom("order:o1", Event{Name: EventBroadcastClosed, Ts: time.Now()})
	expectSilence(t, member)
}

func TestHubUnregisterOnPeerClose(t *testing.T) {
	h := testHub(t)
	conn := dialClient(t, h, "u1")

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.Online("u1") {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Publishing to a gone user must not panic or block.
	h.PublishUser("u1", Event{Name: EventOrderExpired, Ts: time.Now()})
}
