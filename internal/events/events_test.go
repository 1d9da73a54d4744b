package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialRoom(t *testing.T, srv *httptest.Server) (*websocket.Conn, func()) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() { conn.Close() }
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return e
}

func TestServeOrderRoomSendsConnectedThenStateSync(t *testing.T) {
	hub := NewHub()
	hub.OnSubscribe = func(orderID string) any {
		return map[string]string{"order_id": orderID}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOrderRoom(w, r, "order-1")
	}))
	defer srv.Close()

	conn, closeConn := dialRoom(t, srv)
	defer closeConn()

	first := readEvent(t, conn)
	if first.Type != EventConnected {
		t.Errorf("first event type = %s, want %s", first.Type, EventConnected)
	}

	second := readEvent(t, conn)
	if second.Type != EventStateSync {
		t.Errorf("second event type = %s, want %s", second.Type, EventStateSync)
	}
}

func TestBroadcastToOrderReachesSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOrderRoom(w, r, "order-1")
	}))
	defer srv.Close()

	conn, closeConn := dialRoom(t, srv)
	defer closeConn()

	readEvent(t, conn) // CONNECTED

	hub.BroadcastToOrder("order-1", EventFSMTransition, map[string]string{"status": "IN_TRANSIT"})

	got := readEvent(t, conn)
	if got.Type != EventFSMTransition {
		t.Errorf("event type = %s, want %s", got.Type, EventFSMTransition)
	}
}

func TestBroadcastToOrderIgnoresOtherRooms(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOrderRoom(w, r, "order-1")
	}))
	defer srv.Close()

	conn, closeConn := dialRoom(t, srv)
	defer closeConn()
	readEvent(t, conn) // CONNECTED

	// A broadcast to an unrelated order must not reach this subscriber.
	hub.BroadcastToOrder("order-2", EventFSMTransition, nil)
	hub.BroadcastToOrder("order-1", EventEscrowUpdate, nil)

	got := readEvent(t, conn)
	if got.Type != EventEscrowUpdate {
		t.Errorf("event type = %s, want %s (the order-2 broadcast should have been skipped)", got.Type, EventEscrowUpdate)
	}
}

func TestPingReceivesPong(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOrderRoom(w, r, "order-1")
	}))
	defer srv.Close()

	conn, closeConn := dialRoom(t, srv)
	defer closeConn()
	readEvent(t, conn) // CONNECTED

	if err := conn.WriteJSON(map[string]string{"type": "PING"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	got := readEvent(t, conn)
	if got.Type != EventPong {
		t.Errorf("event type = %s, want %s", got.Type, EventPong)
	}
}

func TestGPSStreamRelaysLocationUpdateToOrderRoomAndInvokesHook(t *testing.T) {
	hub := NewHub()
	var gotMiddlemanID string
	var gotFrame LocationFrame
	hub.OnLocationFrame = func(middlemanID string, frame LocationFrame) {
		gotMiddlemanID = middlemanID
		gotFrame = frame
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/room", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeOrderRoom(w, r, "order-1")
	})
	mux.HandleFunc("/gps", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeGPSStream(w, r, "middleman-1", "order-1")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	roomConn, _, err := websocket.DefaultDialer.Dial(base+"/room", nil)
	if err != nil {
		t.Fatalf("dial order room: %v", err)
	}
	defer roomConn.Close()
	readEvent(t, roomConn) // CONNECTED

	gpsConn, _, err := websocket.DefaultDialer.Dial(base+"/gps", nil)
	if err != nil {
		t.Fatalf("dial gps stream: %v", err)
	}
	defer gpsConn.Close()
	readEvent(t, gpsConn) // CONNECTED, no STATE_SYNC for GPS streams

	if err := gpsConn.WriteJSON(LocationFrame{Latitude: 12.5, Longitude: -8.25}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	// The frame must reach the order room, not loop back to the GPS stream.
	got := readEvent(t, roomConn)
	if got.Type != EventLocationUpdate {
		t.Errorf("event type = %s, want %s", got.Type, EventLocationUpdate)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gotMiddlemanID == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if gotMiddlemanID != "middleman-1" {
		t.Errorf("OnLocationFrame middlemanID = %s, want middleman-1", gotMiddlemanID)
	}
	if gotFrame.Latitude != 12.5 || gotFrame.Longitude != -8.25 {
		t.Errorf("OnLocationFrame frame = %+v, want {12.5 -8.25}", gotFrame)
	}
}
