package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (p *recordingPublisher) Publish(evt *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

// dialRoom starts a websocket endpoint that registers every connection in
// the given project room and returns a connected client.
func dialRoom(t *testing.T, hub *Hub, projectID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(NewClient(conn, "user-1"), projectID)
	}))
	t.Cleanup(srv.Close)

	before := hub.RoomSize(projectID)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize(projectID) == before {
		if time.Now().After(deadline) {
			t.Fatal("client never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("invalid event JSON %q: %v", data, err)
	}
	return evt
}

func TestHub_PublishReachesRoom(t *testing.T) {
	hub := newTestHub(t)
	conn := dialRoom(t, hub, "p1")

	hub.PublishPayload(EventTaskCreated, "p1", map[string]string{"id": "t1"})

	evt := readEvent(t, conn)
	if evt.Type != EventTaskCreated || evt.ProjectID != "p1" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Origin != hub.InstanceID() {
		t.Errorf("Origin = %q, want %q", evt.Origin, hub.InstanceID())
	}
	if evt.At.IsZero() {
		t.Error("At was not stamped")
	}
	if !strings.Contains(string(evt.Payload), `"t1"`) {
		t.Errorf("Payload = %s", evt.Payload)
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	hub := newTestHub(t)
	conn1 := dialRoom(t, hub, "p1")
	conn2 := dialRoom(t, hub, "p2")

	hub.PublishPayload(EventCommentCreated, "p2", map[string]string{"id": "c1"})
	hub.PublishPayload(EventCommentCreated, "p1", map[string]string{"id": "c2"})

	if evt := readEvent(t, conn1); !strings.Contains(string(evt.Payload), "c2") {
		t.Errorf("room p1 received %s", evt.Payload)
	}
	if evt := readEvent(t, conn2); !strings.Contains(string(evt.Payload), "c1") {
		t.Errorf("room p2 received %s", evt.Payload)
	}
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub := newTestHub(t)
	conn := dialRoom(t, hub, "p1")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize("p1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client was not removed from the room")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Relay(t *testing.T) {
	hub := newTestHub(t)
	relay := &recordingPublisher{}
	hub.SetRelay(relay)

	hub.PublishPayload(EventTaskUpdated, "p1", map[string]string{})
	if relay.count() != 1 {
		t.Fatalf("relay received %d events, want 1", relay.count())
	}

	// Remote events are delivered locally but never relayed again.
	hub.Publish(&Event{Type: EventTaskUpdated, ProjectID: "p1", Origin: "other"})
	if relay.count() != 1 {
		t.Errorf("remote event was relayed: %d events", relay.count())
	}

	relay.err = errors.New("nats down")
	hub.PublishPayload(EventTaskUpdated, "p1", map[string]string{})
	if relay.count() != 2 {
		t.Errorf("relay received %d events, want 2", relay.count())
	}

	hub.PublishPayload(EventTaskUpdated, "", map[string]string{})
	if relay.count() != 2 {
		t.Error("event without a project should be dropped")
	}
}

func TestHub_DeliverSkipsOwnEvents(t *testing.T) {
	hub := newTestHub(t)
	conn := dialRoom(t, hub, "p1")

	hub.Deliver(&Event{Type: EventTaskDeleted, ProjectID: "p1", Origin: hub.InstanceID()})
	hub.Deliver(&Event{Type: EventTaskCreated, ProjectID: "p1", Origin: "remote"})

	evt := readEvent(t, conn)
	if evt.Type != EventTaskCreated || evt.Origin != "remote" {
		t.Errorf("event = %+v, want the remote task.created", evt)
	}
}
