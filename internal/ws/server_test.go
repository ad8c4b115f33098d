package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func newTestServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	s := NewServer(config)
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		t.Fatalf("create epoll: %v", err)
	}
	t.Cleanup(func() { _ = s.epoll.Close() })
	return s
}

// pipeConnection registers the server side of a net.Pipe with the manager and
// returns both ends.
func pipeConnection(s *Server, id string) (client net.Conn, server net.Conn) {
	client, server = net.Pipe()
	s.conns.Add(&Connection{
		ID:        id,
		Conn:      server,
		Fd:        socketFD(server),
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	})
	return client, server
}

func TestConnectionManagerLifecycle(t *testing.T) {
	cm := NewConnectionManager()

	_, server := net.Pipe()
	c := &Connection{ID: "ep-1", Conn: server, Fd: 42}
	cm.Add(c)

	if got := cm.Get("ep-1"); got != c {
		t.Fatalf("Get returned %v, want the registered connection", got)
	}
	if got := cm.GetByFd(42); got != c {
		t.Fatalf("GetByFd returned %v, want the registered connection", got)
	}
	if cm.Count() != 1 {
		t.Errorf("Count() = %d, want 1", cm.Count())
	}

	if !cm.Remove("ep-1") {
		t.Fatal("Remove of a registered connection returned false")
	}
	// Read-error and heartbeat paths can race to remove the same connection;
	// the second caller must see false.
	if cm.Remove("ep-1") {
		t.Fatal("second Remove returned true")
	}
	if cm.Count() != 0 || cm.Get("ep-1") != nil || cm.GetByFd(42) != nil {
		t.Errorf("connection still visible after Remove")
	}
}

func TestHandleConnDeliversFrame(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	client, server := pipeConnection(s, "ep-frame")
	defer client.Close()

	go func() {
		_ = wsutil.WriteClientMessage(client, ws.OpText, []byte(`{"proto_id":1001}`))
	}()

	s.handleConn(server)

	select {
	case frame := <-s.inbound:
		if frame.EndpointID != "ep-frame" {
			t.Errorf("frame endpoint %q, want ep-frame", frame.EndpointID)
		}
		if string(frame.Payload) != `{"proto_id":1001}` {
			t.Errorf("frame payload %q", frame.Payload)
		}
	default:
		t.Fatal("no frame on the inbound channel")
	}

	if s.conns.Get("ep-frame") == nil {
		t.Error("a well-formed frame closed the connection")
	}
}

func TestHandleConnDropsFrameWhenQueueFull(t *testing.T) {
	config := DefaultServerConfig()
	config.InboundQueue = 0
	s := newTestServer(t, config)
	client, server := pipeConnection(s, "ep-full")
	defer client.Close()

	go func() {
		_ = wsutil.WriteClientMessage(client, ws.OpText, []byte("hello"))
	}()

	s.handleConn(server)

	select {
	case frame := <-s.inbound:
		t.Fatalf("frame %q delivered through a zero-capacity queue", frame.Payload)
	default:
	}
	if s.conns.Get("ep-full") == nil {
		t.Error("a dropped frame must not close the connection")
	}
}

func TestHandleConnRejectsOversizedFrame(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxFrameSize = 1024
	s := newTestServer(t, config)
	client, server := pipeConnection(s, "ep-big")
	defer client.Close()

	// Declare a frame far beyond the cap without sending its payload; the
	// read path must refuse before allocating for it.
	go func() {
		_ = ws.WriteHeader(client, ws.Header{
			Fin:    true,
			OpCode: ws.OpText,
			Masked: true,
			Length: config.MaxFrameSize + 1,
		})
	}()

	s.handleConn(server)

	if s.conns.Get("ep-big") != nil {
		t.Fatal("oversized frame left the connection registered")
	}
	select {
	case frame := <-s.inbound:
		t.Fatalf("oversized frame delivered: %d bytes", len(frame.Payload))
	default:
	}
}
