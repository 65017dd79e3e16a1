package tcpserver

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocol"
	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/pubsub"
	"github.com/rtmsg/broker/internal/tcpconn"
)

func readFrame(t *testing.T, conn net.Conn) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	frameLen := binary.BigEndian.Uint32(header)
	body := make([]byte, frameLen)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read frame body: %v", err)
	}
	return protocol.Frame{Type: protocol.Type(body[0]), Payload: body[1:]}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerAuthSubscribePublishOverLoopback(t *testing.T) {
	manager := tcpconn.NewManager(100, 100, nil)
	broker := pubsub.NewBroker(pubsub.NewMemoryAdapter(0, nil))
	if err := broker.Connect(); err != nil {
		t.Fatalf("broker connect: %v", err)
	}
	codec := protocol.NewCodec(0)
	verifier := &fakeVerifier{userID: "user-1"}
	users := &fakeUsers{users: map[string]*domain.User{"user-1": {ID: "user-1"}}}
	handler := NewHandler(manager, broker, codec, verifier, users, nil)

	srv := NewServer(Config{Address: "127.0.0.1:0", PingInterval: time.Hour, PingTimeout: time.Hour}, manager, handler, codec, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln
	srv.wg.Add(1)
	go srv.acceptLoop()
	defer srv.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	authFrame, err := codec.Encode(protocol.Message{Type: protocol.TypeAuth, Data: map[string]any{"token": "t"}})
	if err != nil {
		t.Fatalf("encode auth: %v", err)
	}
	if _, err := conn.Write(authFrame); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != protocol.TypeAuthSuccess {
		t.Fatalf("expected AUTH_SUCCESS, got type %x", frame.Type)
	}

	subFrame, _ := codec.Encode(protocol.Message{Type: protocol.TypeSubscribe, Data: map[string]any{"topic": "room.a"}})
	if _, err := conn.Write(subFrame); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	frame = readFrame(t, conn)
	if frame.Type != protocol.TypeSubscribed {
		t.Fatalf("expected SUBSCRIBED, got type %x", frame.Type)
	}

	pubFrame, _ := codec.Encode(protocol.Message{Type: protocol.TypeMessage, Data: map[string]any{"topic": "room.a", "content": "hi"}})
	if _, err := conn.Write(pubFrame); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	frame = readFrame(t, conn)
	if frame.Type != protocol.TypeServerMessage {
		t.Fatalf("expected SERVER_MESSAGE echo of own publish, got type %x", frame.Type)
	}
	var decoded map[string]any
	if err := json.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal server message: %v", err)
	}
	if decoded["topic"] != "room.a" {
		t.Errorf("expected topic room.a, got %v", decoded["topic"])
	}
}

// rawFrame hand-builds a wire frame without going through Codec.Encode,
// so a test can put an otherwise-invalid type byte or length on the wire.
func rawFrame(typ byte, payload []byte) []byte {
	body := append([]byte{typ}, payload...)
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

func newLoopbackServer(t *testing.T, cfg Config) (*Server, net.Conn) {
	t.Helper()
	manager := tcpconn.NewManager(100, 100, nil)
	broker := pubsub.NewBroker(pubsub.NewMemoryAdapter(0, nil))
	if err := broker.Connect(); err != nil {
		t.Fatalf("broker connect: %v", err)
	}
	// cfg.MaxFrameSize bounds inbound frames only; the codec keeps the
	// default limit so ERROR replies always fit.
	codec := protocol.NewCodec(0)
	verifier := &fakeVerifier{userID: "user-1"}
	users := &fakeUsers{users: map[string]*domain.User{"user-1": {ID: "user-1"}}}
	handler := NewHandler(manager, broker, codec, verifier, users, nil)

	cfg.Address = "127.0.0.1:0"
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = time.Hour
	}
	srv := NewServer(cfg, manager, handler, codec, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln
	srv.wg.Add(1)
	go srv.acceptLoop()
	t.Cleanup(srv.Stop)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestServerRepliesErrorOnUnknownTypeByteKeepsConnectionOpen(t *testing.T) {
	_, conn := newLoopbackServer(t, Config{})

	if _, err := conn.Write(rawFrame(0x7E, nil)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != protocol.TypeError {
		t.Fatalf("expected ERROR frame, got type %x", frame.Type)
	}
	var decoded map[string]any
	if err := json.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if decoded["code"] != string(protocolerr.InvalidMessageType) {
		t.Errorf("expected code %s, got %v", protocolerr.InvalidMessageType, decoded["code"])
	}

	// Connection must stay open: a follow-up AUTH frame is still served.
	authFrame, _ := protocol.NewCodec(0).Encode(protocol.Message{Type: protocol.TypeAuth, Data: map[string]any{"token": "t"}})
	if _, err := conn.Write(authFrame); err != nil {
		t.Fatalf("write auth after malformed frame: %v", err)
	}
	frame = readFrame(t, conn)
	if frame.Type != protocol.TypeAuthSuccess {
		t.Fatalf("expected AUTH_SUCCESS after recoverable error, got type %x", frame.Type)
	}
}

func TestServerClosesConnectionOnFrameTooLarge(t *testing.T) {
	_, conn := newLoopbackServer(t, Config{MaxFrameSize: 16})

	oversized := make([]byte, 64)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(oversized)))
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("write oversized length prefix: %v", err)
	}
	if _, err := conn.Write(oversized); err != nil {
		t.Fatalf("write oversized body: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != protocol.TypeError {
		t.Fatalf("expected ERROR frame, got type %x", frame.Type)
	}
	var decoded map[string]any
	if err := json.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if decoded["code"] != string(protocolerr.FrameTooLarge) {
		t.Errorf("expected code %s, got %v", protocolerr.FrameTooLarge, decoded["code"])
	}

	// The server must destroy the connection: the next read should see EOF.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after FrameTooLarge, got more data")
	}
}
