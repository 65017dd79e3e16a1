package tcpserver

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocol"
	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/tcpconn"
)

// Config holds the TCP Server's tunables (spec.md §6 config keys).
type Config struct {
	Address             string
	MaxConnections      int
	MaxConnectionsPerIP int
	MaxFrameSize        int
	PingInterval        time.Duration
	PingTimeout         time.Duration
	DrainTimeout        time.Duration
}

// netSocket adapts a net.Conn to tcpconn.Socket.
type netSocket struct {
	conn net.Conn
}

func (s *netSocket) Write(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

func (s *netSocket) Close() error { return s.conn.Close() }

func (s *netSocket) RemoteIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

func (s *netSocket) RemotePort() int {
	_, port, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Server is the TCP Server of spec.md §4.7: an accept loop feeding
// per-connection FrameParsers, plus periodic ping/stale sweeps.
type Server struct {
	cfg     Config
	manager *tcpconn.Manager
	handler *Handler
	codec   *protocol.Codec
	log     *zap.Logger

	listener net.Listener
	draining atomic.Bool

	stopSweeps chan struct{}
	wg         sync.WaitGroup
}

func NewServer(cfg Config, manager *tcpconn.Manager, handler *Handler, codec *protocol.Codec, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 60 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, manager: manager, handler: handler, codec: codec, log: log, stopSweeps: make(chan struct{})}
}

// Start opens the listening socket and begins accepting connections and
// running periodic sweeps. It returns once the listener is bound;
// accept/sweep loops run in background goroutines.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("tcp server started", zap.String("address", s.cfg.Address))

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(2)
	go s.pingSweepLoop()
	go s.staleSweepLoop()

	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Address
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.draining.Load() {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}

		if s.draining.Load() {
			_ = conn.Close()
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(s.cfg.PingInterval)
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ctx, span := observability.StartSpan(context.Background(), "tcp.accept")
	defer span.End()

	socket := &netSocket{conn: conn}
	registered, err := s.manager.AddConnection(socket)
	if err != nil {
		s.log.Debug("connection rejected", zap.Error(err))
		_ = conn.Close()
		return
	}
	observability.SetSpanAttribute(ctx, "connectionId", registered.ID)
	observability.SetSpanAttribute(ctx, "remoteIp", socket.RemoteIP())
	observability.RecordTCPConnection(1)
	defer observability.RecordTCPConnection(-1)

	parser := protocol.NewFrameParser(s.cfg.MaxFrameSize)
	buf := make([]byte, 32*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.manager.UpdateActivity(registered.ID)
			frames, errs := parser.Feed(buf[:n])
			fatal := false
			for _, ferr := range errs {
				observability.RecordTCPFrameError("parse")
				s.log.Debug("frame parse error", zap.String("connectionId", registered.ID), zap.Error(ferr))
				kind := protocolerr.KindOf(ferr)
				s.writeErrorFrame(conn, registered.ID, string(kind), ferr.Error())
				if protocolerr.Fatal(kind) {
					fatal = true
				}
			}
			if fatal {
				observability.AddSpanEvent(ctx, "frame.fatal")
				_ = conn.Close()
				s.handler.Disconnect(registered.ID)
				return
			}
			for _, frame := range frames {
				observability.RecordTCPFrameParsed()
				msg, decodeErr := s.codec.Decode(frame)
				if decodeErr != nil {
					observability.RecordTCPFrameError("decode")
					s.log.Debug("frame decode error", zap.String("connectionId", registered.ID), zap.Error(decodeErr))
					s.writeErrorFrame(conn, registered.ID, string(protocolerr.KindOf(decodeErr)), decodeErr.Error())
					continue
				}
				s.handler.HandleMessage(registered.ID, msg)
			}
		}
		if err != nil {
			break
		}
	}

	s.handler.Disconnect(registered.ID)
}

// writeErrorFrame replies to the client with an ERROR frame for a
// parse/decode failure (spec.md §7). Encoding errors are logged and
// swallowed — there's no better recovery than dropping the reply.
func (s *Server) writeErrorFrame(conn net.Conn, connectionID, code, message string) {
	b, err := s.codec.EncodeError(code, message)
	if err != nil {
		s.log.Debug("failed to encode error frame", zap.String("connectionId", connectionID), zap.Error(err))
		return
	}
	if _, err := conn.Write(b); err != nil {
		s.log.Debug("failed to write error frame", zap.String("connectionId", connectionID), zap.Error(err))
	}
}

func (s *Server) pingSweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweeps:
			return
		case <-ticker.C:
			b, err := s.codec.Encode(protocol.Message{Type: protocol.TypePing, Data: map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			}})
			if err != nil {
				continue
			}
			s.manager.Broadcast(b)
		}
	}
}

func (s *Server) staleSweepLoop() {
	defer s.wg.Done()
	interval := s.cfg.PingTimeout
	if interval > 60*time.Second {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweeps:
			return
		case <-ticker.C:
			evicted := s.manager.RemoveStaleConnections(s.cfg.PingTimeout * 2)
			if evicted > 0 {
				s.log.Debug("evicted stale connections", zap.Int("count", evicted))
			}
		}
	}
}

// Stop halts accepting new connections, cancels periodic tasks, and
// gracefully drains remaining connections (spec.md §4.7/§5).
func (s *Server) Stop() {
	s.draining.Store(true)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	close(s.stopSweeps)
	s.manager.CloseAll(s.cfg.DrainTimeout)
	s.wg.Wait()
}
