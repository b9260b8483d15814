package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clucky/luckychat/pkg/protocol"
)

// Server accepts connections and runs one connection handler per client.
// The registry and the user store are the only state shared across
// connections.
type Server struct {
	store    UserStore
	registry *Registry
	router   *Router
	config   Config
	metrics  *Metrics

	listener  net.Listener
	httpSrv   *http.Server
	shutdown  chan struct{}
	wg        sync.WaitGroup
	nextID    uint64 // atomic session id counter
	liveConns int64  // atomic open connection count
	startTime time.Time
}

// NewServer creates a server around the given user store.
func NewServer(store UserStore, config Config) *Server {
	s := &Server{
		store:     store,
		registry:  NewRegistry(),
		config:    config,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
	s.router = NewRouter(s)
	return s
}

// SetMetrics attaches metrics to the server and its registry.
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
	s.registry.SetMetrics(metrics)
}

// Registry exposes the session registry (health endpoint, admin tooling).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start begins listening for TCP connections, and for HTTP (WebSocket
// transport, health, metrics) when an HTTP port is configured.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	debugLog.Printf("TCP server listening on %s", addr)

	if s.config.HTTPPort > 0 {
		mux := http.NewServeMux()
		s.RegisterHTTPHandlers(mux)
		s.httpSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.HTTPPort),
			Handler: mux,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Printf("HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server: announce, stop accepting, close every
// session, wait for handlers to drain.
func (s *Server) Stop() error {
	s.registry.BroadcastSystem("server shutting down")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.httpSrv != nil {
		s.httpSrv.Close()
		s.httpSrv = nil
	}

	s.registry.CloseAll()
	s.wg.Wait()

	return s.store.Close()
}

// acceptLoop accepts incoming connections until shutdown.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	listener := s.listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection owns one session for the lifetime of the connection:
// it runs the read loop, spawns the liveness watchdog, and performs the
// single teardown however the connection ends.
func (s *Server) handleConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := newSession(atomic.AddUint64(&s.nextID, 1), conn)
	s.metrics.RecordSessionCreated()
	s.metrics.RecordActiveSessions(int(atomic.AddInt64(&s.liveConns, 1)))
	debugLog.Printf("Session %d: connected from %s", sess.ID, conn.RemoteAddr())

	// Teardown is idempotent: read EOF, watchdog timeout, logout and
	// registry displacement all converge here via sess.Close, and the
	// identity-checked Unregister makes the registry removal safe to
	// reach from any of them.
	defer func() {
		sess.Close()
		if account := sess.Account(); account != "" {
			if s.registry.Unregister(account, sess) {
				if err := s.store.SetOnlineStatus(account, false); err != nil {
					errorLog.Printf("Session %d: failed to mark %s offline: %v", sess.ID, account, err)
				}
			}
		}
		s.metrics.RecordSessionDisconnected()
		s.metrics.RecordActiveSessions(int(atomic.AddInt64(&s.liveConns, -1)))
		debugLog.Printf("Session %d: closed", sess.ID)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchdog(sess)
	}()

	s.readLoop(sess, conn)
}

// readLoop reads one line at a time and dispatches it. Its only
// suspension point is the blocking read; closing the connection surfaces
// here as an error and ends the loop.
func (s *Server) readLoop(sess *Session, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	maxLine := s.config.MaxMessageLength
	if maxLine < 4096 {
		maxLine = 4096
	}
	scanner.Buffer(make([]byte, 0, 4096), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			// One bad line is not fatal; report it and keep reading.
			s.metrics.RecordMalformedLine()
			debugLog.Printf("Session %d: %v", sess.ID, err)
			s.sendError(sess, "malformed message")
			continue
		}

		sess.Touch()
		s.metrics.RecordMessageReceived(msg.Type)
		debugLog.Printf("Session %d <- %s", sess.ID, msg.Type)

		s.router.Route(msg, sess)
	}

	if err := scanner.Err(); err != nil && !sess.IsClosed() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		debugLog.Printf("Session %d: read error: %v", sess.ID, err)
	}
}

// watchdog force-closes the session after prolonged silence. It wakes on
// a fixed interval and compares now against the last decoded line.
func (s *Server) watchdog(sess *Session) {
	interval := time.Duration(s.config.HeartbeatCheckSeconds) * time.Second
	timeout := time.Duration(s.config.HeartbeatTimeoutSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Closed():
			return
		case <-s.shutdown:
			// Also covers sessions that never authenticated and so are
			// not reachable through the registry's CloseAll.
			sess.Close()
			return
		case <-ticker.C:
			idle := time.Now().UnixMilli() - sess.LastActivity()
			if idle > timeout.Milliseconds() {
				debugLog.Printf("Session %d: heartbeat timeout after %dms idle", sess.ID, idle)
				s.metrics.RecordHeartbeatTimeout()
				sess.Close()
				return
			}
		}
	}
}

// send writes a reply to the session and records it.
func (s *Server) send(sess *Session, msg *protocol.Message) {
	if err := sess.Send(msg); err != nil {
		debugLog.Printf("Session %d: send %s failed: %v", sess.ID, msg.Type, err)
		return
	}
	s.metrics.RecordMessageSent(msg.Type)
	debugLog.Printf("Session %d -> %s", sess.ID, msg.Type)
}

// sendError sends an error-type reply with the given content.
func (s *Server) sendError(sess *Session, content string) {
	msg := protocol.New(protocol.TypeError)
	msg.Content = content
	s.send(sess, msg)
}
