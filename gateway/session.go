/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nullshard/gatewire/gatewayerr"
	"github.com/nullshard/gatewire/ratelimit"
)

// gatewayRateLimit is the documented outbound frame budget: 120 frames per
// rolling 60-second window, shared by every writer (application requests,
// the heartbeat task, and auto-pong replies in the receive loop).
const gatewayRateLimit = 120

var gatewayRateWindow = 60 * time.Second

// Session is one shard's Gateway connection. It owns exactly one socket at a
// time and runs one state machine per call to Connect: Dialing ->
// Awaiting-Hello -> Authenticating -> Listening -> Disconnected. It does not
// retry on its own; Connect returns the terminal error and the embedder
// decides, via gatewayerr.Classify and PrepareReconnect, whether and how to
// call Connect again.
type Session struct {
	cfg   Config
	state *State

	limiter *ratelimit.WindowLimiter
	latch   *closeLatch

	connMu sync.Mutex
	conn   net.Conn
	codec  *frameCodec

	writeMu sync.Mutex

	heartbeatInterval time.Duration
}

// New constructs a Session for one shard. The connection is not opened until
// Connect is called.
func New(token, url string, opts ...Option) *Session {
	cfg := newConfig(token, url, opts...)
	return &Session{
		cfg:     cfg,
		state:   newState(),
		limiter: ratelimit.NewWindowLimiter(gatewayRateLimit, gatewayRateWindow),
		latch:   newCloseLatch(),
	}
}

// Connect dials, performs the HELLO/IDENTIFY-or-RESUME handshake, and then
// blocks running the ping and heartbeat keepalive tasks and the receive loop
// until the connection ends, for any reason. It returns the classifying
// error (see gatewayerr.Classify); a nil return never happens, Close always
// surfaces as gatewayerr.ErrClientClosed. Connect must not be called again
// concurrently on the same Session, but may be called again sequentially
// after a non-fatal termination.
func (s *Session) Connect(ctx context.Context) error {
	if s.latch.isSet() {
		return gatewayerr.ErrClientClosed
	}

	connID := uuid.NewString()
	logger := s.cfg.Logger.WithFields(map[string]any{
		"shard_id":      s.cfg.ShardID,
		"connection_id": connID,
	})

	url := s.buildURL()
	logger.WithField("url", url).Info("dialing gateway")
	conn, err := s.cfg.Dialer(ctx, url)
	if err != nil {
		return fmt.Errorf("gatewire: dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.codec = newFrameCodec(s.cfg.Serializer, s.cfg.Deserializer)
	s.connMu.Unlock()

	defer s.teardown(logger)

	if s.latch.isSet() {
		return gatewayerr.ErrClientClosed
	}

	interval, err := s.awaitHello(ctx)
	if err != nil {
		if s.latch.isSet() {
			return gatewayerr.ErrClientClosed
		}
		logger.WithField("error", err).Error("did not receive HELLO")
		return err
	}
	s.heartbeatInterval = interval

	if err := s.authenticate(ctx, logger); err != nil {
		if s.latch.isSet() {
			return gatewayerr.ErrClientClosed
		}
		return err
	}

	s.state.connectedAt.set(time.Now())
	logger.Info("gateway session established")

	return s.listen(ctx)
}

// Close ends the current or next connection attempt and marks this Session
// unusable for further Connect calls. Idempotent.
func (s *Session) Close() error {
	s.latch.set()
	return s.closeConn()
}

func (s *Session) closeConn() error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil
	}
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	// Bound the best-effort close frame so a peer that is not reading cannot
	// keep conn.Close below from ever running.
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wsutil.WriteClientMessage(conn, ws.OpClose, body)
	return conn.Close()
}

// teardown closes the socket and resets per-connection state so the next
// Connect call starts clean. It does not set the close latch: that is
// Close's job alone, since a Session must remain reconnectable after an
// ordinary disconnect.
func (s *Session) teardown(logger interface {
	Debug(string)
}) {
	_ = s.closeConn()
	s.state.resetForReconnect()
	logger.Debug("connection torn down")
}

// PrepareReconnect applies the recovery strategy gatewayerr.Classify assigns
// to err, mutating this Session's retained state accordingly. The embedder
// calls this between a failed Connect and its next Connect attempt; it is
// never invoked automatically, since the orchestrator itself does not retry.
func (s *Session) PrepareReconnect(err error) {
	switch gatewayerr.Classify(err) {
	case gatewayerr.ClassRestartable:
		s.state.resetForFatal()
	case gatewayerr.ClassResumable:
		// session_id and seq are retained as-is.
	case gatewayerr.ClassFatal:
		// No further reconnect is expected to succeed; the embedder should
		// stop calling Connect. State is left as-is for inspection.
	}
}

func (s *Session) buildURL() string {
	u := s.cfg.URL + "?v=7&encoding=json"
	if s.cfg.Compression {
		u += "&compress=zlib-stream"
	}
	return u
}

func (s *Session) awaitHello(ctx context.Context) (time.Duration, error) {
	if s.cfg.ReceiveTimeout > 0 {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout))
	}

	var df *decodedFrame
	for {
		frame, err := s.readFrame()
		if err != nil {
			return 0, err
		}
		if frame.envelope != nil {
			df = frame
			break
		}
		// A ping/pong control frame, or an incomplete zlib-stream frame with
		// HELLO still split across flush units: keep reading.
	}
	if df.envelope.Op != OpHello {
		return 0, &gatewayerr.ProtocolError{Reason: "expected HELLO as the first frame"}
	}
	var hello helloData
	if err := s.cfg.Deserializer.Unmarshal(df.envelope.D, &hello); err != nil {
		return 0, &gatewayerr.ProtocolError{Reason: "malformed HELLO: " + err.Error()}
	}
	if hello.HeartbeatIntervalMs <= 0 {
		return 0, &gatewayerr.ProtocolError{Reason: "HELLO carried a non-positive heartbeat_interval"}
	}
	return time.Duration(hello.HeartbeatIntervalMs * float64(time.Millisecond)), nil
}

func (s *Session) authenticate(ctx context.Context, logger interface {
	Info(string)
	Debug(string)
}) error {
	if id := s.state.SessionID(); id != "" {
		logger.Info("resuming existing session")
		return s.sendResume(ctx)
	}
	logger.Debug("no session id retained, identifying fresh")
	return s.sendIdentify(ctx)
}

// listen runs the ping keepalive, heartbeat keepalive, and receive poll
// tasks until the first of them fails, then cancels the rest and returns
// that first error. The close latch is wired into the same derived context,
// so Close interrupts all three exactly as a sibling failure would.
func (s *Session) listen(ctx context.Context) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.latch.done():
			cancel()
		case <-lctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(lctx)
	// The receive loop blocks on a plain net.Conn.Read with no context
	// awareness. Force-close the socket the moment any sibling task fails
	// (or Close is called) so that blocked read unblocks instead of
	// outliving the other two tasks forever.
	go func() {
		<-gctx.Done()
		_ = s.closeConn()
	}()
	g.Go(func() error { return s.pingKeepalive(gctx) })
	g.Go(func() error { return s.heartbeatKeepalive(gctx) })
	g.Go(func() error { return s.pollLoop(gctx) })
	err := g.Wait()
	if s.latch.isSet() {
		// Close was called locally: the sibling tasks saw their sockets
		// force-closed and returned transport errors of their own, but the
		// classification that matters is "the caller asked us to stop", not
		// whatever incidental read error that produced.
		return gatewayerr.ErrClientClosed
	}
	if err == nil {
		// All three tasks saw the caller's ctx cancelled and stopped cleanly.
		err = ctx.Err()
	}
	return err
}

func (s *Session) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if s.cfg.ReceiveTimeout > 0 {
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout))
		}

		df, err := s.readFrame()
		if err != nil {
			return err
		}
		if df.envelope == nil {
			continue
		}
		if err := s.routeEnvelope(ctx, df.envelope); err != nil {
			return err
		}
	}
}

// readFrame reads and decodes exactly one WebSocket frame, transparently
// handling auto-pong and pong bookkeeping. It returns a decodedFrame with a
// nil envelope (and nil error) when the frame carried no routable envelope,
// so the caller should simply read again.
func (s *Session) readFrame() (*decodedFrame, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	data, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		return nil, fmt.Errorf("gatewire: receive: %w", err)
	}
	df, err := s.codec.Decode(op, data)
	if err != nil {
		return nil, err
	}

	switch {
	case df.ping != nil:
		if err := s.write(context.Background(), ws.OpPong, df.ping); err != nil {
			return nil, err
		}
		return &decodedFrame{}, nil
	case df.pong:
		s.state.lastPongReceived.set(time.Now())
		return &decodedFrame{}, nil
	}
	return df, nil
}

func (s *Session) routeEnvelope(ctx context.Context, env *inboundEnvelope) error {
	if env.S != nil {
		s.state.observeSeq(*env.S)
	}

	switch env.Op {
	case OpDispatch:
		name := ""
		if env.T != nil {
			name = *env.T
		}
		if name == "READY" {
			var ready readyData
			if err := s.cfg.Deserializer.Unmarshal(env.D, &ready); err == nil && ready.SessionID != "" {
				s.state.setSessionID(ready.SessionID)
			}
		}
		s.cfg.Dispatch(s, name, env.D)
		return nil

	case OpHeartbeat:
		return s.sendHeartbeatReply(ctx)

	case OpReconnect:
		return gatewayerr.ErrMustReconnect

	case OpInvalidSession:
		var resumable bool
		_ = s.cfg.Deserializer.Unmarshal(env.D, &resumable)
		return &gatewayerr.InvalidSessionError{Resumable: resumable}

	case OpHello:
		s.cfg.Logger.Debug("ignoring unexpected HELLO outside handshake")
		return nil

	case OpHeartbeatACK:
		s.state.lastHeartbeatACKReceived.set(time.Now())
		return nil

	default:
		s.cfg.Logger.WithField("op", env.Op).Debug("ignoring unhandled opcode")
		return nil
	}
}

// write serializes through the rate limiter and a single writer lock, so the
// heartbeat task, the receive loop's auto-pong replies, and application
// requests never interleave partial frames on the wire.
func (s *Session) write(ctx context.Context, op ws.OpCode, data []byte) error {
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	return wsutil.WriteClientMessage(conn, op, data)
}

func (s *Session) sendEnvelope(ctx context.Context, op Opcode, d any) error {
	data, err := s.codec.Encode(outboundEnvelope{Op: op, D: d})
	if err != nil {
		return err
	}
	return s.write(ctx, ws.OpText, data)
}

// IsConnected reports whether the current connection has completed its
// handshake and not yet torn down.
func (s *Session) IsConnected() bool {
	_, ok := s.state.ConnectedAt()
	return ok
}

// Uptime returns how long the current connection has been established.
func (s *Session) Uptime() time.Duration { return s.state.Uptime() }

// Latency returns the most recent WebSocket ping/pong round-trip time.
func (s *Session) Latency() time.Duration { return s.state.Latency() }

// HeartbeatLatency returns the most recent heartbeat/ack round-trip time.
func (s *Session) HeartbeatLatency() time.Duration { return s.state.HeartbeatLatency() }

// ShardID returns this connection's position within its shard group.
func (s *Session) ShardID() int { return s.cfg.ShardID }

// ShardCount returns the shard group's total size.
func (s *Session) ShardCount() int { return s.cfg.ShardCount }

// Seq returns the last dispatch sequence number observed.
func (s *Session) Seq() int64 { return s.state.Seq() }

// SessionID returns the current resumable session id, or "" if unset.
func (s *Session) SessionID() string { return s.state.SessionID() }

// URL returns the base Gateway URL this Session was constructed with.
func (s *Session) URL() string { return s.cfg.URL }
