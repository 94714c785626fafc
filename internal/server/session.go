// Package server runs one Session per connection: the command protocol, the
// heartbeat, and the read/write pumps between the wire and the Registry.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const sendBufferSize = 256

// State is the lifecycle stage of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	// StateListing means inbound intake is paused until the room list arrives.
	StateListing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateListing:
		return "listing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type outboundKind int

const (
	outText outboundKind = iota
	outPong
)

type outbound struct {
	kind outboundKind
	text string
	data []byte
}

// Session mediates between one connection and the Registry.
type Session struct {
	registry *Registry
	conn     Conn
	logger   *zap.Logger
	metrics  *Metrics
	connID   string

	// Written by Run before the pumps start, then owned by the read pump.
	id   SessionID
	room string
	name string

	state         *atomic.Int32
	lastHeartbeat *atomic.Time

	send       chan outbound
	done       chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once

	// Set inside stopOnce, read by the write pump after done is closed.
	closeCode   int
	closeReason string

	heartbeatInterval time.Duration
	clientTimeout     time.Duration
}

var _ Handle = (*Session)(nil)

// NewSession creates a session for conn. Call Run to register it and serve it.
func NewSession(registry *Registry, conn Conn, logger *zap.Logger, metrics *Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = registry.metrics
	}
	connID := uuid.NewString()
	return &Session{
		registry:          registry,
		conn:              conn,
		logger:            logger.With(zap.String("conn_id", connID), zap.String("remote_addr", conn.RemoteAddr())),
		metrics:           metrics,
		connID:            connID,
		state:             atomic.NewInt32(int32(StateConnecting)),
		lastHeartbeat:     atomic.NewTime(time.Now()),
		send:              make(chan outbound, sendBufferSize),
		done:              make(chan struct{}),
		writerDone:        make(chan struct{}),
		heartbeatInterval: HeartbeatInterval,
		clientTimeout:     ClientTimeout,
	}
}

// ID returns the id assigned by the registry, or zero before Connect completes.
func (s *Session) ID() SessionID {
	return s.id
}

// State reports the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Deliver queues text for the peer without blocking. It is called from the
// registry goroutine and drops the text once the session is stopping or its
// buffer is full.
func (s *Session) Deliver(text string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- outbound{kind: outText, text: text}:
		return true
	default:
		return false
	}
}

// Run registers the session, serves the connection until it ends, and
// deregisters it. It returns nil for ordinary closes.
func (s *Session) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateClosed))

	id, err := s.registry.Connect(ctx, s)
	if err != nil {
		s.state.Store(int32(StateClosing))
		close(s.done)
		s.logger.Warn("registry unavailable, closing connection", zap.Error(err))
		if cerr := s.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			s.logger.Debug("error closing connection", zap.Error(cerr))
		}
		return errors.Wrap(err, "connect session")
	}

	s.id = id
	s.logger = s.logger.With(zap.Uint64("session_id", uint64(id)))
	s.touch()
	s.state.Store(int32(StateActive))
	s.logger.Debug("session active")

	go s.writePump()
	go func() {
		select {
		case <-ctx.Done():
			s.stop(websocket.CloseGoingAway, "server shutting down")
		case <-s.done:
		}
	}()

	err = s.readPump(ctx)
	s.stop(websocket.CloseNormalClosure, "")
	// The read pump is the only sender of requests for this id, so nothing
	// can reach the registry after this.
	if derr := s.registry.Disconnect(s.id); derr != nil {
		s.logger.Debug("disconnect not delivered", zap.Error(derr))
	}
	<-s.writerDone
	s.logger.Debug("session closed")
	return err
}

func (s *Session) touch() {
	s.lastHeartbeat.Store(time.Now())
}

// stop records the close code and signals both pumps, once. Run sends the
// Disconnect after the read pump has returned.
func (s *Session) stop(code int, reason string) {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.closeCode = code
		s.closeReason = reason
		close(s.done)
	})
}

func (s *Session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// queue hands an outbound item to the write pump, giving up once stopped.
func (s *Session) queue(out outbound) {
	select {
	case s.send <- out:
	case <-s.done:
	}
}

func (s *Session) reply(text string) {
	s.queue(outbound{kind: outText, text: text})
}

func (s *Session) readPump(ctx context.Context) error {
	for {
		frame, err := s.conn.ReadFrame()
		if s.stopped() {
			return nil
		}
		if err != nil {
			if isExpectedCloseError(err) {
				return nil
			}
			s.logger.Info("connection read failed", zap.Error(err))
			s.stop(websocket.CloseProtocolError, "")
			return nil
		}
		if !s.handleFrame(ctx, frame) {
			return nil
		}
	}
}

// handleFrame returns false when the session should end.
func (s *Session) handleFrame(ctx context.Context, frame Frame) bool {
	switch frame.Kind {
	case FramePing:
		s.touch()
		s.queue(outbound{kind: outPong, data: frame.Data})
	case FramePong:
		s.touch()
	case FrameText:
		if err := s.handleText(ctx, string(frame.Data)); err != nil {
			s.logger.Warn("registry unavailable, closing connection", zap.Error(err))
			s.stop(websocket.CloseInternalServerErr, "")
			return false
		}
	case FrameBinary:
		s.logger.Debug("unexpected binary frame", zap.Int("size", len(frame.Data)))
	case FrameClose:
		s.logger.Debug("peer closed connection", zap.Int("code", frame.Code))
		s.stop(frame.Code, string(frame.Data))
		return false
	}
	return true
}

// handleText runs one line of the command protocol. Only registry failures
// are returned; protocol errors are answered on the connection.
func (s *Session) handleText(ctx context.Context, text string) error {
	cmd, err := ParseCommand(text)
	if err != nil {
		s.logger.Debug("rejected command", zap.String("input", cmd.Raw), zap.Error(err))
		s.reply(errorReply(cmd))
		return nil
	}

	switch cmd.Kind {
	case CommandChessStep:
		return s.registry.ChessStep(s.id, cmd.Arg, s.room)
	case CommandList:
		return s.listRooms(ctx)
	case CommandJoin:
		s.room = cmd.Arg
		if err := s.registry.Join(s.id, s.room); err != nil {
			return err
		}
		s.reply(replyJoined)
	case CommandName:
		s.name = cmd.Arg
	case CommandChat:
		return s.registry.Broadcast(s.id, chatText(s.name, cmd.Arg), s.room)
	}
	return nil
}

// listRooms pauses intake until the registry answers; the read pump does not
// pull another frame before this returns.
func (s *Session) listRooms(ctx context.Context) error {
	s.state.Store(int32(StateListing))
	defer s.state.CompareAndSwap(int32(StateListing), int32(StateActive))

	rooms, err := s.registry.ListRooms(ctx)
	if err != nil {
		return errors.Wrap(err, "list rooms")
	}
	for _, room := range rooms {
		s.reply(room)
	}
	return nil
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer func() {
		ticker.Stop()
		s.closeConnection()
		close(s.writerDone)
	}()

	for {
		select {
		case out := <-s.send:
			if err := s.write(out); err != nil {
				if !isExpectedCloseError(err) {
					s.logger.Info("connection write failed", zap.Error(err))
				}
				s.stop(websocket.CloseNormalClosure, "")
				return
			}
		case <-ticker.C:
			if !s.heartbeat() {
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

// heartbeat drops a silent peer or pings it. It returns false once the
// session has been stopped.
func (s *Session) heartbeat() bool {
	if time.Since(s.lastHeartbeat.Load()) > s.clientTimeout {
		s.logger.Info("heartbeat failed, disconnecting")
		s.metrics.HeartbeatTimeouts.Inc()
		s.stop(websocket.CloseGoingAway, "heartbeat timeout")
		return false
	}
	if err := s.conn.WritePing(nil); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Info("ping failed", zap.Error(err))
		}
		s.stop(websocket.CloseNormalClosure, "")
		return false
	}
	return true
}

func (s *Session) write(out outbound) error {
	switch out.kind {
	case outPong:
		return s.conn.WritePong(out.data)
	default:
		return s.conn.WriteText(out.text)
	}
}

// flush writes whatever was queued before the stop, best-effort.
func (s *Session) flush() {
	for {
		select {
		case out := <-s.send:
			if err := s.write(out); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) closeConnection() {
	if err := s.conn.WriteClose(s.closeCode, s.closeReason); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("error writing close frame", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("error closing connection", zap.Error(err))
	}
}
