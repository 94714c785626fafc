// Package server coordinates session registration, room membership, and
// message fan-out through the Registry actor.
package server

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const requestQueueSize = 256

// request is one unit of work executed by the registry goroutine.
type request interface {
	kind() string
	apply(r *Registry)
}

// Registry owns the session and room maps. All reads and writes happen on the
// goroutine running Run, one request at a time, in arrival order.
type Registry struct {
	requests chan request
	done     chan struct{}

	sessions map[SessionID]Handle
	rooms    map[string]map[SessionID]struct{}
	visitors *atomic.Int64

	logger  *zap.Logger
	metrics *Metrics
}

// NewRegistry creates a Registry with the default room in place. Call Run to
// start processing requests.
func NewRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	r := &Registry{
		requests: make(chan request, requestQueueSize),
		done:     make(chan struct{}),
		sessions: make(map[SessionID]Handle),
		rooms:    map[string]map[SessionID]struct{}{DefaultRoom: {}},
		visitors: atomic.NewInt64(0),
		logger:   logger,
		metrics:  metrics,
	}
	r.metrics.Rooms.Set(1)
	return r
}

// Run processes requests until ctx is cancelled. Requests submitted after Run
// returns fail with ErrRegistryClosed.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)
	r.logger.Info("registry started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry stopped",
				zap.Int("sessions", len(r.sessions)),
				zap.Int("rooms", len(r.rooms)))
			return
		case req := <-r.requests:
			r.metrics.Requests.WithLabelValues(req.kind()).Inc()
			req.apply(r)
		}
	}
}

// Done is closed once Run has returned.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Visitors returns the number of successful connects so far.
func (r *Registry) Visitors() int64 {
	return r.visitors.Load()
}

func (r *Registry) submit(ctx context.Context, req request) error {
	select {
	case <-r.done:
		return ErrRegistryClosed
	default:
	}
	select {
	case r.requests <- req:
		return nil
	case <-r.done:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitReply[T any](ctx context.Context, r *Registry, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// The request may have been applied just before Run returned.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrRegistryClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Connect registers h, places it in the default room and returns its new id.
func (r *Registry) Connect(ctx context.Context, h Handle) (SessionID, error) {
	reply := make(chan SessionID, 1)
	if err := r.submit(ctx, connectRequest{handle: h, reply: reply}); err != nil {
		return 0, err
	}
	id, err := awaitReply(ctx, r, reply)
	if err != nil && !errors.Is(err, ErrRegistryClosed) {
		// The request is queued and will still assign an id nobody owns.
		go r.releaseOrphan(reply)
	}
	return id, err
}

// releaseOrphan disconnects the id of a connect whose caller stopped waiting.
func (r *Registry) releaseOrphan(reply <-chan SessionID) {
	select {
	case id := <-reply:
		if err := r.Disconnect(id); err == nil {
			r.logger.Debug("released abandoned session", zap.Uint64("session_id", uint64(id)))
		}
	case <-r.done:
	}
}

// Disconnect removes id from the registry and from every room holding it.
// Unknown ids are ignored.
func (r *Registry) Disconnect(id SessionID) error {
	return r.submit(context.Background(), disconnectRequest{id: id})
}

// Join moves id out of every room it belongs to and into room, creating the
// room when needed.
func (r *Registry) Join(id SessionID, room string) error {
	return r.submit(context.Background(), joinRequest{id: id, room: room})
}

// Broadcast delivers text to every member of room except id.
func (r *Registry) Broadcast(id SessionID, text, room string) error {
	return r.submit(context.Background(), broadcastRequest{id: id, text: text, room: room})
}

// ChessStep relays a game step to the other members of room.
func (r *Registry) ChessStep(id SessionID, step, room string) error {
	return r.submit(context.Background(), chessStepRequest{id: id, step: step, room: room})
}

// ListRooms returns the current room names in no particular order.
func (r *Registry) ListRooms(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := r.submit(ctx, listRoomsRequest{reply: reply}); err != nil {
		return nil, err
	}
	return awaitReply(ctx, r, reply)
}

// sendMessage delivers message to every member of room other than skip.
func (r *Registry) sendMessage(room, message string, skip SessionID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	for id := range members {
		if id == skip {
			continue
		}
		h, ok := r.sessions[id]
		if !ok {
			continue
		}
		if h.Deliver(message) {
			r.metrics.Deliveries.Inc()
		} else {
			r.metrics.DroppedDeliveries.Inc()
		}
	}
}

// leaveAll removes id from every room containing it and returns those rooms.
func (r *Registry) leaveAll(id SessionID) []string {
	var left []string
	for name, members := range r.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			left = append(left, name)
		}
	}
	return left
}

// newID draws a random non-zero id. Collisions with live ids are not checked.
func (r *Registry) newID() SessionID {
	for {
		if id := SessionID(rand.Uint64()); id != noSkip {
			return id
		}
	}
}

func (r *Registry) updateGauges() {
	r.metrics.Sessions.Set(float64(len(r.sessions)))
	r.metrics.Rooms.Set(float64(len(r.rooms)))
}

type connectRequest struct {
	handle Handle
	reply  chan<- SessionID
}

func (connectRequest) kind() string { return "connect" }

func (req connectRequest) apply(r *Registry) {
	id := r.newID()
	r.sessions[id] = req.handle
	r.rooms[DefaultRoom][id] = struct{}{}
	r.updateGauges()

	r.logger.Info("someone joined", zap.Uint64("session_id", uint64(id)))
	r.sendMessage(DefaultRoom, msgSomeoneJoined, noSkip)

	count := r.visitors.Inc() - 1
	r.sendMessage(DefaultRoom, fmt.Sprintf(msgTotalVisitorsFormat, count), noSkip)

	req.reply <- id
}

type disconnectRequest struct {
	id SessionID
}

func (disconnectRequest) kind() string { return "disconnect" }

func (req disconnectRequest) apply(r *Registry) {
	if _, ok := r.sessions[req.id]; ok {
		delete(r.sessions, req.id)
		r.logger.Info("someone disconnected", zap.Uint64("session_id", uint64(req.id)))
	}
	for _, room := range r.leaveAll(req.id) {
		r.sendMessage(room, msgSomeoneDisconnected, noSkip)
	}
	r.updateGauges()
}

type joinRequest struct {
	id   SessionID
	room string
}

func (joinRequest) kind() string { return "join" }

func (req joinRequest) apply(r *Registry) {
	for _, room := range r.leaveAll(req.id) {
		r.sendMessage(room, msgSomeoneDisconnected, noSkip)
	}

	members, ok := r.rooms[req.room]
	if !ok {
		members = make(map[SessionID]struct{})
		r.rooms[req.room] = members
	}
	members[req.id] = struct{}{}
	r.updateGauges()

	r.logger.Debug("session joined room",
		zap.Uint64("session_id", uint64(req.id)),
		zap.String("room", req.room))
	r.sendMessage(req.room, msgSomeoneConnected, req.id)
}

type broadcastRequest struct {
	id   SessionID
	text string
	room string
}

func (broadcastRequest) kind() string { return "broadcast" }

func (req broadcastRequest) apply(r *Registry) {
	r.sendMessage(req.room, req.text, req.id)
}

type chessStepRequest struct {
	id   SessionID
	step string
	room string
}

func (chessStepRequest) kind() string { return "chess_step" }

func (req chessStepRequest) apply(r *Registry) {
	r.logger.Debug("chess step",
		zap.Uint64("session_id", uint64(req.id)),
		zap.String("room", req.room),
		zap.String("step", req.step))
	r.sendMessage(req.room, req.step, req.id)
}

type listRoomsRequest struct {
	reply chan<- []string
}

func (listRoomsRequest) kind() string { return "list_rooms" }

func (req listRoomsRequest) apply(r *Registry) {
	req.reply <- lo.Keys(r.rooms)
}
