package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

// recordingHandle collects deliveries from the registry.
type recordingHandle struct {
	messages chan string
	refuse   bool
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{messages: make(chan string, 64)}
}

func (h *recordingHandle) Deliver(text string) bool {
	if h.refuse {
		return false
	}
	select {
	case h.messages <- text:
		return true
	default:
		return false
	}
}

// drain returns everything delivered so far without waiting.
func (h *recordingHandle) drain() []string {
	var out []string
	for {
		select {
		case m := <-h.messages:
			out = append(out, m)
		default:
			return out
		}
	}
}

// membersRequest reads one room's member set on the registry goroutine.
type membersRequest struct {
	room  string
	reply chan []SessionID
}

func (membersRequest) kind() string { return "test_members" }

func (req membersRequest) apply(r *Registry) {
	var ids []SessionID
	for id := range r.rooms[req.room] {
		ids = append(ids, id)
	}
	req.reply <- ids
}

// forceMemberRequest inserts id into room without any bookkeeping.
type forceMemberRequest struct {
	id   SessionID
	room string
	done chan struct{}
}

func (forceMemberRequest) kind() string { return "test_force_member" }

func (req forceMemberRequest) apply(r *Registry) {
	if _, ok := r.rooms[req.room]; !ok {
		r.rooms[req.room] = make(map[SessionID]struct{})
	}
	r.rooms[req.room][req.id] = struct{}{}
	close(req.done)
}

func startRegistry(t *testing.T) (*Registry, *Metrics, context.CancelFunc) {
	t.Helper()
	metrics := NewMetrics(nil)
	registry := NewRegistry(zaptest.NewLogger(t), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-registry.Done()
	})
	return registry, metrics, cancel
}

func members(t *testing.T, r *Registry, room string) []SessionID {
	t.Helper()
	reply := make(chan []SessionID, 1)
	require.NoError(t, r.submit(context.Background(), membersRequest{room: room, reply: reply}))
	ids, err := awaitReply(context.Background(), r, reply)
	require.NoError(t, err)
	return ids
}

// barrier returns once every request submitted before it has been applied.
func barrier(t *testing.T, r *Registry) {
	t.Helper()
	_, err := r.ListRooms(context.Background())
	require.NoError(t, err)
}

type written struct {
	kind FrameKind
	text string
	code int
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	inbound  chan Frame
	readErr  chan error
	outbound chan written
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan Frame),
		readErr:  make(chan error, 1),
		outbound: make(chan written, 256),
		closed:   make(chan struct{}),
	}
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case err := <-c.readErr:
		return Frame{}, err
	case <-c.closed:
		return Frame{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteText(text string) error {
	return c.record(written{kind: FrameText, text: text})
}

func (c *fakeConn) WritePing(data []byte) error {
	return c.record(written{kind: FramePing, text: string(data)})
}

func (c *fakeConn) WritePong(data []byte) error {
	return c.record(written{kind: FramePong, text: string(data)})
}

func (c *fakeConn) WriteClose(code int, reason string) error {
	return c.record(written{kind: FrameClose, text: reason, code: code})
}

func (c *fakeConn) record(w written) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.outbound <- w
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "pipe" }

// sendText feeds a text frame, failing the test if the session stopped reading.
func (c *fakeConn) sendText(t *testing.T, text string) {
	t.Helper()
	c.sendFrame(t, Frame{Kind: FrameText, Data: []byte(text)})
}

func (c *fakeConn) sendFrame(t *testing.T, f Frame) {
	t.Helper()
	select {
	case c.inbound <- f:
	case <-time.After(waitTimeout):
		t.Fatalf("session did not read %s frame", f.Kind)
	}
}

// nextText waits for the next text frame written to the peer, skipping pings.
func (c *fakeConn) nextText(t *testing.T) string {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case w := <-c.outbound:
			if w.kind == FrameText {
				return w.text
			}
		case <-deadline:
			t.Fatal("timed out waiting for text frame")
			return ""
		}
	}
}

// next waits for the next frame of kind, skipping others.
func (c *fakeConn) next(t *testing.T, kind FrameKind) written {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case w := <-c.outbound:
			if w.kind == kind {
				return w
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", kind)
			return written{}
		}
	}
}

// expectSilence asserts that no text frame is written within d.
func (c *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case w := <-c.outbound:
			if w.kind == FrameText {
				t.Fatalf("unexpected text frame %q", w.text)
			}
		case <-deadline:
			return
		}
	}
}
