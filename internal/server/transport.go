// Package server adapts gorilla/websocket connections to the frame stream
// consumed by sessions.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is the transport a Session drives. ReadFrame yields text, binary,
// ping, pong and close frames in arrival order. Write methods are only called
// from the session's write pump.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteText(text string) error
	WritePing(data []byte) error
	WritePong(data []byte) error
	WriteClose(code int, reason string) error
	Close() error
	RemoteAddr() string
}

type frameResult struct {
	frame Frame
	err   error
}

// wsConn surfaces control frames from gorilla's handlers on the same stream as
// data frames. The read loop blocks until the session asks for the next frame.
type wsConn struct {
	conn      *websocket.Conn
	frames    chan frameResult
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, maxMessageSize int64) *wsConn {
	c := &wsConn{
		conn:   conn,
		frames: make(chan frameResult),
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPingHandler(func(appData string) error {
		c.push(Frame{Kind: FramePing, Data: []byte(appData)}, nil)
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		c.push(Frame{Kind: FramePong, Data: []byte(appData)}, nil)
		return nil
	})
	// The session echoes the close itself.
	conn.SetCloseHandler(func(code int, text string) error {
		c.push(Frame{Kind: FrameClose, Code: code, Data: []byte(text)}, nil)
		return nil
	})
	go c.readLoop()
	return c
}

func (c *wsConn) push(frame Frame, err error) bool {
	select {
	case c.frames <- frameResult{frame: frame, err: err}:
		return true
	case <-c.closed:
		return false
	}
}

func (c *wsConn) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
				// Already pushed by the close handler.
				return
			}
			c.push(Frame{}, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if !c.push(Frame{Kind: FrameText, Data: data}, nil) {
				return
			}
		case websocket.BinaryMessage:
			if !c.push(Frame{Kind: FrameBinary, Data: data}, nil) {
				return
			}
		}
	}
}

func (c *wsConn) ReadFrame() (Frame, error) {
	select {
	case res := <-c.frames:
		if res.err != nil {
			return Frame{}, errors.Wrap(res.err, "read frame")
		}
		return res.frame, nil
	case <-c.closed:
		return Frame{}, net.ErrClosed
	}
}

func (c *wsConn) WriteText(text string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) WritePing(data []byte) error {
	return c.conn.WriteControl(websocket.PingMessage, data, time.Now().Add(writeWait))
}

func (c *wsConn) WritePong(data []byte) error {
	return c.conn.WriteControl(websocket.PongMessage, data, time.Now().Add(writeWait))
}

func (c *wsConn) WriteClose(code int, reason string) error {
	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
