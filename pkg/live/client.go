package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/adapter"
)

// ErrConnClosed is returned by calls on a closed or broken connection
var ErrConnClosed = errors.New("live: connection closed")

// DefaultHandshakeTimeout bounds dialing when ctx has no deadline
const DefaultHandshakeTimeout = 5 * time.Second

// Conn is the client end of a session. It implements adapter.Peer.
type Conn struct {
	ws        *websocket.Conn
	url       string
	sessionID string
	log       *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan *Message
	nextID  atomic.Uint64

	done chan struct{}
	once sync.Once
	err  error
}

// WebSocketURL maps an adapter URL "//host:port/name" to the endpoint serving it
func WebSocketURL(url string) (string, error) {
	host, port, name, err := adapter.ParseURL(url)
	if err != nil {
		return "", err
	}
	return "ws://" + host + ":" + strconv.Itoa(port) + PathPrefix + name, nil
}

// Dial connects to the name behind an adapter URL. A 404 from the host
// maps to adapter.ErrNotBound, any other failure to adapter.ErrUnreachable.
func Dial(ctx context.Context, url string) (*Conn, error) {
	wsURL, err := WebSocketURL(url)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", adapter.ErrNotBound, url)
		}
		return nil, fmt.Errorf("%w: %s: %v", adapter.ErrUnreachable, url, err)
	}

	deadline := time.Now().Add(DefaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetReadDeadline(deadline)
	hello, err := readMessage(ws)
	if err == nil && hello.Type != FrameHello {
		err = fmt.Errorf("%w: expected hello, got %s", ErrMalformed, hello.Type)
	}
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %s: %v", adapter.ErrUnreachable, url, err)
	}
	ws.SetReadDeadline(time.Time{})
	ws.SetReadLimit(maxLen)

	c := &Conn{
		ws:        ws,
		url:       url,
		sessionID: hello.Method,
		pending:   make(map[uint64]chan *Message),
		done:      make(chan struct{}),
	}
	c.log = logging.For("live").With("session", c.sessionID, "url", url)
	go c.reader()
	c.log.Debug("connected")
	return c, nil
}

func readMessage(ws *websocket.Conn) (*Message, error) {
	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return DecodeMessage(data)
		}
	}
}

// SessionID returns the id the server assigned to this connection
func (c *Conn) SessionID() string { return c.sessionID }

// Done is closed once the connection is closed or broken
func (c *Conn) Done() <-chan struct{} { return c.done }

// Call sends a request and waits for its reply
func (c *Conn) Call(ctx context.Context, method string, body []byte) ([]byte, error) {
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, &adapter.CallError{Method: method, Err: c.closeErr()}
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	frame := EncodeMessage(&Message{Type: FrameCall, ID: id, Method: method, Body: body})
	c.writeMu.Lock()
	if d, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(d)
	} else {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	}
	err := c.ws.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return nil, &adapter.CallError{Method: method, Err: err}
	}

	select {
	case reply := <-ch:
		if reply.Err != "" {
			return nil, &RemoteError{Method: method, Message: reply.Err}
		}
		return reply.Body, nil
	case <-c.done:
		return nil, &adapter.CallError{Method: method, Err: c.closeErr()}
	case <-ctx.Done():
		return nil, &adapter.CallError{Method: method, Err: ctx.Err()}
	}
}

// Close closes the connection. Pending calls fail with ErrConnClosed.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.fail(nil)
	return nil
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrConnClosed, c.err)
	}
	return ErrConnClosed
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = nil
		c.mu.Unlock()
		c.ws.Close()
		close(c.done)
		if err != nil {
			c.log.Debug("connection lost", "error", err)
		}
	})
}

func (c *Conn) reader() {
	for {
		m, err := readMessage(c.ws)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				c.log.Warn("dropping frame", "error", err)
				continue
			}
			c.fail(err)
			return
		}
		if m.Type != FrameReply {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[m.ID]
		c.mu.Unlock()
		if ok {
			ch <- m
		}
	}
}
