package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// WSClient manages the WebSocket connection to the printdialog backend.
// The dialog id handed out in the hello message is reused on reconnect so
// a keep-alive dialog is picked up again.
type WSClient struct {
	url   string
	token string
	pid   int

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, requests, close)
	conn    *websocket.Conn
	id      string
	nextReq uint64
	pending map[string]MessageType
	delay   time.Duration
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
// pid is reported to the backend so it can reap the dialog if this process
// dies without closing the socket; 0 leaves it unset.
func NewWSClient(url, token string, pid int) *WSClient {
	return &WSClient{
		url:     url,
		token:   token,
		pid:     pid,
		pending: make(map[string]MessageType),
	}
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops or a dial fails.
type WSDisconnectedMsg struct{ Err error }

// WSHelloMsg carries the dialog id the backend assigned.
type WSHelloMsg struct{ ID string }

// WSPrinterListMsg answers get_printer_list.
type WSPrinterListMsg struct{ Payload PrinterListReply }

// WSPrinterAddedMsg is sent when discovery reports a printer.
type WSPrinterAddedMsg struct{ Payload PrinterAddedPayload }

// WSPrinterStateMsg is sent when a listed printer changes state.
type WSPrinterStateMsg struct{ Payload PrinterStateChangedPayload }

// WSDefaultPrinterMsg answers get_default_printer. Name is empty when the
// backend has no default.
type WSDefaultPrinterMsg struct{ Name string }

// WSAckMsg answers requests that carry no result.
type WSAckMsg struct{ Type MessageType }

// WSErrorMsg wraps a server-side error. Type is the request it answers, if
// known.
type WSErrorMsg struct {
	Type    MessageType
	Payload ErrorPayload
}

// ID returns the dialog id assigned by the backend, or "" before hello.
func (c *WSClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// dialTarget builds the URL for the next dial, carrying the dialog id and
// pid as query parameters.
func (c *WSClient) dialTarget() (string, http.Header, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	c.mu.Lock()
	if c.id != "" {
		q.Set("id", c.id)
	}
	c.mu.Unlock()
	if c.pid > 0 {
		q.Set("pid", strconv.Itoa(c.pid))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	return u.String(), header, nil
}

func (c *WSClient) backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delay == 0 {
		c.delay = reconnectBaseDelay
	} else {
		c.delay = min(c.delay*2, reconnectMaxDelay)
	}
	return c.delay
}

// Listen returns a Bubble Tea command that dials the backend once. A failed
// dial waits out the reconnect backoff and reports WSDisconnectedMsg so the
// caller can log it and listen again.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		target, header, err := c.dialTarget()
		if err != nil {
			return WSDisconnectedMsg{Err: err}
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff()):
			}
			return WSDisconnectedMsg{Err: err}
		}

		// Cancel any previous ping goroutine.
		c.mu.Lock()
		if c.pingCtx != nil {
			c.pingCtx()
		}
		pingCtx, pingCancel := context.WithCancel(ctx)
		c.conn = conn
		c.delay = 0
		c.pending = make(map[string]MessageType)
		c.pingCtx = pingCancel
		c.mu.Unlock()

		go c.pingLoop(pingCtx, conn)

		return WSConnectedMsg{}
	}
}

// ReadLoop returns a Bubble Tea command that reads messages until one maps
// to a Bubble Tea message. It should be started after WSConnectedMsg and
// re-issued after every message it returns.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: ErrNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			if teaMsg := c.dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// send writes a request and remembers its type so the reply can be decoded.
func (c *WSClient) send(typ MessageType, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextReq++
	id := "r" + strconv.FormatUint(c.nextReq, 10)
	c.pending[id] = typ
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(Request{Type: typ, ID: id, Payload: payload})
}

// GetPrinterList asks for the current view and starts discovery.
func (c *WSClient) GetPrinterList() error {
	return c.send(MsgGetPrinterList, nil)
}

// StopListing ends this dialog's session.
func (c *WSClient) StopListing() error {
	return c.send(MsgStopListing, nil)
}

// SetHideRemote toggles the remote-printer filter.
func (c *WSClient) SetHideRemote(hide bool) error {
	if hide {
		return c.send(MsgHideRemote, nil)
	}
	return c.send(MsgUnhideRemote, nil)
}

// SetHideTemporary toggles the temporary-printer filter.
func (c *WSClient) SetHideTemporary(hide bool) error {
	if hide {
		return c.send(MsgHideTemporary, nil)
	}
	return c.send(MsgUnhideTemporary, nil)
}

// KeepAlive pins the dialog so it survives a disconnect.
func (c *WSClient) KeepAlive() error {
	return c.send(MsgKeepAlive, nil)
}

// Replace takes over the dialog previously registered as previousID.
func (c *WSClient) Replace(previousID string) error {
	return c.send(MsgReplace, ReplaceRequest{PreviousID: previousID})
}

// GetDefaultPrinter asks for the system default printer.
func (c *WSClient) GetDefaultPrinter() error {
	return c.send(MsgGetDefaultPrinter, nil)
}

// Close sends a normal close frame and drops the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *WSClient) takePending(id string) MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	typ := c.pending[id]
	delete(c.pending, id)
	return typ
}

func (c *WSClient) dispatch(msg WSMessage) tea.Msg {
	switch msg.Type {
	case MsgHello:
		var p HelloPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			c.mu.Lock()
			c.id = p.ID
			c.mu.Unlock()
			return WSHelloMsg{ID: p.ID}
		}
	case MsgPrinterAdded:
		var p PrinterAddedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSPrinterAddedMsg{Payload: p}
		}
	case MsgPrinterStateChanged:
		var p PrinterStateChangedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSPrinterStateMsg{Payload: p}
		}
	case MsgReply:
		typ := c.takePending(msg.ID)
		switch typ {
		case MsgGetPrinterList:
			var p PrinterListReply
			if json.Unmarshal(msg.Payload, &p) == nil {
				return WSPrinterListMsg{Payload: p}
			}
		case MsgGetDefaultPrinter:
			var p DefaultPrinterReply
			if json.Unmarshal(msg.Payload, &p) == nil {
				return WSDefaultPrinterMsg{Name: p.Printer}
			}
		default:
			return WSAckMsg{Type: typ}
		}
	case MsgError:
		var p ErrorPayload
		_ = json.Unmarshal(msg.Payload, &p)
		return WSErrorMsg{Type: c.takePending(msg.ID), Payload: p}
	}
	return nil
}
