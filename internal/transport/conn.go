package transport

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Event is what the connection reports to its owner, in order.
type Event interface{ isEvent() }

type Opened struct{}

type Closed struct {
	Err      error
	Explicit bool // caused by Close(); no reconnect follows
}

type Message struct{ Raw []byte }

type Error struct{ Err error }

func (Opened) isEvent()  {}
func (Closed) isEvent()  {}
func (Message) isEvent() {}
func (Error) isEvent()   {}

type connMsg interface{ isConnMsg() }

type openReq struct{ URL string }

type closeReq struct{ Done chan struct{} }

type dialed struct {
	gen uint64
	ws  *websocket.Conn
	err error
}

type readEnded struct {
	gen uint64
	err error
}

type reconnectDue struct{ gen uint64 }

type getSnapshot struct{ Reply chan Snapshot }

func (openReq) isConnMsg()      {}
func (closeReq) isConnMsg()     {}
func (dialed) isConnMsg()       {}
func (readEnded) isConnMsg()    {}
func (reconnectDue) isConnMsg() {}
func (getSnapshot) isConnMsg()  {}

// Snapshot is a consistent view of the connection's bookkeeping.
type Snapshot struct {
	URL                 string
	State               pub.ConnectionState
	Dials               int
	ReconnectsScheduled int
	ReconnectPending    bool
}

type Config struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	Logger         *zap.Logger
}

func (c *Config) setDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 8 << 20
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Connection owns one websocket to the vision service. Unexpected closes
// schedule a single reconnect after a fixed delay, forever; Close stops that.
type Connection struct {
	cfg    Config
	log    *zap.Logger
	inbox  chan connMsg
	events chan Event
	out    chan []byte
	state  atomic.Value
	ctx    context.Context
	cancel context.CancelFunc

	// owned by loop
	url       string
	gen       uint64
	ws        *websocket.Conn
	wsCancel  context.CancelFunc
	closing   bool
	reconnect *time.Timer
	dials     int
	scheduled int
}

func NewConnection(parent context.Context, cfg Config) *Connection {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		cfg:    cfg,
		log:    cfg.Logger.Named("transport"),
		inbox:  make(chan connMsg, 64),
		events: make(chan Event, 256),
		out:    make(chan []byte, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(pub.ConnClosed)
	go c.loop()
	return c
}

func (c *Connection) Events() <-chan Event { return c.events }

func (c *Connection) State() pub.ConnectionState {
	return c.state.Load().(pub.ConnectionState)
}

// Open starts connecting to url. It does not wait for the socket.
func (c *Connection) Open(url string) {
	c.post(openReq{URL: url})
}

// Send queues msg as a JSON text frame. It returns false, and drops msg,
// unless the socket is open and the write queue has room.
func (c *Connection) Send(msg any) bool {
	if c.State() != pub.ConnOpen {
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal outbound", zap.Error(err))
		return false
	}
	select {
	case c.out <- payload:
		return true
	default:
		c.log.Warn("write queue full, dropping message", zap.Int("bytes", len(payload)))
		return false
	}
}

// Close tears the socket down and cancels any pending reconnect. It is
// safe to call more than once.
func (c *Connection) Close() {
	done := make(chan struct{})
	if !c.post(closeReq{Done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	case <-time.After(c.cfg.WriteTimeout):
		// the loop is stuck emitting to an undrained Events channel; the
		// request is queued and runs once the owner reads again
		c.log.Warn("close still pending")
	}
}

// Shutdown closes the socket and stops the connection's goroutines.
func (c *Connection) Shutdown() {
	c.Close()
	c.cancel()
}

func (c *Connection) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !c.post(getSnapshot{Reply: reply}) {
		return Snapshot{State: c.State()}
	}
	select {
	case s := <-reply:
		return s
	case <-c.ctx.Done():
		return Snapshot{State: c.State()}
	}
}

func (c *Connection) post(m connMsg) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Connection) setState(s pub.ConnectionState) {
	c.state.Store(s)
}

func (c *Connection) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case openReq:
				c.url = msg.URL
				c.closing = false
				if c.State() != pub.ConnClosed || c.reconnect != nil {
					c.log.Debug("open ignored, already active", zap.String("state", string(c.State())))
					break
				}
				c.dial()

			case dialed:
				c.handleDialed(msg)

			case readEnded:
				if msg.gen != c.gen || c.ws == nil {
					break
				}
				c.dropSocket()
				c.closed(msg.err)

			case reconnectDue:
				c.reconnect = nil
				if c.closing || msg.gen != c.gen {
					break
				}
				c.log.Info("reconnecting", zap.String("url", c.url))
				c.dial()

			case closeReq:
				c.handleClose(msg.Done)

			case getSnapshot:
				msg.Reply <- Snapshot{
					URL:                 c.url,
					State:               c.State(),
					Dials:               c.dials,
					ReconnectsScheduled: c.scheduled,
					ReconnectPending:    c.reconnect != nil,
				}
			}
		}
	}
}

func (c *Connection) dial() {
	c.gen++
	c.dials++
	c.setState(pub.ConnConnecting)

	gen, url := c.gen, c.url
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
		defer cancel()
		ws, _, err := websocket.Dial(ctx, url, nil)
		c.post(dialed{gen: gen, ws: ws, err: err})
	}()
}

func (c *Connection) handleDialed(m dialed) {
	if m.gen != c.gen || c.closing {
		if m.ws != nil {
			_ = m.ws.CloseNow()
		}
		return
	}
	if m.err != nil {
		c.closed(m.err)
		return
	}
	c.drainQueue()

	m.ws.SetReadLimit(c.cfg.ReadLimit)
	ctx, cancel := context.WithCancel(c.ctx)
	c.ws = m.ws
	c.wsCancel = cancel
	c.setState(pub.ConnOpen)
	c.log.Info("connection opened", zap.String("url", c.url), zap.Int("dials", c.dials))
	c.emit(Opened{})

	go c.readLoop(ctx, m.ws, m.gen)
	go c.writeLoop(ctx, m.ws)
}

// closed reports an ended socket and, unless Close asked for it, schedules
// the next attempt.
func (c *Connection) closed(err error) {
	c.setState(pub.ConnClosed)
	if c.closing {
		return
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		if err != nil {
			c.log.Warn("connection error", zap.Error(err))
			c.emit(Error{Err: err})
		}
	}
	c.emit(Closed{Err: err})
	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	if c.reconnect != nil {
		return
	}
	c.scheduled++
	gen := c.gen
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.post(reconnectDue{gen: gen})
	})
	c.log.Info("reconnect scheduled", zap.Duration("delay", c.cfg.ReconnectDelay), zap.Int("attempt", c.scheduled))
}

// handleClose releases the caller before emitting Closed, since the caller
// is usually the one draining Events.
func (c *Connection) handleClose(done chan struct{}) {
	c.closing = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.State() == pub.ConnClosed {
		close(done)
		return
	}

	if c.ws != nil {
		ws, cancel := c.ws, c.wsCancel
		c.ws, c.wsCancel = nil, nil
		go func() {
			c.flush(ws)
			_ = ws.Close(websocket.StatusNormalClosure, "bye")
			cancel()
		}()
	}
	// results from the old socket or a pending dial are now stale
	c.gen++
	c.setState(pub.ConnClosed)
	c.log.Info("connection closed")
	close(done)
	c.emit(Closed{Explicit: true})
}

func (c *Connection) dropSocket() {
	if c.wsCancel != nil {
		c.wsCancel()
		c.wsCancel = nil
	}
	c.ws = nil
}

func (c *Connection) teardown() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.ws != nil {
		_ = c.ws.CloseNow()
		c.dropSocket()
	}
	c.setState(pub.ConnClosed)
}
