package transport

import (
	"context"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

func (c *Connection) readLoop(ctx context.Context, ws *websocket.Conn, gen uint64) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			c.post(readEnded{gen: gen, err: err})
			return
		}
		if typ != websocket.MessageText {
			c.log.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		select {
		case c.events <- Message{Raw: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				// the read side notices the broken socket and reports it
				c.log.Warn("write failed", zap.Error(err))
				return
			}
		}
	}
}

// flush writes whatever is still queued, so a last message sent just before
// Close is not lost.
func (c *Connection) flush(ws *websocket.Conn) {
	for {
		select {
		case payload := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
			err := ws.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		default:
			return
		}
	}
}

// drainQueue drops payloads queued for a socket that no longer exists.
func (c *Connection) drainQueue() {
	for {
		select {
		case <-c.out:
		default:
			return
		}
	}
}
