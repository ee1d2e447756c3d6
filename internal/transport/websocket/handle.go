package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendQueueFull    = errors.New("send queue is full")
)

// connHandle queues outbound frames for one connection. A single writer goroutine drains the queue,
// so a slow client never blocks the sender.
type connHandle struct {
	conn         *websocket.Conn
	queue        chan []byte
	writeTimeout time.Duration

	closeOnce   sync.Once
	done        chan struct{}
	closeStatus websocket.StatusCode
	closeReason string
}

func newConnHandle(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *connHandle {
	return &connHandle{
		conn:         conn,
		queue:        make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (that *connHandle) Send(message []byte) error {
	select {
	case <-that.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case that.queue <- message:
		return nil
	default:
		that.closeWith(websocket.StatusPolicyViolation, "send queue overflow")
		return ErrSendQueueFull
	}
}

// Close - closes the connection from the server side.
func (that *connHandle) Close(reason string) error {
	that.closeWith(websocket.StatusPolicyViolation, reason)
	return nil
}

func (that *connHandle) closeWith(status websocket.StatusCode, reason string) {
	that.closeOnce.Do(func() {
		that.closeStatus = status
		that.closeReason = reason
		close(that.done)
	})
}

func (that *connHandle) writeLoop(ctx context.Context) {
	for {
		select {
		case <-that.done:
			if that.closeStatus != websocket.StatusInternalError {
				that.flush(ctx)
			}

			_ = that.conn.Close(that.closeStatus, that.closeReason)
			return
		case <-ctx.Done():
			return
		case message := <-that.queue:
			writeCtx, cancel := context.WithTimeout(ctx, that.writeTimeout)
			err := that.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()

			if err != nil {
				that.closeWith(websocket.StatusInternalError, "write failed")
			}
		}
	}
}

// flush - writes what is still queued, within one write timeout in total.
func (that *connHandle) flush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, that.writeTimeout)
	defer cancel()

	for {
		select {
		case message := <-that.queue:
			if err := that.conn.Write(flushCtx, websocket.MessageText, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
