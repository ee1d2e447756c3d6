package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/usecase"
)

const (
	defaultWriteTimeout = 3 * time.Second
	readLimit           = 4096
)

type coordinator interface {
	Connect(handle service.Handle) *usecase.Session
	HandleMessage(ctx context.Context, session *usecase.Session, data []byte)
	Disconnect(session *usecase.Session)
}

type Server struct {
	logger      *slog.Logger
	coordinator coordinator

	sendBuffer     int
	writeTimeout   time.Duration
	originPatterns []string
}

func New(logger *slog.Logger, coordinator coordinator, sendBuffer int, originPatterns []string) *Server {
	return &Server{
		logger:         logger.With("component", "websocket"),
		coordinator:    coordinator,
		sendBuffer:     sendBuffer,
		writeTimeout:   defaultWriteTimeout,
		originPatterns: originPatterns,
	}
}

// ServeHTTP - upgrades the request and runs the connection until either side closes it.
func (that *Server) ServeHTTP(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "ServeHTTP", "remoteAddr", req.RemoteAddr)

	conn, err := websocket.Accept(writer, req, &websocket.AcceptOptions{
		OriginPatterns: that.originPatterns,
	})
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	handle := newConnHandle(conn, that.sendBuffer, that.writeTimeout)
	go handle.writeLoop(ctx)

	session := that.coordinator.Connect(handle)
	log = log.With("connectionID", session.ID)
	log.Info("WebSocket connection established")

	defer func() {
		that.coordinator.Disconnect(session)
		handle.closeWith(websocket.StatusNormalClosure, "bye")
	}()

	if err = that.handleMessages(ctx, session, conn); err != nil {
		log.Warn("connection closed with error", "userID", session.UserID(), "error", err)
		return
	}

	log.Info("connection closed", "userID", session.UserID())
}

// handleMessages - processes messages from the client.
func (that *Server) handleMessages(ctx context.Context, session *usecase.Session, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusPolicyViolation:
				return nil
			}

			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}

		that.coordinator.HandleMessage(ctx, session, data)
	}
}
