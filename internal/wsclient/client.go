package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/usecase"
)

const handshakeTimeout = 5 * time.Second

var (
	ErrNotBound = errors.New("client is not bound to a lobby")
	ErrRejected = errors.New("server rejected the binding")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateBound
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	default:
		return "disconnected"
	}
}

type Options struct {
	URL       string
	UserID    string
	LobbyCode string

	InitialDelay      time.Duration
	Multiplier        float64
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
}

func DefaultOptions(url, userID, lobbyCode string) Options {
	return Options{
		URL:               url,
		UserID:            userID,
		LobbyCode:         lobbyCode,
		InitialDelay:      2 * time.Second,
		Multiplier:        2,
		MaxDelay:          8 * time.Second,
		MaxAttempts:       3,
		HeartbeatInterval: 15 * time.Second,
	}
}

type frame struct {
	Type      string       `json:"type"`
	LobbyCode string       `json:"lobbyCode,omitempty"`
	UserID    string       `json:"userId,omitempty"`
	Cell      *entity.Cell `json:"cell,omitempty"`
}

// Client keeps one user's connection bound to a lobby and re-binds it after a drop.
// Each outage gets at most MaxAttempts connection attempts with exponentially growing delays.
type Client struct {
	logger    *slog.Logger
	opts      Options
	onMessage func(usecase.Message)

	mu      sync.Mutex
	state   State
	attempt int
	conn    *websocket.Conn
	cancel  context.CancelFunc
	left    bool
}

func New(logger *slog.Logger, opts Options, onMessage func(usecase.Message)) *Client {
	if onMessage == nil {
		onMessage = func(usecase.Message) {}
	}

	return &Client{
		logger:    logger.With("component", "wsclient", "userID", opts.UserID),
		opts:      opts,
		onMessage: onMessage,
	}
}

func (that *Client) State() State {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.state
}

// Attempt - the number of the current connection attempt within an outage, 0 while bound.
func (that *Client) Attempt() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.attempt
}

// Run - connects, binds and serves until ctx is done, Leave is called or reconnection gives up.
func (that *Client) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	that.mu.Lock()
	if that.left {
		that.mu.Unlock()
		return nil
	}
	that.cancel = cancel
	that.mu.Unlock()

	for {
		conn, err := that.bindWithRetry(ctx)
		if err != nil {
			that.setState(StateDisconnected)

			if that.stopped(ctx) {
				return nil
			}

			return err
		}

		err = that.serve(ctx, conn)

		that.mu.Lock()
		that.conn = nil
		that.state = StateDisconnected
		that.mu.Unlock()

		conn.CloseNow()

		if that.stopped(ctx) {
			return nil
		}

		log.Warn("connection lost", "error", err)
	}
}

// Move - sends a move over the bound connection.
func (that *Client) Move(ctx context.Context, cell entity.Cell) error {
	conn := that.boundConn()
	if conn == nil {
		return ErrNotBound
	}

	msg := frame{Type: usecase.TypeGameMove, LobbyCode: that.opts.LobbyCode, UserID: that.opts.UserID, Cell: &cell}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("failed to send move: %w", err)
	}

	return nil
}

// Leave - leaves the lobby and stops Run, which drops the connection. No reconnection happens afterwards.
func (that *Client) Leave(ctx context.Context) error {
	that.mu.Lock()
	that.left = true
	conn := that.conn
	cancel := that.cancel
	that.mu.Unlock()

	var err error
	if conn != nil {
		msg := frame{Type: usecase.TypeLeaveLobby, LobbyCode: that.opts.LobbyCode, UserID: that.opts.UserID}
		if err = wsjson.Write(ctx, conn, msg); err != nil {
			err = fmt.Errorf("failed to send leave: %w", err)
		}
	}

	if cancel != nil {
		cancel()
	}

	return err
}

func (that *Client) bindWithRetry(ctx context.Context) (*websocket.Conn, error) {
	log := that.logger.With("method", "bindWithRetry")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = that.opts.InitialDelay
	policy.Multiplier = that.opts.Multiplier
	policy.MaxInterval = that.opts.MaxDelay
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	retries := uint64(0)
	if that.opts.MaxAttempts > 1 {
		retries = uint64(that.opts.MaxAttempts - 1)
	}

	attempt := 0
	operation := func() (*websocket.Conn, error) {
		attempt++

		that.mu.Lock()
		if that.left {
			that.mu.Unlock()
			return nil, backoff.Permanent(context.Canceled)
		}
		that.state = StateConnecting
		that.attempt = attempt
		that.mu.Unlock()

		return that.bind(ctx)
	}

	notify := func(err error, delay time.Duration) {
		that.setState(StateDisconnected)
		log.Info("reconnect scheduled", "attempt", attempt, "delay", delay, "error", err)
	}

	conn, err := backoff.RetryNotifyWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("failed to bind after %d attempts: %w", attempt, err)
	}

	that.mu.Lock()
	that.state = StateBound
	that.attempt = 0
	that.conn = conn
	that.mu.Unlock()

	log.Info("bound to lobby", "lobbyCode", that.opts.LobbyCode)

	return conn, nil
}

// bind - dials and performs the connected / join_lobby / lobby_joined exchange.
func (that *Client) bind(ctx context.Context) (*websocket.Conn, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(handshakeCtx, that.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	var greeting usecase.Message
	if err = wsjson.Read(handshakeCtx, conn, &greeting); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("failed to read greeting: %w", err)
	}

	if greeting.Type != usecase.TypeConnected {
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected greeting %q", greeting.Type)
	}

	join := frame{Type: usecase.TypeJoinLobby, LobbyCode: that.opts.LobbyCode, UserID: that.opts.UserID}
	if err = wsjson.Write(handshakeCtx, conn, join); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	var reply usecase.Message
	if err = wsjson.Read(handshakeCtx, conn, &reply); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("failed to read join reply: %w", err)
	}

	switch reply.Type {
	case usecase.TypeLobbyJoined:
		that.onMessage(reply)
		return conn, nil
	case usecase.TypeError:
		_ = conn.Close(websocket.StatusNormalClosure, "rejected")
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: %s", ErrRejected, reply.Code, reply.Message))
	default:
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected join reply %q", reply.Type)
	}
}

// serve - reads snapshots and sends heartbeats until the connection fails.
func (that *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(that.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := wsjson.Write(groupCtx, conn, frame{Type: usecase.TypeHeartbeat}); err != nil {
					return fmt.Errorf("failed to send heartbeat: %w", err)
				}
			}
		}
	})

	group.Go(func() error {
		for {
			var msg usecase.Message
			if err := wsjson.Read(groupCtx, conn, &msg); err != nil {
				return fmt.Errorf("failed to read: %w", err)
			}

			that.onMessage(msg)
		}
	})

	return group.Wait()
}

func (that *Client) boundConn() *websocket.Conn {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.state != StateBound {
		return nil
	}

	return that.conn
}

func (that *Client) setState(state State) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.state = state
}

func (that *Client) stopped(ctx context.Context) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.left || ctx.Err() != nil
}
