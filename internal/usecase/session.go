package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
)

const tracerName = "github.com/AlexandrGonin/QuantumTTT3D/internal/usecase"

type lobbyStore interface {
	Create(user entity.User, name string) (*entity.Lobby, error)
	Join(user entity.User, code string) (*entity.Lobby, error)
	Leave(userID, code string) (*entity.Lobby, bool, error)
	Evict(userID, code string, isConnected func(userID string) bool) (*entity.Lobby, bool, error)
	Bind(userID, code string, attach func(lobby *entity.Lobby)) (*entity.Lobby, error)
	Start(userID, code string) (*entity.Lobby, error)
	Rematch(userID, code string) (*entity.Lobby, error)
	Move(userID, code string, cell entity.Cell) (*entity.Lobby, error)
	Get(code string) (*entity.Lobby, error)
	List() []entity.LobbySummary
	RemoveIdle(maxIdle time.Duration, isConnected func(userID string) bool) []*entity.Lobby
}

type connectionRegistry interface {
	Attach(userID string, handle service.Handle) service.Handle
	DetachHandle(userID string, handle service.Handle) bool
	IsCurrent(userID string, handle service.Handle) bool
	Heartbeat(userID string)
	BindLobby(userID, lobbyCode string)
	LobbyOf(userID string) string
	IsAttached(userID string) bool
	Send(userID string, message []byte)
	SweepStale(maxAge time.Duration) []service.StaleConnection
}

type Options struct {
	HeartbeatTimeout time.Duration
	ReconnectGrace   time.Duration
	LobbyIdleTimeout time.Duration
}

// Session is the coordinator's view of one persistent connection. It is owned by the connection's reader.
type Session struct {
	ID        string
	handle    service.Handle
	userID    string
	lobbyCode string
}

func (that *Session) UserID() string {
	return that.userID
}

type graceEntry struct {
	lobbyCode string
	since     time.Time
}

type delivery struct {
	to      []string
	message Message
}

// outcome is what a handler wants sent once the lobby mutation is done.
type outcome struct {
	reply      *Message
	deliveries []delivery
}

// Coordinator routes protocol traffic to lobby operations and broadcasts the resulting snapshots.
// Lobby mutations are serialized per lobby by the lobby store; sends happen after the mutation returns.
type Coordinator struct {
	logger   *slog.Logger
	lobbies  lobbyStore
	registry connectionRegistry
	clock    pkg.Clock
	tracer   trace.Tracer
	opts     Options

	mu           sync.Mutex
	disconnected map[string]graceEntry
}

func NewCoordinator(
	logger *slog.Logger,
	lobbies lobbyStore,
	registry connectionRegistry,
	clock pkg.Clock,
	opts Options,
) *Coordinator {
	return &Coordinator{
		logger:       logger.With("component", "coordinator"),
		lobbies:      lobbies,
		registry:     registry,
		clock:        clock,
		tracer:       otel.Tracer(tracerName),
		opts:         opts,
		disconnected: make(map[string]graceEntry),
	}
}

// Connect - registers a new unbound connection and greets it.
func (that *Coordinator) Connect(handle service.Handle) *Session {
	session := &Session{ID: pkg.GenerateID(), handle: handle}

	that.reply(session, Message{Type: TypeConnected, ConnectionID: session.ID})

	return session
}

// HandleMessage - processes one client frame. Failures are reported to the sender only.
func (that *Coordinator) HandleMessage(ctx context.Context, session *Session, data []byte) {
	log := that.logger.With("method", "HandleMessage", "connectionID", session.ID)

	inbound, err := DecodeInbound(data)
	if err != nil {
		log.Info("malformed message", "error", err)
		that.reply(session, errorMessage(err))

		return
	}

	ctx, span := that.tracer.Start(ctx, "session."+inbound.inboundType(),
		trace.WithAttributes(attribute.String("connection.id", session.ID)))
	defer span.End()

	out, err := that.dispatch(ctx, session, inbound)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.Code(err))

		log.Info("message rejected", "type", inbound.inboundType(), "userID", session.userID, "error", err)
		that.reply(session, errorMessage(err))

		return
	}

	that.deliver(session, out)
}

// Disconnect - the transport of session is gone. The player keeps the seat for the reconnect grace period.
func (that *Coordinator) Disconnect(session *Session) {
	if session.userID == "" {
		return
	}

	if !that.registry.DetachHandle(session.userID, session.handle) {
		return
	}

	that.logger.Info("player disconnected", "userID", session.userID, "lobbyCode", session.lobbyCode)
	that.startGrace(session.userID, session.lobbyCode)
}

func (that *Coordinator) dispatch(ctx context.Context, session *Session, inbound Inbound) (outcome, error) {
	switch msg := inbound.(type) {
	case JoinLobby:
		return that.handleJoinLobby(session, msg)
	case GameMove:
		return that.handleGameMove(session, msg)
	case Heartbeat:
		return that.handleHeartbeat(session)
	case LeaveLobby:
		return that.handleLeaveLobby(ctx, session, msg)
	default:
		return outcome{}, fmt.Errorf("%w: unsupported message", apperror.ErrMalformedMessage)
	}
}

func (that *Coordinator) handleJoinLobby(session *Session, msg JoinLobby) (outcome, error) {
	if session.userID != "" && session.userID != msg.UserID {
		return outcome{}, fmt.Errorf("%w: connection is bound to another user", apperror.ErrForbidden)
	}

	lobby, err := that.lobbies.Bind(msg.UserID, msg.LobbyCode, func(lobby *entity.Lobby) {
		if superseded := that.registry.Attach(msg.UserID, session.handle); superseded != nil {
			if err := superseded.Close("superseded by a new connection"); err != nil {
				that.logger.Debug("failed to close superseded connection", "userID", msg.UserID, "error", err)
			}
		}

		that.registry.BindLobby(msg.UserID, lobby.Code)
		that.clearGrace(msg.UserID)
	})
	if err != nil {
		return outcome{}, err
	}

	session.userID = msg.UserID
	session.lobbyCode = lobby.Code

	that.logger.Info("player bound to lobby", "userID", msg.UserID, "lobbyCode", lobby.Code)

	reply := lobbyMessage(TypeLobbyJoined, lobby, msg.UserID)

	return outcome{
		reply: &reply,
		deliveries: []delivery{{
			to:      that.boundMembers(lobby, msg.UserID),
			message: lobbyMessage(TypePlayerJoined, lobby, msg.UserID),
		}},
	}, nil
}

func (that *Coordinator) handleGameMove(session *Session, msg GameMove) (outcome, error) {
	userID, err := that.boundUser(session, msg.UserID, msg.LobbyCode)
	if err != nil {
		return outcome{}, err
	}

	lobby, err := that.lobbies.Move(userID, session.lobbyCode, msg.Cell)
	if err != nil {
		return outcome{}, err
	}

	return that.gameUpdateOutcome(lobby, userID), nil
}

func (that *Coordinator) handleHeartbeat(session *Session) (outcome, error) {
	if session.userID != "" && that.registry.IsCurrent(session.userID, session.handle) {
		that.registry.Heartbeat(session.userID)
	}

	return outcome{reply: &Message{Type: TypeHeartbeatAck}}, nil
}

func (that *Coordinator) handleLeaveLobby(ctx context.Context, session *Session, msg LeaveLobby) (outcome, error) {
	userID, err := that.boundUser(session, msg.UserID, msg.LobbyCode)
	if err != nil {
		return outcome{}, err
	}

	code := session.lobbyCode

	if !that.registry.DetachHandle(userID, session.handle) {
		return outcome{}, fmt.Errorf("%w: connection was superseded", apperror.ErrNotBound)
	}

	that.clearGrace(userID)
	session.userID = ""
	session.lobbyCode = ""

	return that.leave(ctx, userID, code)
}

// boundUser - checks that the frame speaks for the user and lobby the connection is bound to.
func (that *Coordinator) boundUser(session *Session, claimedUserID, claimedLobbyCode string) (string, error) {
	if session.userID == "" {
		return "", apperror.ErrNotBound
	}

	if !that.registry.IsCurrent(session.userID, session.handle) {
		return "", fmt.Errorf("%w: connection was superseded", apperror.ErrNotBound)
	}

	if claimedUserID != "" && claimedUserID != session.userID {
		return "", fmt.Errorf("%w: connection is bound to another user", apperror.ErrForbidden)
	}

	if claimedLobbyCode != "" && claimedLobbyCode != session.lobbyCode {
		return "", fmt.Errorf("%w: connection is bound to another lobby", apperror.ErrNotInLobby)
	}

	return session.userID, nil
}

func (that *Coordinator) leave(ctx context.Context, userID, code string) (outcome, error) {
	_, span := that.tracer.Start(ctx, "session.leave", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("lobby.code", code),
	))
	defer span.End()

	lobby, abandoned, err := that.lobbies.Leave(userID, code)
	if err != nil {
		return outcome{}, err
	}

	return that.leaveOutcome(lobby, userID, abandoned), nil
}

// evict - leave on behalf of a player whose grace period ran out, unless the player is back.
func (that *Coordinator) evict(ctx context.Context, userID, code string) (outcome, error) {
	_, span := that.tracer.Start(ctx, "session.evict", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("lobby.code", code),
	))
	defer span.End()

	lobby, abandoned, err := that.lobbies.Evict(userID, code, that.registry.IsAttached)
	if err != nil {
		return outcome{}, err
	}

	return that.leaveOutcome(lobby, userID, abandoned), nil
}

func (that *Coordinator) leaveOutcome(lobby *entity.Lobby, userID string, abandoned bool) outcome {
	if lobby == nil {
		return outcome{}
	}

	members := that.boundMembers(lobby, userID)

	out := outcome{deliveries: []delivery{{
		to:      members,
		message: lobbyMessage(TypePlayerLeft, lobby, userID),
	}}}

	if abandoned {
		out.deliveries = append(out.deliveries, delivery{
			to:      members,
			message: lobbyMessage(TypeGameEnded, lobby, userID),
		})
	}

	return out
}

func (that *Coordinator) gameUpdateOutcome(lobby *entity.Lobby, userID string) outcome {
	members := that.boundMembers(lobby, "")

	out := outcome{deliveries: []delivery{{
		to:      members,
		message: lobbyMessage(TypeGameUpdate, lobby, userID),
	}}}

	if lobby.GameState != nil && lobby.GameState.IsOver() {
		out.deliveries = append(out.deliveries, delivery{
			to:      members,
			message: lobbyMessage(TypeGameEnded, lobby, userID),
		})
	}

	return out
}

// boundMembers - players of the lobby whose connection is bound to it, except exclude.
func (that *Coordinator) boundMembers(lobby *entity.Lobby, exclude string) []string {
	members := make([]string, 0, len(lobby.Players))

	for _, player := range lobby.Players {
		if player.ID == exclude {
			continue
		}

		if that.registry.LobbyOf(player.ID) == lobby.Code {
			members = append(members, player.ID)
		}
	}

	return members
}

func (that *Coordinator) deliver(session *Session, out outcome) {
	if out.reply != nil && session != nil {
		that.reply(session, *out.reply)
	}

	for _, d := range out.deliveries {
		if len(d.to) == 0 {
			continue
		}

		data, err := json.Marshal(d.message)
		if err != nil {
			that.logger.Error("failed to marshal message", "type", d.message.Type, "error", err)
			continue
		}

		for _, userID := range d.to {
			that.registry.Send(userID, data)
		}
	}
}

func (that *Coordinator) reply(session *Session, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		that.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	if err = session.handle.Send(data); err != nil {
		that.logger.Warn("failed to send reply", "connectionID", session.ID, "error", err)
	}
}

func (that *Coordinator) startGrace(userID, lobbyCode string) {
	if lobbyCode == "" {
		return
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	that.disconnected[userID] = graceEntry{lobbyCode: lobbyCode, since: that.clock.Now()}
}

func (that *Coordinator) clearGrace(userID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.disconnected, userID)
}

// InGrace - reports whether the user is disconnected and still holds a seat.
func (that *Coordinator) InGrace(userID string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.disconnected[userID]

	return ok
}
