package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
)

// Client to server message types.
const (
	TypeJoinLobby  = "join_lobby"
	TypeGameMove   = "game_move"
	TypeHeartbeat  = "heartbeat"
	TypeLeaveLobby = "leave_lobby"
)

// Server to client message types.
const (
	TypeConnected    = "connected"
	TypeLobbyJoined  = "lobby_joined"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypeGameStarted  = "game_started"
	TypeGameUpdate   = "game_update"
	TypeGameEnded    = "game_ended"
	TypeLobbyReset   = "lobby_reset"
	TypeError        = "error"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Inbound is one of JoinLobby, GameMove, Heartbeat or LeaveLobby.
type Inbound interface {
	inboundType() string
}

type JoinLobby struct {
	LobbyCode string
	UserID    string
}

type GameMove struct {
	LobbyCode string
	UserID    string
	Cell      entity.Cell
}

type Heartbeat struct{}

type LeaveLobby struct {
	LobbyCode string
	UserID    string
}

func (JoinLobby) inboundType() string  { return TypeJoinLobby }
func (GameMove) inboundType() string   { return TypeGameMove }
func (Heartbeat) inboundType() string  { return TypeHeartbeat }
func (LeaveLobby) inboundType() string { return TypeLeaveLobby }

// rawInbound accepts both lobbyCode/lobbyId and cell/move spellings.
type rawInbound struct {
	Type      string       `json:"type"`
	LobbyCode string       `json:"lobbyCode"`
	LobbyID   string       `json:"lobbyId"`
	UserID    string       `json:"userId"`
	Cell      *entity.Cell `json:"cell"`
	Move      *entity.Cell `json:"move"`
}

func (that rawInbound) lobbyCode() string {
	if that.LobbyCode != "" {
		return entity.NormalizeCode(that.LobbyCode)
	}

	return entity.NormalizeCode(that.LobbyID)
}

func (that rawInbound) cell() *entity.Cell {
	if that.Cell != nil {
		return that.Cell
	}

	return that.Move
}

// DecodeInbound - parses a client frame into its typed variant.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrMalformedMessage, err)
	}

	switch raw.Type {
	case TypeJoinLobby:
		if raw.lobbyCode() == "" || strings.TrimSpace(raw.UserID) == "" {
			return nil, fmt.Errorf("%w: join_lobby requires lobbyCode and userId", apperror.ErrMalformedMessage)
		}

		return JoinLobby{LobbyCode: raw.lobbyCode(), UserID: raw.UserID}, nil
	case TypeGameMove:
		cell := raw.cell()
		if cell == nil {
			return nil, fmt.Errorf("%w: game_move requires cell", apperror.ErrMalformedMessage)
		}

		return GameMove{LobbyCode: raw.lobbyCode(), UserID: raw.UserID, Cell: *cell}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeLeaveLobby:
		return LeaveLobby{LobbyCode: raw.lobbyCode(), UserID: raw.UserID}, nil
	case "":
		return nil, fmt.Errorf("%w: type is required", apperror.ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", apperror.ErrMalformedMessage, raw.Type)
	}
}

// Message is every server to client frame.
type Message struct {
	Type         string            `json:"type"`
	Lobby        *entity.Lobby     `json:"lobby,omitempty"`
	GameState    *entity.GameState `json:"gameState,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	ConnectionID string            `json:"connectionId,omitempty"`
	Code         string            `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
}

func lobbyMessage(msgType string, lobby *entity.Lobby, userID string) Message {
	return Message{
		Type:      msgType,
		Lobby:     lobby,
		GameState: lobby.GameState,
		UserID:    userID,
	}
}

func errorMessage(err error) Message {
	code := apperror.Code(err)

	text := err.Error()
	if code == apperror.CodeInternal {
		text = "internal error"
	}

	return Message{
		Type:    TypeError,
		Code:    code,
		Message: text,
	}
}
