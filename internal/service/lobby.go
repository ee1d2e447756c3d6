package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/repository"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/tictactoe"
)

const maxLobbyNameLength = 64

var (
	// ErrPlayerReturned - an eviction found the player connected again.
	ErrPlayerReturned = errors.New("player is connected again")

	errNoChange = errors.New("no change")
)

// LobbyService implements the lobby lifecycle on top of the lobby table.
type LobbyService struct {
	logger  *slog.Logger
	lobbies repository.LobbyRepository
	clock   pkg.Clock
	policy  tictactoe.AbandonPolicy
}

func NewLobbyService(
	logger *slog.Logger,
	lobbies repository.LobbyRepository,
	clock pkg.Clock,
	policy tictactoe.AbandonPolicy,
) *LobbyService {
	return &LobbyService{
		logger:  logger.With("component", "lobby"),
		lobbies: lobbies,
		clock:   clock,
		policy:  policy,
	}
}

func (that *LobbyService) Create(user entity.User, name string) (*entity.Lobby, error) {
	log := that.logger.With("method", "Create")

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: lobby name is required", apperror.ErrValidation)
	}

	if len([]rune(name)) > maxLobbyNameLength {
		return nil, fmt.Errorf("%w: lobby name is too long", apperror.ErrValidation)
	}

	lobby, err := that.lobbies.Create(func(code string) *entity.Lobby {
		return entity.NewLobby(code, name, user, that.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lobby: %w", err)
	}

	log.Info("lobby created", "lobbyCode", lobby.Code, "hostID", user.ID)

	return lobby, nil
}

// Join - adds the user to the lobby. Joining a lobby the user is already in returns it unchanged.
func (that *LobbyService) Join(user entity.User, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		if lobby.HasPlayer(user.ID) {
			return errNoChange
		}

		return lobby.AddPlayer(user)
	})

	if errors.Is(err, errNoChange) {
		return that.lobbies.Get(code)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to join lobby: %w", err)
	}

	that.logger.Info("player joined", "lobbyCode", lobby.Code, "userID", user.ID)

	return lobby, nil
}

// Leave - removes the user. A running game ends by abandonment, reported by abandoned.
// The returned lobby is nil when the last player left and the lobby was destroyed.
func (that *LobbyService) Leave(userID, code string) (*entity.Lobby, bool, error) {
	return that.leave(userID, code, nil)
}

// Evict - Leave for a player whose reconnect grace ran out. isConnected is checked under the lobby lock,
// so a player that came back in the meantime keeps the seat and ErrPlayerReturned is reported.
func (that *LobbyService) Evict(userID, code string, isConnected func(userID string) bool) (*entity.Lobby, bool, error) {
	return that.leave(userID, code, func() error {
		if isConnected(userID) {
			return ErrPlayerReturned
		}

		return nil
	})
}

func (that *LobbyService) leave(userID, code string, guard func() error) (*entity.Lobby, bool, error) {
	abandoned := false

	lobby, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		abandoned = false

		if guard != nil {
			if err := guard(); err != nil {
				return err
			}
		}

		if err := lobby.RemovePlayer(userID); err != nil {
			return err
		}

		if lobby.IsActive() {
			lobby.GameState = tictactoe.Abandon(lobby.GameState, userID, that.policy)
			lobby.Status = entity.LobbyFinished
			abandoned = true
		}

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to leave lobby: %w", err)
	}

	that.logger.Info("player left",
		"lobbyCode", entity.NormalizeCode(code), "userID", userID, "abandoned", abandoned, "destroyed", lobby == nil)

	return lobby, abandoned, nil
}

// Bind - runs attach under the lobby lock when userID is a member, and returns the lobby it saw.
// Bind and Evict of the same lobby never interleave.
func (that *LobbyService) Bind(userID, code string, attach func(lobby *entity.Lobby)) (*entity.Lobby, error) {
	var bound *entity.Lobby

	_, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		if !lobby.HasPlayer(userID) {
			return apperror.ErrNotInLobby
		}

		attach(lobby)
		bound = lobby.Clone()

		return errNoChange
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return nil, fmt.Errorf("failed to bind lobby: %w", err)
	}

	return bound, nil
}

// Start - begins a game. Only the host of a full lobby may start, and not while a game is running.
func (that *LobbyService) Start(userID, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		if lobby.HostID != userID {
			return apperror.ErrForbidden
		}

		if lobby.IsActive() {
			return apperror.ErrGameInProgress
		}

		if !lobby.IsFull() {
			return apperror.ErrNotReady
		}

		lobby.GameState = tictactoe.NewGame(lobby.Players[0].ID, lobby.Players[1].ID)
		lobby.Status = entity.LobbyActive

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	that.logger.Info("game started", "lobbyCode", lobby.Code)

	return lobby, nil
}

// Rematch - returns a finished lobby to waiting and clears the game.
func (that *LobbyService) Rematch(userID, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		if lobby.HostID != userID {
			return apperror.ErrForbidden
		}

		if lobby.IsActive() {
			return apperror.ErrGameInProgress
		}

		lobby.GameState = nil
		lobby.Status = entity.LobbyWaiting

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset lobby: %w", err)
	}

	return lobby, nil
}

func (that *LobbyService) Move(userID, code string, cell entity.Cell) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Update(code, func(lobby *entity.Lobby) error {
		if !lobby.HasPlayer(userID) {
			return apperror.ErrNotInLobby
		}

		switch lobby.Status {
		case entity.LobbyWaiting:
			return fmt.Errorf("%w: game has not started", apperror.ErrNotReady)
		case entity.LobbyFinished:
			return apperror.ErrGameOver
		}

		next, err := tictactoe.ApplyMove(lobby.GameState, userID, cell)
		if err != nil {
			return err
		}

		lobby.GameState = next
		if next.IsOver() {
			lobby.Status = entity.LobbyFinished
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply move: %w", err)
	}

	return lobby, nil
}

func (that *LobbyService) Get(code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Get(code)
	if err != nil {
		return nil, fmt.Errorf("failed to get lobby: %w", err)
	}

	return lobby, nil
}

func (that *LobbyService) List() []entity.LobbySummary {
	lobbies := that.lobbies.List()

	summaries := make([]entity.LobbySummary, 0, len(lobbies))
	for _, lobby := range lobbies {
		summaries = append(summaries, lobby.Summary())
	}

	return summaries
}

// RemoveIdle - destroys lobbies untouched for maxIdle that have no connected player.
func (that *LobbyService) RemoveIdle(maxIdle time.Duration, isConnected func(userID string) bool) []*entity.Lobby {
	log := that.logger.With("method", "RemoveIdle")

	idle := func(lobby *entity.Lobby) bool {
		if that.clock.Now().Sub(lobby.UpdatedAt) < maxIdle {
			return false
		}

		for _, player := range lobby.Players {
			if isConnected(player.ID) {
				return false
			}
		}

		return true
	}

	var removed []*entity.Lobby

	for _, lobby := range that.lobbies.List() {
		if !idle(lobby) {
			continue
		}

		gone, err := that.lobbies.DeleteIf(lobby.Code, idle)
		if err != nil || gone == nil {
			continue
		}

		log.Info("idle lobby removed", "lobbyCode", gone.Code)
		removed = append(removed, gone)
	}

	return removed
}
