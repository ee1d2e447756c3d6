package usecase

import (
	"context"
	"errors"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
)

// Lobby operations issued outside a persistent connection. They broadcast to bound members
// exactly like their protocol counterparts.

func (that *Coordinator) CreateLobby(_ context.Context, user entity.User, name string) (*entity.Lobby, error) {
	return that.lobbies.Create(user, name)
}

func (that *Coordinator) JoinLobby(_ context.Context, user entity.User, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Join(user, code)
	if err != nil {
		return nil, err
	}

	that.deliver(nil, outcome{deliveries: []delivery{{
		to:      that.boundMembers(lobby, user.ID),
		message: lobbyMessage(TypePlayerJoined, lobby, user.ID),
	}}})

	return lobby, nil
}

func (that *Coordinator) LeaveLobby(ctx context.Context, userID, code string) error {
	code = entity.NormalizeCode(code)

	if that.registry.LobbyOf(userID) == code {
		that.registry.BindLobby(userID, "")
	}

	that.clearGrace(userID)

	out, err := that.leave(ctx, userID, code)
	if err != nil {
		return err
	}

	that.deliver(nil, out)

	return nil
}

func (that *Coordinator) StartGame(_ context.Context, userID, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Start(userID, code)
	if err != nil {
		return nil, err
	}

	that.deliver(nil, outcome{deliveries: []delivery{{
		to:      that.boundMembers(lobby, ""),
		message: lobbyMessage(TypeGameStarted, lobby, userID),
	}}})

	return lobby, nil
}

func (that *Coordinator) Rematch(_ context.Context, userID, code string) (*entity.Lobby, error) {
	lobby, err := that.lobbies.Rematch(userID, code)
	if err != nil {
		return nil, err
	}

	that.deliver(nil, outcome{deliveries: []delivery{{
		to:      that.boundMembers(lobby, ""),
		message: lobbyMessage(TypeLobbyReset, lobby, userID),
	}}})

	return lobby, nil
}

func (that *Coordinator) GetLobby(_ context.Context, code string) (*entity.Lobby, error) {
	return that.lobbies.Get(code)
}

func (that *Coordinator) ListLobbies(_ context.Context) []entity.LobbySummary {
	return that.lobbies.List()
}

// isGone - the lobby or the membership already disappeared, so there is nothing left to evict.
func isGone(err error) bool {
	return errors.Is(err, apperror.ErrLobbyNotFound) || errors.Is(err, apperror.ErrNotInLobby)
}
