package entity

import (
	"strings"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
)

const MaxPlayers = 2

type LobbyStatus string

const (
	LobbyWaiting  LobbyStatus = "waiting"
	LobbyActive   LobbyStatus = "active"
	LobbyFinished LobbyStatus = "finished"
)

type Lobby struct {
	Code      string      `json:"id"`
	Name      string      `json:"name"`
	HostID    string      `json:"hostId"`
	Players   []User      `json:"players"`
	Status    LobbyStatus `json:"status"`
	GameState *GameState  `json:"gameState,omitempty"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type LobbySummary struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Players int         `json:"players"`
	Status  LobbyStatus `json:"status"`
}

// NormalizeCode - join codes are case-insensitive and stored upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NewLobby(code, name string, host User, now time.Time) *Lobby {
	return &Lobby{
		Code:      code,
		Name:      name,
		HostID:    host.ID,
		Players:   []User{host},
		Status:    LobbyWaiting,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (that *Lobby) IsWaiting() bool {
	return that.Status == LobbyWaiting
}

func (that *Lobby) IsActive() bool {
	return that.Status == LobbyActive
}

func (that *Lobby) IsFinished() bool {
	return that.Status == LobbyFinished
}

func (that *Lobby) IsEmpty() bool {
	return len(that.Players) == 0
}

func (that *Lobby) IsFull() bool {
	return len(that.Players) >= MaxPlayers
}

func (that *Lobby) HasPlayer(userID string) bool {
	return that.playerIndex(userID) >= 0
}

func (that *Lobby) PlayerIDs() []string {
	ids := make([]string, 0, len(that.Players))
	for _, player := range that.Players {
		ids = append(ids, player.ID)
	}

	return ids
}

// AddPlayer - appends the user. Adding an existing member is a no-op.
func (that *Lobby) AddPlayer(user User) error {
	if that.HasPlayer(user.ID) {
		return nil
	}

	if that.IsFull() {
		return apperror.ErrLobbyFull
	}

	that.Players = append(that.Players, user)

	return nil
}

// RemovePlayer - removes the user and hands the host role to the first remaining player.
func (that *Lobby) RemovePlayer(userID string) error {
	idx := that.playerIndex(userID)
	if idx < 0 {
		return apperror.ErrNotInLobby
	}

	that.Players = append(that.Players[:idx], that.Players[idx+1:]...)

	if len(that.Players) > 0 {
		that.HostID = that.Players[0].ID
	} else {
		that.HostID = ""
	}

	return nil
}

// Touch - marks the lobby as mutated.
func (that *Lobby) Touch(now time.Time) {
	that.Version++
	that.UpdatedAt = now
}

func (that *Lobby) Summary() LobbySummary {
	return LobbySummary{
		ID:      that.Code,
		Name:    that.Name,
		Players: len(that.Players),
		Status:  that.Status,
	}
}

func (that *Lobby) Clone() *Lobby {
	if that == nil {
		return nil
	}

	clone := *that
	clone.Players = append([]User(nil), that.Players...)
	clone.GameState = that.GameState.Clone()

	return &clone
}

func (that *Lobby) playerIndex(userID string) int {
	for i, player := range that.Players {
		if player.ID == userID {
			return i
		}
	}

	return -1
}
