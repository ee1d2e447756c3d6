package repository

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
)

const maxCodeAttempts = 16

var ErrCodeSpaceExhausted = errors.New("could not generate a unique lobby code")

// LobbyRepository keeps live lobbies in memory. Every mutation of one lobby runs under that lobby's lock;
// the table lock only guards membership of the table itself.
type LobbyRepository interface {
	Create(build func(code string) *entity.Lobby) (*entity.Lobby, error)
	Get(code string) (*entity.Lobby, error)
	// Update applies fn to a copy of the lobby and stores it when fn succeeds.
	// A lobby left without players is removed and nil is returned.
	Update(code string, fn func(lobby *entity.Lobby) error) (*entity.Lobby, error)
	// DeleteIf removes the lobby when cond holds and returns the removed lobby.
	DeleteIf(code string, cond func(lobby *entity.Lobby) bool) (*entity.Lobby, error)
	List() []*entity.Lobby
}

type lobbyEntry struct {
	mu      sync.Mutex
	lobby   *entity.Lobby
	removed bool
}

type memoryLobby struct {
	mu      sync.RWMutex
	lobbies map[string]*lobbyEntry

	codeLength int
	clock      pkg.Clock
	generate   func(length int) (string, error)
}

func NewLobbyRepository(codeLength int, clock pkg.Clock) LobbyRepository {
	return &memoryLobby{
		lobbies:    make(map[string]*lobbyEntry),
		codeLength: codeLength,
		clock:      clock,
		generate:   pkg.GenerateCode,
	}
}

func (that *memoryLobby) Create(build func(code string) *entity.Lobby) (*entity.Lobby, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := that.generate(that.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate lobby code: %w", err)
		}

		if _, exists := that.lobbies[code]; exists {
			continue
		}

		lobby := build(code)
		that.lobbies[code] = &lobbyEntry{lobby: lobby}

		return lobby.Clone(), nil
	}

	return nil, ErrCodeSpaceExhausted
}

func (that *memoryLobby) Get(code string) (*entity.Lobby, error) {
	entry, err := that.entry(code)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		return nil, apperror.ErrLobbyNotFound
	}

	return entry.lobby.Clone(), nil
}

func (that *memoryLobby) Update(code string, fn func(lobby *entity.Lobby) error) (*entity.Lobby, error) {
	entry, err := that.entry(code)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		return nil, apperror.ErrLobbyNotFound
	}

	next := entry.lobby.Clone()
	if err = fn(next); err != nil {
		return nil, err
	}

	next.Touch(that.clock.Now())

	if next.IsEmpty() {
		that.remove(entry, next.Code)
		return nil, nil
	}

	entry.lobby = next

	return next.Clone(), nil
}

func (that *memoryLobby) DeleteIf(code string, cond func(lobby *entity.Lobby) bool) (*entity.Lobby, error) {
	entry, err := that.entry(code)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed || !cond(entry.lobby) {
		return nil, nil
	}

	that.remove(entry, entry.lobby.Code)

	return entry.lobby.Clone(), nil
}

func (that *memoryLobby) List() []*entity.Lobby {
	that.mu.RLock()
	entries := make([]*lobbyEntry, 0, len(that.lobbies))
	for _, entry := range that.lobbies {
		entries = append(entries, entry)
	}
	that.mu.RUnlock()

	lobbies := make([]*entity.Lobby, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.removed {
			lobbies = append(lobbies, entry.lobby.Clone())
		}
		entry.mu.Unlock()
	}

	sort.Slice(lobbies, func(i, j int) bool {
		if lobbies[i].CreatedAt.Equal(lobbies[j].CreatedAt) {
			return lobbies[i].Code < lobbies[j].Code
		}

		return lobbies[i].CreatedAt.Before(lobbies[j].CreatedAt)
	})

	return lobbies
}

func (that *memoryLobby) entry(code string) (*lobbyEntry, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	entry, ok := that.lobbies[entity.NormalizeCode(code)]
	if !ok {
		return nil, apperror.ErrLobbyNotFound
	}

	return entry, nil
}

// remove must be called with entry.mu held.
func (that *memoryLobby) remove(entry *lobbyEntry, code string) {
	entry.removed = true

	that.mu.Lock()
	delete(that.lobbies, code)
	that.mu.Unlock()
}
