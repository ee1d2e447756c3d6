package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
)

// Handle is a live transport connection. Send must not block.
type Handle interface {
	Send(message []byte) error
	Close(reason string) error
}

type connectionRecord struct {
	handle          Handle
	lobbyCode       string
	lastHeartbeatAt time.Time
}

type StaleConnection struct {
	UserID    string
	LobbyCode string
}

// Registry maps user ids to their live connection. It knows nothing about lobby state.
type Registry struct {
	logger *slog.Logger
	clock  pkg.Clock

	mu      sync.RWMutex
	records map[string]*connectionRecord
}

func NewRegistry(logger *slog.Logger, clock pkg.Clock) *Registry {
	return &Registry{
		logger:  logger.With("component", "registry"),
		clock:   clock,
		records: make(map[string]*connectionRecord),
	}
}

// Attach - binds handle to userID and returns the handle it replaced, if any. The caller closes it.
func (that *Registry) Attach(userID string, handle Handle) Handle {
	that.mu.Lock()
	defer that.mu.Unlock()

	var superseded Handle
	if prev, ok := that.records[userID]; ok && prev.handle != handle {
		superseded = prev.handle
	}

	that.records[userID] = &connectionRecord{
		handle:          handle,
		lastHeartbeatAt: that.clock.Now(),
	}

	return superseded
}

func (that *Registry) Detach(userID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.records, userID)
}

// DetachHandle - detaches userID only while handle is still its current connection.
func (that *Registry) DetachHandle(userID string, handle Handle) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	record, ok := that.records[userID]
	if !ok || record.handle != handle {
		return false
	}

	delete(that.records, userID)

	return true
}

// IsCurrent - reports whether handle is the live connection of userID.
func (that *Registry) IsCurrent(userID string, handle Handle) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	record, ok := that.records[userID]

	return ok && record.handle == handle
}

func (that *Registry) Heartbeat(userID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if record, ok := that.records[userID]; ok {
		record.lastHeartbeatAt = that.clock.Now()
	}
}

func (that *Registry) BindLobby(userID, lobbyCode string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if record, ok := that.records[userID]; ok {
		record.lobbyCode = lobbyCode
	}
}

// LobbyOf - returns the lobby the user's connection is bound to.
func (that *Registry) LobbyOf(userID string) string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	if record, ok := that.records[userID]; ok {
		return record.lobbyCode
	}

	return ""
}

func (that *Registry) IsAttached(userID string) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	_, ok := that.records[userID]

	return ok
}

// Send - delivers at most once. Messages for users without a live connection are dropped.
func (that *Registry) Send(userID string, message []byte) {
	that.mu.RLock()
	record, ok := that.records[userID]
	that.mu.RUnlock()

	if !ok {
		return
	}

	if err := record.handle.Send(message); err != nil {
		that.logger.Warn("failed to send message", "userID", userID, "error", err)
	}
}

// SweepStale - detaches and closes every connection without a heartbeat for maxAge.
func (that *Registry) SweepStale(maxAge time.Duration) []StaleConnection {
	now := that.clock.Now()

	var (
		stale   []StaleConnection
		handles []Handle
	)

	that.mu.Lock()
	for userID, record := range that.records {
		if now.Sub(record.lastHeartbeatAt) <= maxAge {
			continue
		}

		stale = append(stale, StaleConnection{UserID: userID, LobbyCode: record.lobbyCode})
		handles = append(handles, record.handle)
		delete(that.records, userID)
	}
	that.mu.Unlock()

	for i, handle := range handles {
		if err := handle.Close("heartbeat timeout"); err != nil {
			that.logger.Debug("failed to close stale connection", "userID", stale[i].UserID, "error", err)
		}
	}

	return stale
}
