package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
)

// RunSweeper - runs Sweep every interval until ctx is done.
func (that *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	log := that.logger.With("method", "RunSweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			that.Sweep(ctx)
		}
	}
}

// Sweep - drops silent connections, evicts players whose grace period ran out and removes idle lobbies.
func (that *Coordinator) Sweep(ctx context.Context) {
	log := that.logger.With("method", "Sweep")

	for _, stale := range that.registry.SweepStale(that.opts.HeartbeatTimeout) {
		log.Info("connection timed out", "userID", stale.UserID, "lobbyCode", stale.LobbyCode)
		that.startGrace(stale.UserID, stale.LobbyCode)
	}

	for userID, entry := range that.expiredGrace() {
		if that.registry.IsAttached(userID) {
			continue
		}

		out, err := that.evict(ctx, userID, entry.lobbyCode)
		if err != nil {
			if !isGone(err) && !errors.Is(err, service.ErrPlayerReturned) {
				log.Warn("failed to evict player", "userID", userID, "lobbyCode", entry.lobbyCode, "error", err)
			}

			continue
		}

		log.Info("player evicted after grace period", "userID", userID, "lobbyCode", entry.lobbyCode)
		that.deliver(nil, out)
	}

	that.lobbies.RemoveIdle(that.opts.LobbyIdleTimeout, that.registry.IsAttached)
}

func (that *Coordinator) expiredGrace() map[string]graceEntry {
	now := that.clock.Now()

	that.mu.Lock()
	defer that.mu.Unlock()

	expired := make(map[string]graceEntry)
	for userID, entry := range that.disconnected {
		if now.Sub(entry.since) >= that.opts.ReconnectGrace {
			expired[userID] = entry
			delete(that.disconnected, userID)
		}
	}

	return expired
}
