package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/repository"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/tictactoe"
)

var (
	alice = entity.User{ID: "U1", DisplayName: "Alice"}
	bob   = entity.User{ID: "U2", DisplayName: "Bob"}
)

type fakeHandle struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

func (that *fakeHandle) Send(data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	that.messages = append(that.messages, msg)

	return nil
}

func (that *fakeHandle) Close(string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closed = true

	return nil
}

func (that *fakeHandle) isClosed() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.closed
}

// take - returns and forgets everything received so far.
func (that *fakeHandle) take() []Message {
	that.mu.Lock()
	defer that.mu.Unlock()

	messages := that.messages
	that.messages = nil

	return messages
}

func types(messages []Message) []string {
	result := make([]string, 0, len(messages))
	for _, msg := range messages {
		result = append(result, msg.Type)
	}

	return result
}

type harness struct {
	ctx         context.Context
	coordinator *Coordinator
	registry    *service.Registry
	clock       *pkg.ManualClock
}

func newHarness(t *testing.T, policy tictactoe.AbandonPolicy) *harness {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := pkg.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	lobbies := service.NewLobbyService(logger, repository.NewLobbyRepository(6, clock), clock, policy)
	registry := service.NewRegistry(logger, clock)

	coordinator := NewCoordinator(logger, lobbies, registry, clock, Options{
		HeartbeatTimeout: 45 * time.Second,
		ReconnectGrace:   20 * time.Second,
		LobbyIdleTimeout: 10 * time.Minute,
	})

	return &harness{
		ctx:         context.Background(),
		coordinator: coordinator,
		registry:    registry,
		clock:       clock,
	}
}

type client struct {
	handle  *fakeHandle
	session *Session
}

func (that *harness) connect() *client {
	handle := &fakeHandle{}
	session := that.coordinator.Connect(handle)

	return &client{handle: handle, session: session}
}

func (that *harness) send(c *client, frame string, args ...any) {
	that.coordinator.HandleMessage(that.ctx, c.session, []byte(fmt.Sprintf(frame, args...)))
}

// lobbyWithBothBound - U1 creates, U2 joins, both bind persistent connections.
func (that *harness) lobbyWithBothBound(t *testing.T) (*entity.Lobby, *client, *client) {
	t.Helper()

	lobby, err := that.coordinator.CreateLobby(that.ctx, alice, "Test")
	require.NoError(t, err)
	_, err = that.coordinator.JoinLobby(that.ctx, bob, lobby.Code)
	require.NoError(t, err)

	host, joiner := that.connect(), that.connect()
	that.send(host, `{"type":"join_lobby","lobbyId":"%s","userId":"U1"}`, lobby.Code)
	that.send(joiner, `{"type":"join_lobby","lobbyId":"%s","userId":"U2"}`, lobby.Code)

	host.handle.take()
	joiner.handle.take()

	return lobby, host, joiner
}

func (that *harness) startedGame(t *testing.T) (*entity.Lobby, *client, *client) {
	t.Helper()

	lobby, host, joiner := that.lobbyWithBothBound(t)

	_, err := that.coordinator.StartGame(that.ctx, alice.ID, lobby.Code)
	require.NoError(t, err)

	host.handle.take()
	joiner.handle.take()

	return lobby, host, joiner
}

func TestCoordinator_Connect(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)

	c := h.connect()

	messages := c.handle.take()
	require.Len(t, messages, 1)
	assert.Equal(t, TypeConnected, messages[0].Type)
	assert.Equal(t, c.session.ID, messages[0].ConnectionID)
}

func TestCoordinator_JoinLobby(t *testing.T) {
	t.Run("members see each other", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)

		// Given: U1 created the lobby and U2 joined it
		lobby, err := h.coordinator.CreateLobby(h.ctx, alice, "Test")
		require.NoError(t, err)
		_, err = h.coordinator.JoinLobby(h.ctx, bob, lobby.Code)
		require.NoError(t, err)

		host := h.connect()
		joiner := h.connect()
		host.handle.take()
		joiner.handle.take()

		// When: U1 binds
		h.send(host, `{"type":"join_lobby","lobbyCode":"%s","userId":"U1"}`, lobby.Code)

		// Then: U1 gets the full lobby
		messages := host.handle.take()
		require.Equal(t, []string{TypeLobbyJoined}, types(messages))
		assert.Equal(t, []string{"U1", "U2"}, messages[0].Lobby.PlayerIDs())

		// When: U2 binds
		h.send(joiner, `{"type":"join_lobby","lobbyCode":"%s","userId":"U2"}`, lobby.Code)

		// Then: U2 gets lobby_joined and U1 is told about U2
		assert.Equal(t, []string{TypeLobbyJoined}, types(joiner.handle.take()))

		messages = host.handle.take()
		require.Equal(t, []string{TypePlayerJoined}, types(messages))
		assert.Equal(t, "U2", messages[0].UserID)
	})

	t.Run("not a member", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, err := h.coordinator.CreateLobby(h.ctx, alice, "Test")
		require.NoError(t, err)

		stranger := h.connect()
		stranger.handle.take()

		h.send(stranger, `{"type":"join_lobby","lobbyCode":"%s","userId":"U9"}`, lobby.Code)

		messages := stranger.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "NOT_IN_LOBBY", messages[0].Code)
		assert.False(t, h.registry.IsAttached("U9"))
	})

	t.Run("joining over REST notifies bound members", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, err := h.coordinator.CreateLobby(h.ctx, alice, "Test")
		require.NoError(t, err)

		host := h.connect()
		h.send(host, `{"type":"join_lobby","lobbyCode":"%s","userId":"U1"}`, lobby.Code)
		host.handle.take()

		_, err = h.coordinator.JoinLobby(h.ctx, bob, lobby.Code)
		require.NoError(t, err)

		messages := host.handle.take()
		require.Equal(t, []string{TypePlayerJoined}, types(messages))
		assert.Len(t, messages[0].Lobby.Players, 2)
	})
}

func TestCoordinator_MalformedMessages(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	_, host, joiner := h.lobbyWithBothBound(t)

	frames := []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"game_move","userId":"U1"}`,
	}

	for _, frame := range frames {
		// When: a broken frame arrives
		h.coordinator.HandleMessage(h.ctx, host.session, []byte(frame))

		// Then: only the sender gets exactly one error
		messages := host.handle.take()
		require.Equal(t, []string{TypeError}, types(messages), frame)
		assert.Equal(t, "MALFORMED_MESSAGE", messages[0].Code)
		assert.Empty(t, joiner.handle.take())
	}
}

func TestCoordinator_GameFlow(t *testing.T) {
	t.Run("start broadcasts to both players", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, host, joiner := h.lobbyWithBothBound(t)

		_, err := h.coordinator.StartGame(h.ctx, alice.ID, lobby.Code)
		require.NoError(t, err)

		for _, c := range []*client{host, joiner} {
			messages := c.handle.take()
			require.Equal(t, []string{TypeGameStarted}, types(messages))
			assert.Equal(t, entity.LobbyActive, messages[0].Lobby.Status)
			assert.Equal(t, "U1", messages[0].GameState.CurrentPlayerID)
		}
	})

	t.Run("move is broadcast and a bad move is reported to the sender only", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, host, joiner := h.startedGame(t)

		// When: U1 takes the center
		h.send(host, `{"type":"game_move","lobbyId":"%s","userId":"U1","move":{"x":0,"y":0,"z":0,"symbol":"X"}}`, lobby.Code)

		// Then: both receive the same update
		for _, c := range []*client{host, joiner} {
			messages := c.handle.take()
			require.Equal(t, []string{TypeGameUpdate}, types(messages))
			assert.Equal(t, entity.SymbolX, messages[0].GameState.Board[13])
			assert.Equal(t, "U2", messages[0].GameState.CurrentPlayerID)
		}

		// When: U2 tries the occupied center
		h.send(joiner, `{"type":"game_move","userId":"U2","cell":{"x":0,"y":0,"z":0}}`)

		// Then: only U2 hears about it
		messages := joiner.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "CELL_OCCUPIED", messages[0].Code)
		assert.Empty(t, host.handle.take())
	})

	t.Run("move out of turn", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		_, host, joiner := h.startedGame(t)

		h.send(joiner, `{"type":"game_move","cell":{"x":1,"y":1,"z":1}}`)

		messages := joiner.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "NOT_YOUR_TURN", messages[0].Code)
		assert.Empty(t, host.handle.take())
	})

	t.Run("speaking for another user", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		_, _, joiner := h.startedGame(t)

		h.send(joiner, `{"type":"game_move","userId":"U1","cell":{"x":1,"y":1,"z":1}}`)

		messages := joiner.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "FORBIDDEN", messages[0].Code)
	})

	t.Run("unbound connection", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		c := h.connect()
		c.handle.take()

		h.send(c, `{"type":"game_move","cell":{"x":1,"y":1,"z":1}}`)

		messages := c.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "NOT_BOUND", messages[0].Code)
	})

	t.Run("winning move ends the game", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		_, host, joiner := h.startedGame(t)

		h.send(host, `{"type":"game_move","cell":{"x":-1,"y":-1,"z":-1}}`)
		h.send(joiner, `{"type":"game_move","cell":{"x":1,"y":-1,"z":-1}}`)
		h.send(host, `{"type":"game_move","cell":{"x":0,"y":0,"z":0}}`)
		h.send(joiner, `{"type":"game_move","cell":{"x":-1,"y":1,"z":1}}`)
		host.handle.take()
		joiner.handle.take()

		h.send(host, `{"type":"game_move","cell":{"x":1,"y":1,"z":1}}`)

		for _, c := range []*client{host, joiner} {
			messages := c.handle.take()
			require.Equal(t, []string{TypeGameUpdate, TypeGameEnded}, types(messages))
			assert.Equal(t, entity.ResultWin, messages[1].GameState.Result.Status)
			assert.Equal(t, "U1", messages[1].GameState.Result.WinnerID)
			assert.Equal(t, entity.LobbyFinished, messages[1].Lobby.Status)
		}

		h.send(joiner, `{"type":"game_move","cell":{"x":1,"y":0,"z":0}}`)

		messages := joiner.handle.take()
		require.Equal(t, []string{TypeError}, types(messages))
		assert.Equal(t, "GAME_OVER", messages[0].Code)
	})

	t.Run("rematch resets the lobby for both players", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, host, joiner := h.lobbyWithBothBound(t)

		_, err := h.coordinator.Rematch(h.ctx, alice.ID, lobby.Code)
		require.NoError(t, err)

		for _, c := range []*client{host, joiner} {
			messages := c.handle.take()
			require.Equal(t, []string{TypeLobbyReset}, types(messages))
			assert.Nil(t, messages[0].Lobby.GameState)
		}
	})
}

func TestCoordinator_Heartbeat(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	_, host, _ := h.lobbyWithBothBound(t)

	h.send(host, `{"type":"heartbeat"}`)

	assert.Equal(t, []string{TypeHeartbeatAck}, types(host.handle.take()))
}

func TestCoordinator_LeaveLobby(t *testing.T) {
	t.Run("leaving a running game", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		_, host, joiner := h.startedGame(t)

		// When: U2 leaves
		h.send(joiner, `{"type":"leave_lobby"}`)

		// Then: U1 learns it won by walkover
		messages := host.handle.take()
		require.Equal(t, []string{TypePlayerLeft, TypeGameEnded}, types(messages))
		assert.Equal(t, "U2", messages[0].UserID)
		assert.Equal(t, entity.Result{Status: entity.ResultWalkover, WinnerID: "U1"}, messages[1].GameState.Result)

		// Then: U2 is no longer attached and gets nothing
		assert.False(t, h.registry.IsAttached("U2"))
		assert.Empty(t, joiner.handle.take())
		assert.Empty(t, joiner.session.UserID())
	})

	t.Run("last player leaving destroys the lobby", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, err := h.coordinator.CreateLobby(h.ctx, alice, "Test")
		require.NoError(t, err)

		host := h.connect()
		h.send(host, `{"type":"join_lobby","lobbyCode":"%s","userId":"U1"}`, lobby.Code)
		host.handle.take()

		h.send(host, `{"type":"leave_lobby","lobbyCode":"%s"}`, lobby.Code)

		assert.Empty(t, host.handle.take())
		assert.Empty(t, h.coordinator.ListLobbies(h.ctx))
	})

	t.Run("leaving over REST", func(t *testing.T) {
		h := newHarness(t, tictactoe.PolicyWalkover)
		lobby, host, joiner := h.lobbyWithBothBound(t)

		require.NoError(t, h.coordinator.LeaveLobby(h.ctx, alice.ID, lobby.Code))

		messages := joiner.handle.take()
		require.Equal(t, []string{TypePlayerLeft}, types(messages))
		assert.Equal(t, "U2", messages[0].Lobby.HostID)
		assert.Empty(t, host.handle.take())
	})
}

func TestCoordinator_DisconnectWalkover(t *testing.T) {
	for _, tc := range []struct {
		policy tictactoe.AbandonPolicy
		result entity.Result
	}{
		{tictactoe.PolicyWalkover, entity.Result{Status: entity.ResultWalkover, WinnerID: "U1"}},
		{tictactoe.PolicyVoid, entity.Result{Status: entity.ResultVoid}},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			h := newHarness(t, tc.policy)
			_, host, joiner := h.startedGame(t)

			// Given: U2 goes silent while U1 keeps beating
			h.clock.Advance(30 * time.Second)
			h.send(host, `{"type":"heartbeat"}`)
			h.clock.Advance(30 * time.Second)
			h.send(host, `{"type":"heartbeat"}`)
			host.handle.take()

			// When: the sweeper runs after the heartbeat timeout
			h.coordinator.Sweep(h.ctx)

			// Then: U2's connection is dropped but the seat is kept
			assert.True(t, joiner.handle.isClosed())
			assert.True(t, h.coordinator.InGrace("U2"))
			assert.Empty(t, host.handle.take())

			// When: the grace period runs out
			h.clock.Advance(25 * time.Second)
			h.coordinator.Sweep(h.ctx)

			// Then: U1 is told the game ended
			messages := host.handle.take()
			require.Equal(t, []string{TypePlayerLeft, TypeGameEnded}, types(messages))
			assert.Equal(t, tc.result, messages[1].GameState.Result)
			assert.Equal(t, []string{"U1"}, messages[1].Lobby.PlayerIDs())
		})
	}
}

func TestCoordinator_Reconnect(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	lobby, host, joiner := h.startedGame(t)

	// Given: U2's transport closes
	h.coordinator.Disconnect(joiner.session)
	require.True(t, h.coordinator.InGrace("U2"))

	// When: U2 comes back within the grace period
	h.clock.Advance(10 * time.Second)
	again := h.connect()
	h.send(again, `{"type":"join_lobby","lobbyCode":"%s","userId":"U2"}`, lobby.Code)

	// Then: U2 resumes the running game
	messages := again.handle.take()
	require.Equal(t, []string{TypeConnected, TypeLobbyJoined}, types(messages))
	assert.Equal(t, entity.LobbyActive, messages[1].Lobby.Status)
	assert.False(t, h.coordinator.InGrace("U2"))

	// Then: a later sweep does not evict anyone
	h.clock.Advance(15 * time.Second)
	h.coordinator.Sweep(h.ctx)

	host.handle.take()
	stored, err := h.coordinator.GetLobby(h.ctx, lobby.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.LobbyActive, stored.Status)
	assert.Len(t, stored.Players, 2)
}

func TestCoordinator_SupersededConnection(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	lobby, _, joiner := h.lobbyWithBothBound(t)

	// When: U2 opens a second connection
	second := h.connect()
	h.send(second, `{"type":"join_lobby","lobbyCode":"%s","userId":"U2"}`, lobby.Code)

	// Then: the first one is closed
	assert.True(t, joiner.handle.isClosed())

	// When: the old connection reports its close late
	h.coordinator.Disconnect(joiner.session)

	// Then: the new connection stays attached
	assert.True(t, h.registry.IsAttached("U2"))
	assert.False(t, h.coordinator.InGrace("U2"))
}

func TestCoordinator_SupersededConnectionIsIgnored(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	lobby, host, joiner := h.startedGame(t)

	// Given: U2 re-binds from a second connection
	second := h.connect()
	h.send(second, `{"type":"join_lobby","lobbyCode":"%s","userId":"U2"}`, lobby.Code)
	second.handle.take()
	host.handle.take()
	joiner.handle.take()

	// When: frames still arrive on the replaced connection
	h.send(host, `{"type":"game_move","cell":{"x":0,"y":0,"z":0}}`)
	host.handle.take()
	second.handle.take()

	h.send(joiner, `{"type":"game_move","cell":{"x":1,"y":1,"z":1}}`)
	h.send(joiner, `{"type":"heartbeat"}`)
	h.send(joiner, `{"type":"leave_lobby"}`)

	// Then: moves and leaves are refused on it
	messages := joiner.handle.take()
	require.Equal(t, []string{TypeError, TypeHeartbeatAck, TypeError}, types(messages))
	assert.Equal(t, "NOT_BOUND", messages[0].Code)
	assert.Equal(t, "NOT_BOUND", messages[2].Code)

	// Then: the seat, the game and the new connection are untouched
	stored, err := h.coordinator.GetLobby(h.ctx, lobby.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.LobbyActive, stored.Status)
	assert.Equal(t, []string{"U1", "U2"}, stored.PlayerIDs())
	assert.Len(t, stored.GameState.Moves, 1)
	assert.True(t, h.registry.IsCurrent("U2", second.handle))
	assert.Empty(t, host.handle.take())
	assert.Empty(t, second.handle.take())

	// Then: the new connection still plays
	h.send(second, `{"type":"game_move","cell":{"x":1,"y":1,"z":1}}`)
	assert.Equal(t, []string{TypeGameUpdate}, types(second.handle.take()))
}

func TestCoordinator_SnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)
	lobby, host, joiner := h.startedGame(t)

	moves := []struct {
		by   *client
		cell string
	}{
		{host, `{"x":-1,"y":-1,"z":-1}`},
		{joiner, `{"x":1,"y":-1,"z":-1}`},
		{host, `{"x":0,"y":0,"z":0}`},
		{joiner, `{"x":-1,"y":1,"z":1}`},
		{host, `{"x":1,"y":1,"z":1}`},
	}

	for i, move := range moves {
		// When: a move is played
		h.send(move.by, `{"type":"game_move","cell":%s}`, move.cell)

		// Then: the state a client parses from game_update equals the stored one
		stored, err := h.coordinator.GetLobby(h.ctx, lobby.Code)
		require.NoError(t, err)

		for _, c := range []*client{host, joiner} {
			messages := c.handle.take()
			require.NotEmpty(t, messages)
			require.Equal(t, TypeGameUpdate, messages[0].Type)

			assert.Equal(t, stored.GameState, messages[0].GameState, "move %d", i)
			assert.Equal(t, stored.GameState, messages[0].Lobby.GameState, "move %d", i)
			assert.Equal(t, stored.Version, messages[0].Lobby.Version, "move %d", i)
		}
	}

	// Then: the terminal state carries the winning line
	stored, err := h.coordinator.GetLobby(h.ctx, lobby.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.Result{
		Status:   entity.ResultWin,
		WinnerID: "U1",
		Line:     []entity.Cell{{X: -1, Y: -1, Z: -1}, {X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}},
	}, stored.GameState.Result)
}

func TestCoordinator_SweepIdleLobbies(t *testing.T) {
	h := newHarness(t, tictactoe.PolicyWalkover)

	// Given: a lobby nobody ever connected to
	_, err := h.coordinator.CreateLobby(h.ctx, alice, "Forgotten")
	require.NoError(t, err)

	// When: the idle timeout passes
	h.clock.Advance(11 * time.Minute)
	h.coordinator.Sweep(h.ctx)

	// Then: it is gone
	assert.Empty(t, h.coordinator.ListLobbies(h.ctx))
}
