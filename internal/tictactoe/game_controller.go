package tictactoe

import (
	"fmt"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
)

type AbandonPolicy string

const (
	// PolicyWalkover awards the game to the player who stayed.
	PolicyWalkover AbandonPolicy = "walkover"
	// PolicyVoid ends the game without a winner.
	PolicyVoid AbandonPolicy = "void"
)

func ParseAbandonPolicy(value string) (AbandonPolicy, error) {
	switch policy := AbandonPolicy(value); policy {
	case PolicyWalkover, PolicyVoid:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: unknown abandon policy %q", apperror.ErrValidation, value)
	}
}

// directions holds one vector per line orientation; the opposite vector is implied.
var directions = []entity.Cell{
	{X: 1}, {Y: 1}, {Z: 1},
	{X: 1, Y: 1}, {X: 1, Y: -1},
	{X: 1, Z: 1}, {X: 1, Z: -1},
	{Y: 1, Z: 1}, {Y: 1, Z: -1},
	{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: -1},
	{X: 1, Y: -1, Z: 1}, {X: 1, Y: -1, Z: -1},
}

// WinLines - every three-in-a-row of the cube as board indexes, 49 in total.
var WinLines = buildWinLines()

func buildWinLines() [][3]int {
	lines := make([][3]int, 0, 49)

	for idx := 0; idx < entity.BoardSize; idx++ {
		middle := entity.CellAt(idx)

		for _, dir := range directions {
			first := entity.Cell{X: middle.X - dir.X, Y: middle.Y - dir.Y, Z: middle.Z - dir.Z}
			last := entity.Cell{X: middle.X + dir.X, Y: middle.Y + dir.Y, Z: middle.Z + dir.Z}

			if first.InBounds() && last.InBounds() {
				lines = append(lines, [3]int{first.Index(), idx, last.Index()})
			}
		}
	}

	return lines
}

// NewGame - creates the initial state. The host plays X and moves first.
func NewGame(hostID, joinerID string) *entity.GameState {
	return &entity.GameState{
		Symbols: map[string]entity.Symbol{
			hostID:   entity.SymbolX,
			joinerID: entity.SymbolO,
		},
		Players:         [2]string{hostID, joinerID},
		CurrentPlayerID: hostID,
		Moves:           []entity.Move{},
		Result:          entity.Result{Status: entity.ResultInProgress},
	}
}

// ApplyMove - returns the state after userID claims cell. The input state is never modified.
func ApplyMove(state *entity.GameState, userID string, cell entity.Cell) (*entity.GameState, error) {
	if err := validateMove(state, userID, cell); err != nil {
		return nil, fmt.Errorf("invalid move: %w", err)
	}

	next := state.Clone()
	symbol := next.Symbols[userID]

	next.Board[cell.Index()] = symbol
	next.Moves = append(next.Moves, entity.Move{UserID: userID, Cell: cell, Symbol: symbol})

	updateGameStatus(next, userID)

	return next, nil
}

// Abandon - ends a running game because leaverID left it.
func Abandon(state *entity.GameState, leaverID string, policy AbandonPolicy) *entity.GameState {
	next := state.Clone()
	if next == nil || next.IsOver() {
		return next
	}

	next.CurrentPlayerID = ""

	if policy == PolicyVoid {
		next.Result = entity.Result{Status: entity.ResultVoid}
		return next
	}

	next.Result = entity.Result{
		Status:   entity.ResultWalkover,
		WinnerID: next.Opponent(leaverID),
	}

	return next
}

// validateMove - checks if the move is valid.
func validateMove(state *entity.GameState, userID string, cell entity.Cell) error {
	if state.IsOver() {
		return apperror.ErrGameOver
	}

	if state.CurrentPlayerID != userID {
		return apperror.ErrNotYourTurn
	}

	if !cell.InBounds() {
		return apperror.ErrOutOfBounds
	}

	if state.Board[cell.Index()] != entity.EmptyCell {
		return apperror.ErrCellOccupied
	}

	return nil
}

// updateGameStatus - checks the game status after a move.
func updateGameStatus(state *entity.GameState, userID string) {
	if line, ok := findWinLine(state.Board); ok {
		state.Result = entity.Result{
			Status:   entity.ResultWin,
			WinnerID: userID,
			Line:     line,
		}
		state.CurrentPlayerID = ""

		return
	}

	if state.IsFull() {
		state.Result = entity.Result{Status: entity.ResultDraw}
		state.CurrentPlayerID = ""

		return
	}

	state.CurrentPlayerID = state.Opponent(userID)
}

func findWinLine(board [entity.BoardSize]entity.Symbol) ([]entity.Cell, bool) {
	for _, line := range WinLines {
		a, b, c := board[line[0]], board[line[1]], board[line[2]]
		if a != entity.EmptyCell && a == b && b == c {
			return []entity.Cell{entity.CellAt(line[0]), entity.CellAt(line[1]), entity.CellAt(line[2])}, true
		}
	}

	return nil, false
}
