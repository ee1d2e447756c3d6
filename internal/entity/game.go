package entity

type Symbol string

const (
	SymbolX   Symbol = "X"
	SymbolO   Symbol = "O"
	EmptyCell Symbol = ""
)

const (
	BoardSide = 3
	BoardSize = BoardSide * BoardSide * BoardSide
)

type ResultStatus string

const (
	ResultInProgress ResultStatus = "in_progress"
	ResultWin        ResultStatus = "win"
	ResultDraw       ResultStatus = "draw"
	ResultWalkover   ResultStatus = "walkover"
	ResultVoid       ResultStatus = "void"
)

// Cell is a board coordinate, each axis in {-1, 0, 1}.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (that Cell) InBounds() bool {
	return inAxis(that.X) && inAxis(that.Y) && inAxis(that.Z)
}

// Index - returns the position of the cell in GameState.Board. The cell must be in bounds.
func (that Cell) Index() int {
	return (that.X+1)*BoardSide*BoardSide + (that.Y+1)*BoardSide + (that.Z + 1)
}

func CellAt(index int) Cell {
	return Cell{
		X: index/(BoardSide*BoardSide) - 1,
		Y: index/BoardSide%BoardSide - 1,
		Z: index%BoardSide - 1,
	}
}

func inAxis(v int) bool {
	return v >= -1 && v <= 1
}

type Move struct {
	UserID string `json:"userId"`
	Cell   Cell   `json:"cell"`
	Symbol Symbol `json:"symbol"`
}

type Result struct {
	Status   ResultStatus `json:"status"`
	WinnerID string       `json:"winnerId,omitempty"`
	Line     []Cell       `json:"line,omitempty"`
}

type GameState struct {
	Board           [BoardSize]Symbol `json:"board"`
	Symbols         map[string]Symbol `json:"symbols"`
	Players         [2]string         `json:"players"`
	CurrentPlayerID string            `json:"currentPlayerId"`
	Moves           []Move            `json:"moves"`
	Result          Result            `json:"result"`
}

func (that *GameState) IsOver() bool {
	return that.Result.Status != ResultInProgress
}

func (that *GameState) IsParticipant(userID string) bool {
	_, ok := that.Symbols[userID]
	return ok
}

// Opponent - returns the other participant, or an empty string for a non-participant.
func (that *GameState) Opponent(userID string) string {
	switch userID {
	case that.Players[0]:
		return that.Players[1]
	case that.Players[1]:
		return that.Players[0]
	default:
		return ""
	}
}

func (that *GameState) IsFull() bool {
	for _, cell := range that.Board {
		if cell == EmptyCell {
			return false
		}
	}

	return true
}

// Clone - returns a deep copy, so a state handed out to readers never aliases the stored one.
func (that *GameState) Clone() *GameState {
	if that == nil {
		return nil
	}

	clone := *that

	clone.Symbols = make(map[string]Symbol, len(that.Symbols))
	for id, symbol := range that.Symbols {
		clone.Symbols[id] = symbol
	}

	clone.Moves = append(make([]Move, 0, len(that.Moves)+1), that.Moves...)

	if that.Result.Line != nil {
		clone.Result.Line = append([]Cell(nil), that.Result.Line...)
	}

	return &clone
}
