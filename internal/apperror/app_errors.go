package apperror

import "errors"

var (
	ErrValidation        = errors.New("invalid request")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnauthorized      = errors.New("unknown user")
	ErrNotBound          = errors.New("connection is not bound to a user")

	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrForbidden      = errors.New("action is allowed for the host only")
	ErrNotReady       = errors.New("lobby needs two players")
	ErrNotInLobby     = errors.New("user is not a member of the lobby")
	ErrGameInProgress = errors.New("game is in progress")

	ErrNotYourTurn  = errors.New("it's not your turn")
	ErrCellOccupied = errors.New("cell is already occupied")
	ErrOutOfBounds  = errors.New("cell is out of bounds")
	ErrGameOver     = errors.New("game is already finished")
)

const CodeInternal = "INTERNAL"

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, "VALIDATION"},
	{ErrMalformedMessage, "MALFORMED_MESSAGE"},
	{ErrInvalidCredential, "INVALID_CREDENTIAL"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrNotBound, "NOT_BOUND"},
	{ErrLobbyNotFound, "LOBBY_NOT_FOUND"},
	{ErrLobbyFull, "LOBBY_FULL"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrNotReady, "NOT_READY"},
	{ErrNotInLobby, "NOT_IN_LOBBY"},
	{ErrGameInProgress, "GAME_IN_PROGRESS"},
	{ErrNotYourTurn, "NOT_YOUR_TURN"},
	{ErrCellOccupied, "CELL_OCCUPIED"},
	{ErrOutOfBounds, "OUT_OF_BOUNDS"},
	{ErrGameOver, "GAME_OVER"},
}

// Code - returns the stable wire code of a domain error, or CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeInternal
}
