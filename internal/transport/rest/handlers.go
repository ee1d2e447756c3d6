package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
)

const (
	maxBodyBytes = 64 << 10
	qrSize       = 256
)

type authService interface {
	Authenticate(ctx context.Context, credential string) (*entity.User, error)
	Resolve(ctx context.Context, userID string) (*entity.User, error)
}

type lobbyCoordinator interface {
	CreateLobby(ctx context.Context, user entity.User, name string) (*entity.Lobby, error)
	JoinLobby(ctx context.Context, user entity.User, code string) (*entity.Lobby, error)
	LeaveLobby(ctx context.Context, userID, code string) error
	StartGame(ctx context.Context, userID, code string) (*entity.Lobby, error)
	Rematch(ctx context.Context, userID, code string) (*entity.Lobby, error)
	GetLobby(ctx context.Context, code string) (*entity.Lobby, error)
	ListLobbies(ctx context.Context) []entity.LobbySummary
}

type Handlers struct {
	logger    *slog.Logger
	auth      authService
	lobbies   lobbyCoordinator
	publicURL string
}

func NewHandlers(logger *slog.Logger, auth authService, lobbies lobbyCoordinator, publicURL string) *Handlers {
	return &Handlers{
		logger:    logger.With("component", "rest"),
		auth:      auth,
		lobbies:   lobbies,
		publicURL: publicURL,
	}
}

type authRequest struct {
	InitData string `json:"initData"`
}

type userRequest struct {
	UserID    string `json:"userId"`
	LobbyName string `json:"lobbyName"`
	LobbyID   string `json:"lobbyId"`
}

type userResponse struct {
	Success bool         `json:"success"`
	User    *entity.User `json:"user"`
}

type lobbyResponse struct {
	Success bool          `json:"success"`
	Lobby   *entity.Lobby `json:"lobby,omitempty"`
}

type listResponse struct {
	Lobbies []entity.LobbySummary `json:"lobbies"`
}

func (that *Handlers) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

func (that *Handlers) Auth(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Auth")

	var req authRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}

	if req.InitData == "" {
		writeError(w, log, fmt.Errorf("%w: initData is required", apperror.ErrValidation))
		return
	}

	user, err := that.auth.Authenticate(r.Context(), req.InitData)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, userResponse{Success: true, User: user})
}

func (that *Handlers) CreateLobby(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "CreateLobby")

	user, req, err := that.resolveUser(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	lobby, err := that.lobbies.CreateLobby(r.Context(), *user, req.LobbyName)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true, Lobby: lobby})
}

func (that *Handlers) JoinLobby(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "JoinLobby")

	user, req, err := that.resolveUser(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	if req.LobbyID == "" {
		writeError(w, log, fmt.Errorf("%w: lobbyId is required", apperror.ErrValidation))
		return
	}

	lobby, err := that.lobbies.JoinLobby(r.Context(), *user, req.LobbyID)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true, Lobby: lobby})
}

func (that *Handlers) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "LeaveLobby")

	user, _, err := that.resolveUser(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	if err = that.lobbies.LeaveLobby(r.Context(), user.ID, chi.URLParam(r, "lobbyId")); err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true})
}

func (that *Handlers) StartGame(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "StartGame")

	user, _, err := that.resolveUser(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	lobby, err := that.lobbies.StartGame(r.Context(), user.ID, chi.URLParam(r, "lobbyId"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true, Lobby: lobby})
}

func (that *Handlers) Rematch(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Rematch")

	user, _, err := that.resolveUser(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	lobby, err := that.lobbies.Rematch(r.Context(), user.ID, chi.URLParam(r, "lobbyId"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true, Lobby: lobby})
}

func (that *Handlers) GetLobby(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "GetLobby")

	lobby, err := that.lobbies.GetLobby(r.Context(), chi.URLParam(r, "lobbyId"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, log, http.StatusOK, lobbyResponse{Success: true, Lobby: lobby})
}

func (that *Handlers) ListLobbies(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "ListLobbies")

	writeJSON(w, log, http.StatusOK, listResponse{Lobbies: that.lobbies.ListLobbies(r.Context())})
}

// LobbyQR - renders the join link of a lobby as a PNG.
func (that *Handlers) LobbyQR(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "LobbyQR")

	lobby, err := that.lobbies.GetLobby(r.Context(), chi.URLParam(r, "lobbyId"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	png, err := qrcode.Encode(that.joinLink(lobby.Code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, log, fmt.Errorf("failed to encode qr code: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)

	if _, err = w.Write(png); err != nil {
		log.Warn("failed to write response", "error", err)
	}
}

func (that *Handlers) joinLink(code string) string {
	if that.publicURL == "" {
		return code
	}

	return that.publicURL + "?lobby=" + url.QueryEscape(code)
}

// resolveUser - decodes the body and looks up the user that authenticated earlier.
func (that *Handlers) resolveUser(w http.ResponseWriter, r *http.Request) (*entity.User, *userRequest, error) {
	var req userRequest
	if err := decode(w, r, &req); err != nil {
		return nil, nil, err
	}

	user, err := that.auth.Resolve(r.Context(), req.UserID)
	if err != nil {
		return nil, nil, err
	}

	return user, &req, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", apperror.ErrValidation, err)
	}

	return nil
}
