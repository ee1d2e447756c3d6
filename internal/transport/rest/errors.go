package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrInvalidCredential), errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrLobbyNotFound), errors.Is(err, apperror.ErrNotInLobby):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrLobbyFull),
		errors.Is(err, apperror.ErrNotReady),
		errors.Is(err, apperror.ErrGameInProgress),
		errors.Is(err, apperror.ErrGameOver),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrCellOccupied),
		errors.Is(err, apperror.ErrOutOfBounds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusOf(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
		message = "internal error"
	} else {
		log.Info("request rejected", "error", err)
	}

	writeJSON(w, log, status, errorResponse{
		Success: false,
		Error:   message,
		Code:    apperror.Code(err),
	})
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to write response", "error", err)
	}
}
