package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const shutdownTimeout = 5 * time.Second

// NewRouter - builds the HTTP surface. The persistent connection endpoint is mounted at /ws.
// origins lists the browser origins allowed to call the API.
func NewRouter(handlers *Handlers, ws http.Handler, origins []string) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/ping", handlers.Ping)
	router.Post("/auth", handlers.Auth)

	router.Route("/lobby", func(r chi.Router) {
		r.Post("/create", handlers.CreateLobby)
		r.Post("/join", handlers.JoinLobby)
		r.Get("/list", handlers.ListLobbies)
		r.Get("/{lobbyId}", handlers.GetLobby)
		r.Get("/{lobbyId}/qr", handlers.LobbyQR)
		r.Post("/{lobbyId}/leave", handlers.LeaveLobby)
		r.Post("/{lobbyId}/start", handlers.StartGame)
		r.Post("/{lobbyId}/rematch", handlers.Rematch)
	})

	router.Handle("/ws", ws)

	return router
}

// Start - serves handler on port until ctx is done.
func Start(ctx context.Context, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}

	return nil
}
