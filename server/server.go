package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"VKMBot/config"
	"VKMBot/logger"
)

const shutdownTimeout = 5 * time.Second

// Server is the bot's HTTP front end.
type Server struct {
	hub  *Hub
	http *http.Server
}

// New builds the router. Select requests stay open for the whole download,
// so the write timeout follows the retrieval budget.
func New(cfg *config.Config, p Pipeline, q QuotaReporter, hub *Hub) *Server {
	h := NewAPIHandler(p, q, hub)
	authed := AuthMiddleware([]byte(cfg.JWTSecret))

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/search", authed(h.SearchHandler)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/select", authed(h.SelectHandler)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/quota", authed(h.QuotaHandler)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/ws", authed(h.WebSocketHandler)).Methods(http.MethodGet)

	attempts := time.Duration(cfg.DownloadRetries + 1)
	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:         cfg.BotAddr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: attempts*(cfg.DownloadTimeout+cfg.RetryBackoff) + time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] listening", logger.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] stopped")
	return nil
}
