package web

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/relaydesk/taskrelay/internal/coordinator"
	"github.com/relaydesk/taskrelay/internal/store"
	"log"
	"net/http"
	"time"
)

const (
	DefaultPageSize = 15
	shutdownTimeout = 10 * time.Second
)

type HttpRouteHandler struct {
	service        *coordinator.Service
	users          store.UserStore
	secretKey      string
	allowedOrigins []string
	pageSize       int
	Port           uint
}

func NewRouteHandler(
	service *coordinator.Service,
	users store.UserStore,
	secretKey string,
	allowedOrigins []string,
	pageSize int,
	port uint,
) *HttpRouteHandler {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &HttpRouteHandler{
		service:        service,
		users:          users,
		secretKey:      secretKey,
		allowedOrigins: allowedOrigins,
		pageSize:       pageSize,
		Port:           port,
	}
}

// Router builds the full route tree: the bearer-authenticated worker API and the
// cookie-authenticated dashboard API.
func (handler *HttpRouteHandler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api/worker", func(r chi.Router) {
		r.Use(handler.workerAuth)
		r.Post("/poll", handler.handlePoll)
		r.Post("/heartbeat", handler.handleHeartbeat)
		r.Post("/tasks/{id}/report", handler.handleReport)
		r.Post("/tasks/{id}/actions", handler.handleActions)
	})

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   handler.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Post("/register", handler.handleRegister)
		r.Post("/login", handler.handleLogin)
		r.Post("/logout", handler.handleLogout)

		r.Route("/api", func(r chi.Router) {
			r.Use(handler.dashboardAuth)
			r.Post("/jobs", handler.handleSubmitJob)
			r.Get("/jobs", handler.handleListJobs)
			r.Get("/jobs/{id}", handler.handleJobStatus)
			r.Post("/jobs/{id}/decisions", handler.handleDecision)
			r.Post("/jobs/{id}/requeue", handler.handleRequeue)
			r.Get("/stats", handler.handleStats)
			r.Get("/workers", handler.handleWorkers)
			r.Get("/workers/{id}", handler.handleWorker)
		})
	})

	return r
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", handler.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Printf("web: shutting down %s", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
