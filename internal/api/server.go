// The API server: routes are set up with chi and linked to the handler
// functions.

package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shenoy37/voicenotes/internal/core"
	"github.com/Shenoy37/voicenotes/internal/store"
)

// Server holds the dependencies for the API.
type Server struct {
	app   *core.App
	db    *sql.DB
	store *store.Store
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		db:    app.DB(),
		store: app.Store(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// No global timeout middleware: the event stream endpoints hold their
	// connections open for the lifetime of a job.

	r.Post("/api/users/login", s.handleLogin)
	r.Get("/api/version", s.handleGetVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Post("/api/users/logout", s.handleLogout)
		r.Get("/api/users/me", s.handleGetMe)

		r.Route("/api", func(r chi.Router) {
			// Notes
			r.Post("/notes", s.handleCreateNote)
			r.Get("/notes", s.handleListNotes)
			r.Get("/notes/{noteID}", s.handleGetNote)
			r.Put("/notes/{noteID}", s.handleUpdateNote)
			r.Delete("/notes/{noteID}", s.handleDeleteNote)

			// Note tagging
			r.Post("/notes/{noteID}/tags", s.handleAddTagToNote)
			r.Delete("/notes/{noteID}/tags/{tagID}", s.handleRemoveTagFromNote)
			r.Get("/tags", s.handleListTags)

			// Transcription
			r.Post("/notes/{noteID}/transcribe", s.handleTranscribeNote)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Get("/jobs/{jobID}/events", s.handleJobEvents)
			r.Get("/events", s.handleUserEvents)

			// Admin
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.AdminOnlyMiddleware)

				r.Get("/worker", s.handleGetWorker)
				r.Patch("/worker", s.handlePatchWorker)
				r.Delete("/worker", s.handleStopWorker)

				r.Get("/jobs/status", s.handleGetAdminJobsStatus)
				r.Post("/jobs/run", s.handleRunAdminJob)
			})
		})
	})

	// Admin status WebSocket. The session cookie is validated before the
	// upgrade, same as any other admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Use(s.AdminOnlyMiddleware)
		r.Get("/ws/admin/status", func(w http.ResponseWriter, r *http.Request) {
			s.app.WsHub().ServeWs(w, r)
		})
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(); err != nil {
			RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
			return
		}
		RespondWithJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"worker": s.app.Worker().Status().State,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	return r
}
