// Package httpadmin serves the operator surface: population inspection,
// spawn and remove, and relayed agent commands. Every handler is a thin
// wrapper over the authority's request API, so a wedged loop surfaces as
// 503 instead of a hung connection.
package httpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mobsim.dev/internal/coord"
	"mobsim.dev/internal/metrics"
	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
)

// maxBody caps request documents. Spawn definitions are small; anything
// bigger is a mistake or an attack.
const maxBody = 64 << 10

type Server struct {
	auth *coord.Authority
	log  *log.Logger
}

func NewServer(auth *coord.Authority, logger *log.Logger) *Server {
	return &Server{auth: auth, log: logger}
}

// Router builds the admin mux. It starts nothing; callers mount it on
// whatever http.Server they run.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"}, // dev default, same stance as the ws upgrader
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/agents", s.handleAgents)
		r.Post("/agents", s.handleSpawn)
		r.Delete("/agents/{id}", s.handleRemove)
		r.Post("/agents/{id}/jump", s.handleJump)
		r.Post("/agents/{id}/move", s.handleMove)
	})
	return r
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Status(r.Context())
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func (s *Server) handleAgents(rw http.ResponseWriter, r *http.Request) {
	states, err := s.auth.Agents(r.Context())
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		Count  int                   `json:"count"`
		Agents []protocol.AgentState `json:"agents"`
	}{len(states), states})
}

func (s *Server) handleSpawn(rw http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBody))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	def, err := agent.ParseDefinition(raw)
	if err != nil {
		s.log.Printf("spawn rejected: %v", err)
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.auth.SpawnAgent(r.Context(), def)
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, st)
}

func (s *Server) handleRemove(rw http.ResponseWriter, r *http.Request) {
	if err := s.auth.RemoveAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleJump(rw http.ResponseWriter, r *http.Request) {
	if err := s.auth.CommandJump(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMove(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Dest *[3]float64 `json:"dest"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBody)).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if body.Dest == nil {
		writeError(rw, http.StatusBadRequest, "missing dest")
		return
	}
	dest := geo.Vec3{X: body.Dest[0], Y: body.Dest[1], Z: body.Dest[2]}
	if err := s.auth.CommandMove(r.Context(), chi.URLParam(r, "id"), dest); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

// statusFor maps loop errors onto HTTP codes. The loop reports plain
// strings, so unknown agents are matched by prefix.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(err.Error(), "unknown agent"):
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
