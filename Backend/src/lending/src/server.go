package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Server is the HTTP API. Routing uses the gateway mux so the same process
// can later mount generated gRPC handlers next to these paths.
type Server struct {
	accounts *AccountService
	catalog  *CatalogService
	lendings *ReservationService
	ping     func(context.Context) error
	log      zerolog.Logger
	handler  http.Handler
}

type route struct {
	method  string
	pattern string
	h       runtime.HandlerFunc
}

func NewServer(accounts *AccountService, catalog *CatalogService, lendings *ReservationService, ping func(context.Context) error, corsOrigins []string, log zerolog.Logger) (*Server, error) {
	s := &Server{accounts: accounts, catalog: catalog, lendings: lendings, ping: ping, log: log.With().Str("component", "http").Logger()}

	mux := runtime.NewServeMux()
	routes := []route{
		{"GET", "/health_check", s.handleHealth},

		{"POST", "/register", s.handleRegister},
		{"POST", "/login", s.handleLogin},
		{"GET", "/me", s.handleMe},
		{"GET", "/user", s.handleListUsers},
		{"GET", "/user/{userId}", s.handleGetUser},
		{"PUT", "/user/{userId}", s.handleUpdateUser},
		{"DELETE", "/user/{userId}", s.handleDeleteUser},
		{"PATCH", "/user/{userId}/password", s.handleChangePassword},
		{"PATCH", "/user/{userId}/role", s.handleChangeRole},

		{"GET", "/gun", s.handleListGuns},
		{"POST", "/gun", s.handleCreateGun},
		{"GET", "/gun/{gunId}", s.handleGetGun},
		{"PUT", "/gun/{gunId}", s.handleUpdateGun},
		{"DELETE", "/gun/{gunId}", s.handleDeleteGun},
		{"PATCH", "/gun/{gunId}/amount", s.handleSetGunAmount},

		{"GET", "/ammo", s.handleListAmmo},
		{"POST", "/ammo", s.handleCreateAmmo},
		{"GET", "/ammo/{ammoId}", s.handleGetAmmo},
		{"PUT", "/ammo/{ammoId}", s.handleUpdateAmmo},
		{"DELETE", "/ammo/{ammoId}", s.handleDeleteAmmo},

		{"GET", "/lending", s.handleListLendings},
		{"POST", "/lending", s.handleCreateLending},
		{"GET", "/lending/{userId}", s.handleGetLending},
		{"PUT", "/lending/{userId}", s.handleAmendLending},
		{"DELETE", "/lending/{userId}", s.handleCancelLending},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Authorization", "UserRole", "X-Request-Id"},
	})
	s.handler = s.accessLog(c.Handler(mux))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

// caller resolves the bearer token on every request; nothing is cached on the request.
func (s *Server) caller(r *http.Request) CallerContext {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return Anonymous()
	}
	return s.accounts.Resolve(r.Context(), strings.TrimSpace(tok))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInsufficientPermissions):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInventoryExhausted), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrEmailTaken), errors.Is(err, ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyLent), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// referenceStatus is used on create and amend: a missing gun, ammo or user
// in the request body is a bad request, a missing lending is still 404.
func referenceStatus(err error) int {
	var nf NotFoundError
	if errors.As(err, &nf) && nf.Kind != "lending" {
		return http.StatusBadRequest
	}
	return statusFor(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		s.log.Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	switch {
	case errors.Is(err, ErrInsufficientPermissions):
		msg = "Insufficient permissions"
	case errors.Is(err, ErrUnauthenticated):
		msg = "Not logged in"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, err error) { s.writeError(w, statusFor(err), err) }

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Accounts

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	u, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Authorization", "Bearer "+res.Token)
	w.Header().Set("UserRole", res.Role.String())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	u, err := s.accounts.Me(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	users, err := s.accounts.List(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, p map[string]string) {
	u, err := s.accounts.Get(r.Context(), s.caller(r), p["userId"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req UpdateUserRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	u, err := s.accounts.Update(r.Context(), s.caller(r), p["userId"], req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if err := s.accounts.Delete(r.Context(), s.caller(r), p["userId"]); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.accounts.ChangePassword(r.Context(), s.caller(r), p["userId"], req.Password); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	u, err := s.accounts.ChangeRole(r.Context(), s.caller(r), p["userId"], req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Catalog

func (s *Server) handleListGuns(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	guns, err := s.catalog.ListGuns(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guns)
}

func (s *Server) handleGetGun(w http.ResponseWriter, r *http.Request, p map[string]string) {
	g, err := s.catalog.GetGun(r.Context(), s.caller(r), p["gunId"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleCreateGun(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var g Gun
	if err := decode(r, &g); err != nil {
		s.fail(w, err)
		return
	}
	g, err := s.catalog.CreateGun(r.Context(), s.caller(r), g)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateGun(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var g Gun
	if err := decode(r, &g); err != nil {
		s.fail(w, err)
		return
	}
	g, err := s.catalog.UpdateGun(r.Context(), s.caller(r), p["gunId"], g)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGun(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if err := s.catalog.DeleteGun(r.Context(), s.caller(r), p["gunId"]); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetGunAmount(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req struct {
		Amount *int `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Amount == nil {
		s.fail(w, fmt.Errorf("%w: amount is required", ErrInvalidArgument))
		return
	}
	g, err := s.catalog.SetGunAmount(r.Context(), s.caller(r), p["gunId"], *req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListAmmo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ammo, err := s.catalog.ListAmmo(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ammo)
}

func (s *Server) handleGetAmmo(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a, err := s.catalog.GetAmmo(r.Context(), s.caller(r), p["ammoId"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateAmmo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var a Ammo
	if err := decode(r, &a); err != nil {
		s.fail(w, err)
		return
	}
	a, err := s.catalog.CreateAmmo(r.Context(), s.caller(r), a)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAmmo(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var a Ammo
	if err := decode(r, &a); err != nil {
		s.fail(w, err)
		return
	}
	a, err := s.catalog.UpdateAmmo(r.Context(), s.caller(r), p["ammoId"], a)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAmmo(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if err := s.catalog.DeleteAmmo(r.Context(), s.caller(r), p["ammoId"]); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Lendings

func lendingKeyFrom(r *http.Request, p map[string]string) LendingKey {
	q := r.URL.Query()
	return LendingKey{UserID: p["userId"], GunID: q.Get("gun"), AmmoID: q.Get("ammo")}
}

func (s *Server) handleListLendings(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	out, err := s.lendings.List(r.Context(), s.caller(r), LendingFilter{GunID: q.Get("gun"), AmmoID: q.Get("ammo")})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLending(w http.ResponseWriter, r *http.Request, p map[string]string) {
	l, err := s.lendings.Get(r.Context(), s.caller(r), lendingKeyFrom(r, p))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleCreateLending(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req LendingRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	l, err := s.lendings.Create(r.Context(), s.caller(r), req)
	if err != nil {
		s.writeError(w, referenceStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleAmendLending(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req AmendRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	l, err := s.lendings.Amend(r.Context(), s.caller(r), lendingKeyFrom(r, p), req)
	if err != nil {
		s.writeError(w, referenceStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleCancelLending(w http.ResponseWriter, r *http.Request, p map[string]string) {
	l, err := s.lendings.Cancel(r.Context(), s.caller(r), lendingKeyFrom(r, p))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
