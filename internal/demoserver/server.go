// Package demoserver is a self-contained exposure server for local use and
// tests. It serves a synthetic TVOC dataset behind bearer-token auth.
package demoserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fireshield/fsclient/internal/api"
	"github.com/fireshield/fsclient/internal/logging"
	"github.com/fireshield/fsclient/internal/model"
	"github.com/fireshield/fsclient/internal/security"
)

const (
	defaultHours     = 24
	defaultDays      = 7
	maxHours         = 24 * 31
	maxMinuteHours   = 24
	maxDays          = 90
	defaultTokenTTL  = 12 * time.Hour
	maxLoginBodySize = 16 << 10
)

type Options struct {
	Email       string
	Password    string
	DisplayName string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost     int
	TokenTTL       time.Duration
	AllowedOrigins []string
	Now            func() time.Time
	Logger         hclog.Logger
}

type user struct {
	id           string
	email        string
	displayName  string
	passwordHash []byte
}

type session struct {
	userID    string
	expiresAt time.Time
}

type Server struct {
	users          map[string]user
	tokenTTL       time.Duration
	allowedOrigins []string
	now            func() time.Time
	logger         hclog.Logger

	mu     sync.Mutex
	tokens map[string]session
}

func New(opts Options) (*Server, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || opts.Password == "" {
		return nil, errors.New("demo server requires an email and password")
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), cost)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(opts.DisplayName)
	if name == "" {
		name = "Demo Firefighter"
	}
	s := &Server{
		users: map[string]user{
			email: {id: uuid.NewString(), email: email, displayName: name, passwordHash: hash},
		},
		tokenTTL:       opts.TokenTTL,
		allowedOrigins: opts.AllowedOrigins,
		now:            opts.Now,
		logger:         logging.OrNull(opts.Logger).Named("demoserver"),
		tokens:         map[string]session{},
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultTokenTTL
	}
	if len(s.allowedOrigins) == 0 {
		s.allowedOrigins = []string{"*"}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Post("/auth/login", s.login)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/insights/report", s.report)
		r.Get("/series", s.series)
		r.Get("/series/daily", s.seriesDaily)
	})
	return r
}

// Revoke invalidates a token so the next request with it gets 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeAll signs every client out.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", r.Header.Get("X-Request-ID"),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, s.now(), http.StatusUnauthorized, "E_UNAUTHORIZED", "missing bearer token")
			return
		}
		now := s.now()
		s.mu.Lock()
		sess, found := s.tokens[token]
		if found && !now.Before(sess.expiresAt) {
			delete(s.tokens, token)
			found = false
		}
		s.mu.Unlock()
		if !found {
			s.logger.Debug("rejected token", "token", security.MaskToken(token))
			writeError(w, now, http.StatusUnauthorized, "E_UNAUTHORIZED", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{GeneratedAt: s.now().UTC(), Status: "ok"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize)).Decode(&req); err != nil {
		writeError(w, s.now(), http.StatusBadRequest, "E_BAD_REQUEST", "invalid login body")
		return
	}
	u, ok := s.users[strings.ToLower(strings.TrimSpace(req.Email))]
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeError(w, s.now(), http.StatusUnauthorized, "E_BAD_CREDENTIALS", "invalid email or password")
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = session{userID: u.id, expiresAt: s.now().Add(s.tokenTTL)}
	s.mu.Unlock()
	s.logger.Info("login", "user_id", u.id, "token", security.MaskToken(token))
	writeJSON(w, http.StatusOK, api.AuthResponse{
		Token:       token,
		UserID:      u.id,
		DisplayName: u.displayName,
		Email:       u.email,
	})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(w, r, s.now(), "hours", defaultHours, maxHours)
	if !ok {
		return
	}
	report, err := buildReport(s.now(), hours)
	if err != nil {
		writeError(w, s.now(), http.StatusInternalServerError, "E_INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(w, r, s.now(), "hours", defaultHours, maxHours)
	if !ok {
		return
	}
	bucket := model.NormalizeBucket(r.URL.Query().Get("bucket"))
	if bucket == model.BucketMinute && hours > maxMinuteHours {
		hours = maxMinuteHours
	}
	writeJSON(w, http.StatusOK, bucketed(s.now(), hours, bucket))
}

func (s *Server) seriesDaily(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, s.now(), "days", defaultDays, maxDays)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dailySeries(s.now(), days))
}

// intParam reads a positive integer query value. Missing or non-positive
// values fall back to def; values above limit are clamped.
func intParam(w http.ResponseWriter, r *http.Request, now time.Time, name string, def, limit int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, now, http.StatusBadRequest, "E_BAD_REQUEST", name+" must be an integer")
		return 0, false
	}
	if v <= 0 {
		return def, true
	}
	if v > limit {
		return limit, true
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, now time.Time, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{
		GeneratedAt: now.UTC(),
		Error:       api.APIError{Code: code, Message: message},
	})
}
