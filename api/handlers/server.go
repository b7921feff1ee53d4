// Package handlers exposes the ledger engines over HTTP. Mutating endpoints
// take the caller address from the request body; the deployment fronts this
// service with a gateway that authenticates callers and forwards only their
// own address.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/givestake/ledger/api/metrics"
	"github.com/givestake/ledger/ledger/pkg/accountant"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/declaration"
	"github.com/givestake/ledger/ledger/pkg/participation"
	"github.com/givestake/ledger/ledger/pkg/settlement"
)

// SettlementNotifier receives best-effort announcements of finalized
// challenges.
type SettlementNotifier interface {
	NotifyFinalized(ctx context.Context, ch *challenge.Challenge, result *settlement.FinalizeResult)
}

// VersionInfo identifies the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// ServerConfig wires the engines into the HTTP server.
type ServerConfig struct {
	Logger         *slog.Logger
	Store          *challenge.Store
	Participation  *participation.Manager
	Declaration    *declaration.Engine
	Settlement     *settlement.Engine
	Accountant     *accountant.Accountant
	Notifier       SettlementNotifier // optional
	Version        VersionInfo
	AllowedOrigins []string
	MutationRate   *RateLimiter // defaults to 60 mutations/minute per IP, burst 10
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("challenge store is required")
	}
	if cfg.Participation == nil {
		return errors.New("participation manager is required")
	}
	if cfg.Declaration == nil {
		return errors.New("declaration engine is required")
	}
	if cfg.Settlement == nil {
		return errors.New("settlement engine is required")
	}
	if cfg.Accountant == nil {
		return errors.New("accountant is required")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.MutationRate == nil {
		cfg.MutationRate = NewRateLimiter(rate.Every(time.Minute/60), 10)
	}
	return nil
}

// Server routes HTTP requests to the ledger engines.
type Server struct {
	log           *slog.Logger
	store         *challenge.Store
	participation *participation.Manager
	declaration   *declaration.Engine
	settlement    *settlement.Engine
	accountant    *accountant.Accountant
	notifier      SettlementNotifier
	version       VersionInfo
	router        chi.Router
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:           cfg.Logger,
		store:         cfg.Store,
		participation: cfg.Participation,
		declaration:   cfg.Declaration,
		settlement:    cfg.Settlement,
		accountant:    cfg.Accountant,
		notifier:      cfg.Notifier,
		version:       cfg.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.GetHealthz)
	r.Get("/version", s.GetVersion)

	r.Route("/api", func(r chi.Router) {
		r.Get("/challenges", s.GetChallenges)
		r.Get("/challenges/{challengeID}", s.GetChallenge)
		r.Get("/challenges/{challengeID}/participants", s.GetParticipants)
		r.Get("/challenges/{challengeID}/participants/{address}", s.GetParticipant)
		r.Get("/fees", s.GetFees)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.MutationRate))
			r.Post("/challenges", s.PostChallenge)
			r.Post("/challenges/{challengeID}/join", s.PostJoin)
			r.Post("/challenges/{challengeID}/declare", s.PostDeclare)
			r.Post("/challenges/{challengeID}/finalize", s.PostFinalize)
			r.Post("/challenges/{challengeID}/claim", s.PostClaim)
			r.Post("/challenges/{challengeID}/claim-timeout", s.PostClaimTimeout)
			r.Post("/fees/withdraw", s.PostWithdrawFees)
		})
	})

	s.router = r
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// GetHealthz handles GET /healthz
func (s *Server) GetHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("handlers: failed to write healthz response", "error", err)
	}
}

// GetVersion handles GET /version
func (s *Server) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}
