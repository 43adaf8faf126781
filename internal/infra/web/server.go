package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-image-generation/internal/config"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/usecase"
)

// Server is the HTTP surface of the generation core. The bot front-end calls
// the /api/v1 routes with the shared internal key or a signed Telegram
// initData payload; the admin dashboard authenticates with a JWT session.
type Server struct {
	submissionUC usecase.SubmissionUseCase
	queryUC      usecase.GenerationQueryUseCase
	poller       usecase.Poller
	broadcastUC  usecase.BroadcastUseCase
	ledgerUC     usecase.LedgerUseCase
	statsUC      usecase.StatsUseCase
	userUC       usecase.UserUseCase
	catalog      repository.ModelCatalogRepository

	auth        *AuthManager
	internalKey string
	adminKey    string
	botToken    string
	log         *zerolog.Logger
}

func NewServer(
	submissionUC usecase.SubmissionUseCase,
	queryUC usecase.GenerationQueryUseCase,
	poller usecase.Poller,
	broadcastUC usecase.BroadcastUseCase,
	ledgerUC usecase.LedgerUseCase,
	statsUC usecase.StatsUseCase,
	userUC usecase.UserUseCase,
	catalog repository.ModelCatalogRepository,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		submissionUC: submissionUC,
		queryUC:      queryUC,
		poller:       poller,
		broadcastUC:  broadcastUC,
		ledgerUC:     ledgerUC,
		statsUC:      statsUC,
		userUC:       userUC,
		catalog:      catalog,
		auth:         NewAuthManager(cfg.API.JWTSecret, !cfg.Runtime.Dev, "", cfg.API.SessionTTL),
		internalKey:  cfg.API.InternalKey,
		adminKey:     cfg.API.AdminKey,
		botToken:     cfg.Bot.Token,
		log:          &l,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.botAuth)
			r.Get("/models", s.handleListModels)
			r.Route("/generations", func(r chi.Router) {
				r.Post("/submit", s.handleSubmit)
				r.Get("/active", s.handleActive)
				r.Get("/{id}", s.handleGetRequest)
				r.Post("/{id}/refresh", s.handleRefresh)
				r.Get("/{id}/results", s.handleResults)
			})
		})

		r.Post("/admin/login", s.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Post("/admin/logout", s.handleAdminLogout)
			r.Get("/admin/stats", s.handleStats)
			r.Post("/admin/credits", s.handleAdminCredits)
			r.Route("/admin/broadcasts", func(r chi.Router) {
				r.Post("/", s.handleBroadcastCreate)
				r.Get("/", s.handleBroadcastList)
				r.Get("/{id}", s.handleBroadcastGet)
				r.Post("/{id}/start", s.handleBroadcastStart)
				r.Post("/{id}/cancel", s.handleBroadcastCancel)
			})
		})
	})
	return r
}

type ctxKey int

const tgIDKey ctxKey = iota

// botAuth admits requests carrying either the internal shared key or a valid
// Telegram initData signature. With initData the authenticated telegram id is
// stashed in the context and wins over any id in the payload.
func (s *Server) botAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checkInternalKey(r, s.internalKey) {
			next.ServeHTTP(w, r)
			return
		}
		if initData := r.Header.Get("X-Telegram-Init-Data"); initData != "" {
			tgID, err := ValidateInitData(initData, s.botToken)
			if err == nil {
				ctx := context.WithValue(r.Context(), tgIDKey, tgID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			s.log.Warn().Err(err).Msg("init data rejected")
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func authedTelegramID(ctx context.Context) int64 {
	id, _ := ctx.Value(tgIDKey).(int64)
	return id
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
