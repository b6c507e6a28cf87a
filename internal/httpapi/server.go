// Package httpapi exposes the dashboard REST surface and the per-bot
// webhook endpoints.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"botdeck/internal/auth"
	"botdeck/internal/crypto"
	"botdeck/internal/files"
	"botdeck/internal/ingest"
	"botdeck/internal/stats"
	"botdeck/internal/storage"
	"botdeck/internal/telegram"
)

type Server struct {
	store     *storage.Store
	sessions  *auth.Sessions
	keyring   *crypto.Keyring
	ingestor  *ingest.Ingestor
	stats     *stats.Service
	uploads   *files.Store
	registrar *telegram.Registrar
	validate  *validator.Validate
	logger    zerolog.Logger
}

type Config struct {
	Store    *storage.Store
	Sessions *auth.Sessions
	Keyring  *crypto.Keyring
	Ingestor *ingest.Ingestor
	Stats    *stats.Service
	Uploads  *files.Store
	// Registrar is optional; when nil, telegram webhook registration with
	// the Bot API is skipped entirely.
	Registrar *telegram.Registrar
	Logger    zerolog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		keyring:   cfg.Keyring,
		ingestor:  cfg.Ingestor,
		stats:     cfg.Stats,
		uploads:   cfg.Uploads,
		registrar: cfg.Registrar,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    cfg.Logger,
	}
}

// Register wires every route onto the mux. Health and metrics endpoints are
// the caller's concern.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.requireAuth(s.handleLogout))

	mux.HandleFunc("GET /user", s.requireAuth(s.handleGetUser))

	mux.HandleFunc("GET /bots", s.requireAuth(s.handleListBots))
	mux.HandleFunc("POST /bots", s.requireAuth(s.handleCreateBot))
	mux.HandleFunc("PUT /bots/{id}", s.requireAuth(s.handleUpdateBot))
	mux.HandleFunc("DELETE /bots/{id}", s.requireAuth(s.handleDeleteBot))

	mux.HandleFunc("GET /knowledge-files", s.requireAuth(s.handleListFiles))
	mux.HandleFunc("POST /knowledge-files", s.requireAuth(s.handleUploadFile))
	mux.HandleFunc("DELETE /knowledge-files/{id}", s.requireAuth(s.handleDeleteFile))

	mux.HandleFunc("GET /stats", s.requireAuth(s.handleStats))
	mux.HandleFunc("GET /recent-activity", s.requireAuth(s.handleRecentActivity))

	mux.HandleFunc("POST /webhooks/telegram/{botID}", s.webhookHandler(storage.PlatformTelegram))
	mux.HandleFunc("POST /webhooks/whatsapp/{botID}", s.webhookHandler(storage.PlatformWhatsApp))
	mux.HandleFunc("POST /webhooks/instagram/{botID}", s.webhookHandler(storage.PlatformInstagram))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, err := s.sessions.Resolve(r.Context(), token)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequestf("invalid %s", name)
	}
	return id, nil
}

func (s *Server) decryptToken(b storage.Bot) string {
	if b.EncToken == nil || s.keyring == nil {
		return ""
	}
	token, err := s.keyring.Open(*b.EncToken)
	if err != nil {
		s.logger.Error().Err(err).Int64("bot_id", b.ID).Msg("failed to open sealed bot token")
		return ""
	}
	return token
}
