package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"botdeck/internal/storage"
)

type botCreateRequest struct {
	Platform   string         `json:"platform" validate:"required,oneof=telegram whatsapp instagram"`
	Name       string         `json:"name" validate:"required,max=120"`
	Token      *string        `json:"token" validate:"omitempty,max=512"`
	WebhookURL *string        `json:"webhookUrl" validate:"omitempty,url"`
	IsActive   bool           `json:"isActive"`
	Config     map[string]any `json:"config"`
}

type botUpdateRequest struct {
	Platform   *string        `json:"platform" validate:"omitempty,oneof=telegram whatsapp instagram"`
	Name       *string        `json:"name" validate:"omitempty,max=120"`
	Token      *string        `json:"token" validate:"omitempty,max=512"`
	WebhookURL *string        `json:"webhookUrl" validate:"omitempty,url"`
	IsActive   *bool          `json:"isActive"`
	Config     map[string]any `json:"config"`
}

// botResponse never echoes the credential token back; it is write-only.
type botResponse struct {
	ID         int64           `json:"id"`
	UserID     string          `json:"userId"`
	Platform   string          `json:"platform"`
	Name       string          `json:"name"`
	HasToken   bool            `json:"hasToken"`
	WebhookURL *string         `json:"webhookUrl"`
	IsActive   bool            `json:"isActive"`
	Config     json.RawMessage `json:"config"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func toBotResponse(b storage.Bot) botResponse {
	cfg := b.ConfigJSON
	if cfg == "" {
		cfg = "{}"
	}
	return botResponse{
		ID:         b.ID,
		UserID:     b.UserID,
		Platform:   b.Platform,
		Name:       b.Name,
		HasToken:   b.EncToken != nil,
		WebhookURL: b.WebhookURL,
		IsActive:   b.IsActive,
		Config:     json.RawMessage(cfg),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request, userID string) {
	bots, err := s.store.ListBots(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]botResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, toBotResponse(b))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request, userID string) {
	var req botCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	b := storage.Bot{
		UserID:     userID,
		Platform:   req.Platform,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
		IsActive:   req.IsActive,
	}
	if req.Config != nil {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			s.respondError(w, r, badRequestf("invalid config: %v", err))
			return
		}
		b.ConfigJSON = string(raw)
	}
	if req.Token != nil && *req.Token != "" {
		sealed, err := s.keyring.Seal(*req.Token)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		b.EncToken = &sealed
	}

	id, err := s.store.CreateBot(r.Context(), b)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if b.Platform == storage.PlatformTelegram && b.IsActive && req.Token != nil {
		s.registerTelegramWebhook(r, userID, id, *req.Token)
	}

	created, err := s.store.GetUserBot(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBotResponse(created))
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req botUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	prev, err := s.store.GetUserBot(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	upd := storage.BotUpdate{
		Name:       req.Name,
		Platform:   req.Platform,
		WebhookURL: req.WebhookURL,
		IsActive:   req.IsActive,
	}
	if req.Config != nil {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			s.respondError(w, r, badRequestf("invalid config: %v", err))
			return
		}
		cfg := string(raw)
		upd.ConfigJSON = &cfg
	}
	if req.Token != nil && *req.Token != "" {
		sealed, err := s.keyring.Seal(*req.Token)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		upd.EncToken = &sealed
	}

	updated, err := s.store.UpdateBot(r.Context(), userID, id, upd)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if updated.Platform == storage.PlatformTelegram {
		switch {
		case updated.IsActive && !prev.IsActive:
			if token := s.tokenFor(updated, req.Token); token != "" {
				s.registerTelegramWebhook(r, userID, id, token)
			}
		case !updated.IsActive && prev.IsActive:
			s.unregisterTelegramWebhook(updated)
		}
	}

	s.respondJSON(w, http.StatusOK, toBotResponse(updated))
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	bot, err := s.store.GetUserBot(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.DeleteBot(r.Context(), userID, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	if bot.Platform == storage.PlatformTelegram && bot.IsActive {
		s.unregisterTelegramWebhook(bot)
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) tokenFor(b storage.Bot, fresh *string) string {
	if fresh != nil && *fresh != "" {
		return *fresh
	}
	return s.decryptToken(b)
}

// registerTelegramWebhook points the platform at this service. Best-effort:
// a Bot API failure is logged and the stored webhook URL left alone, but the
// CRUD request that triggered it still succeeds.
func (s *Server) registerTelegramWebhook(r *http.Request, userID string, botID int64, token string) {
	if s.registrar == nil {
		return
	}
	url, err := s.registrar.Register(botID, token)
	if err != nil {
		s.logger.Error().Err(err).Int64("bot_id", botID).Msg("telegram webhook registration failed")
		return
	}
	if _, err := s.store.UpdateBot(r.Context(), userID, botID, storage.BotUpdate{WebhookURL: &url}); err != nil {
		s.logger.Error().Err(err).Int64("bot_id", botID).Msg("failed to record registered webhook url")
		return
	}
	s.logger.Info().Int64("bot_id", botID).Str("url", url).Msg("telegram webhook registered")
}

func (s *Server) unregisterTelegramWebhook(b storage.Bot) {
	if s.registrar == nil {
		return
	}
	token := s.decryptToken(b)
	if token == "" {
		return
	}
	if err := s.registrar.Unregister(token); err != nil {
		s.logger.Error().Err(err).Int64("bot_id", b.ID).Msg("telegram webhook unregistration failed")
		return
	}
	s.logger.Info().Int64("bot_id", b.ID).Msg("telegram webhook removed")
}
