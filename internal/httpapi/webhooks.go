package httpapi

import (
	"io"
	"net/http"

	"botdeck/internal/storage"
)

const maxWebhookBody = 1 << 20

// webhookHandler ingests one platform delivery. The HTTP layer acknowledges
// every well-formed delivery with 200 even when it produced no rows (a
// telegram update without a message, an empty whatsapp batch); only
// malformed envelopes, unknown bots, and rate limiting are rejected.
func (s *Server) webhookHandler(platform string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID, err := pathID(r, "botID")
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			s.respondError(w, r, badRequestf("failed to read body: %v", err))
			return
		}

		res, err := s.ingestor.Ingest(r.Context(), platform, botID, body)
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		s.logger.Debug().
			Str("platform", platform).
			Int64("bot_id", botID).
			Int("logged", res.Logged).
			Int("skipped", res.Skipped).
			Msg("webhook processed")

		// Response bodies mirror what each platform's delivery agent expects.
		if platform == storage.PlatformTelegram {
			s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}
