package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"botdeck/internal/metrics"
	"botdeck/internal/ratelimit"
	"botdeck/internal/storage"
)

var (
	ErrPlatformMismatch = errors.New("bot is registered for a different platform")
	ErrRateLimited      = errors.New("webhook rate limit exceeded")
)

// The response side of the log row is a stamped placeholder carried over from
// the source system: response_time holds a fixed per-platform constant, not a
// measured latency. The storage shape is preserved; the semantics are
// documented rather than silently reinterpreted.
const autoResponsePlaceholder = "Auto-response placeholder"

var placeholderResponseMs = map[string]int64{
	storage.PlatformTelegram:  100,
	storage.PlatformWhatsApp:  150,
	storage.PlatformInstagram: 200,
}

type Ingestor struct {
	store   *storage.Store
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Config struct {
	Store   *storage.Store
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func New(cfg Config) *Ingestor {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Ingestor{
		store:   cfg.Store,
		limiter: cfg.Limiter,
		metrics: m,
		logger:  cfg.Logger,
	}
}

// Result reports what one webhook delivery produced.
type Result struct {
	Logged  int
	Skipped int
}

// Ingest validates the delivery against the bot record, extracts message
// units for the platform, and appends one log row per unit in a single
// transaction. Redelivery is not deduplicated: the same payload delivered
// twice produces duplicate rows.
func (i *Ingestor) Ingest(ctx context.Context, platform string, botID int64, payload []byte) (Result, error) {
	if !storage.ValidPlatform(platform) {
		i.metrics.WebhooksRejected.WithLabelValues(platform, "unknown_platform").Inc()
		return Result{}, fmt.Errorf("%w: platform %q", ErrMalformedPayload, platform)
	}
	i.metrics.WebhooksReceived.WithLabelValues(platform).Inc()

	bot, err := i.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			i.metrics.WebhooksRejected.WithLabelValues(platform, "bot_not_found").Inc()
		}
		return Result{}, err
	}
	if bot.Platform != platform {
		i.metrics.WebhooksRejected.WithLabelValues(platform, "platform_mismatch").Inc()
		return Result{}, fmt.Errorf("bot %d is %q: %w", botID, bot.Platform, ErrPlatformMismatch)
	}

	if i.limiter != nil {
		allowed, used, resetAt, err := i.limiter.Allow(ctx, botID, time.Now())
		if err != nil {
			return Result{}, err
		}
		if !allowed {
			i.metrics.WebhooksRejected.WithLabelValues(platform, "rate_limited").Inc()
			i.logger.Warn().
				Int64("bot_id", botID).
				Int64("used", used).
				Time("reset_at", resetAt).
				Msg("webhook delivery rate limited")
			return Result{}, ErrRateLimited
		}
	}

	var units []Unit
	var skipped int
	switch platform {
	case storage.PlatformTelegram:
		units, skipped, err = parseTelegram(payload)
	case storage.PlatformWhatsApp:
		units, skipped, err = parseWhatsApp(payload)
	case storage.PlatformInstagram:
		units, skipped, err = parseInstagram(payload)
	}
	if err != nil {
		i.metrics.WebhooksRejected.WithLabelValues(platform, "malformed").Inc()
		return Result{}, err
	}
	if skipped > 0 {
		i.metrics.UnitsSkipped.WithLabelValues(platform).Add(float64(skipped))
		i.logger.Warn().
			Int64("bot_id", botID).
			Str("platform", platform).
			Int("skipped", skipped).
			Msg("skipped malformed webhook units")
	}
	if len(units) == 0 {
		return Result{Skipped: skipped}, nil
	}

	respText := autoResponsePlaceholder
	respMs := placeholderResponseMs[platform]
	logs := make([]storage.MessageLog, 0, len(units))
	for _, u := range units {
		logs = append(logs, storage.MessageLog{
			BotID:          botID,
			Platform:       platform,
			MessageID:      &u.MessageID,
			SenderID:       &u.SenderID,
			MessageText:    u.Text,
			ResponseText:   &respText,
			ResponseTimeMs: &respMs,
			IsAutoResponse: true,
		})
	}
	if err := i.store.InsertMessageLogs(ctx, logs); err != nil {
		return Result{}, err
	}
	i.metrics.MessagesLogged.WithLabelValues(platform).Add(float64(len(logs)))
	return Result{Logged: len(logs), Skipped: skipped}, nil
}
