// Package stats computes per-user dashboard figures from the message log.
// Everything here is derived on read; there are no maintained rollups to
// keep in sync with ingestion.
package stats

import (
	"context"
	"math"

	"botdeck/internal/storage"
)

const recentActivityLimit = 20

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Summary struct {
	TotalMessages int64 `json:"totalMessages"`
	ActiveBots    int64 `json:"activeBots"`
	AvgResponseMs int64 `json:"avgResponseTime"`
}

// Summary recomputes the user's counters from current table contents.
// A user with no bots short-circuits to the zero value.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	botIDs, err := s.store.UserBotIDs(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	if len(botIDs) == 0 {
		return Summary{}, nil
	}

	total, err := s.store.CountMessagesForBots(ctx, botIDs)
	if err != nil {
		return Summary{}, err
	}
	active, err := s.store.CountActiveBots(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	avg, err := s.store.AvgResponseMs(ctx, botIDs)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		TotalMessages: total,
		ActiveBots:    active,
		AvgResponseMs: int64(math.Round(avg)),
	}, nil
}

// Recent returns up to 20 log entries across all of the user's bots, newest
// first. The merge is a single globally ordered query rather than a per-bot
// pre-limited fetch, so one very active bot cannot crowd out genuinely
// recent entries from its siblings.
func (s *Service) Recent(ctx context.Context, userID string) ([]storage.MessageLog, error) {
	botIDs, err := s.store.UserBotIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.RecentMessageLogs(ctx, botIDs, recentActivityLimit)
}
