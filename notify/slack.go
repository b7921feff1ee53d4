// Package notify posts settlement announcements to Slack. Notifications are
// best-effort: a failed post is logged and dropped, never surfaced to the
// ledger operation that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	slackmdgo "github.com/snormore/slackmd/slackgo"

	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/settlement"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// Notifier receives settlement announcements.
type Notifier interface {
	NotifyFinalized(ctx context.Context, ch *challenge.Challenge, result *settlement.FinalizeResult)
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	Logger  *slog.Logger
	Token   string
	Channel string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Token == "" {
		return errors.New("slack bot token is required")
	}
	if cfg.Channel == "" {
		return errors.New("slack channel is required")
	}
	return nil
}

// Slack posts settlement messages to a single channel.
type Slack struct {
	log     *slog.Logger
	api     *slack.Client
	channel string
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Slack{
		log:     cfg.Logger,
		api:     slack.New(cfg.Token),
		channel: cfg.Channel,
	}, nil
}

// NotifyFinalized announces a finalized challenge.
func (s *Slack) NotifyFinalized(ctx context.Context, ch *challenge.Challenge, result *settlement.FinalizeResult) {
	text := fmt.Sprintf(
		"*Challenge %d settled*\n"+
			"Recipient `%s` received *%s* (donations %s, fee %s).\n"+
			"%d of %d participants declared; reward pot %s.",
		ch.ID,
		ch.Recipient,
		formatAmount(result.NetDonation),
		formatAmount(result.TotalDonation),
		formatAmount(result.Fee),
		ch.DeclaredParticipants,
		ch.ParticipantCount,
		formatAmount(result.TokenPot),
	)

	_, err := slackmdgo.Post(ctx, s.api, s.channel, text, slackmdgo.WithRetry(nil))
	if err != nil {
		s.log.Warn("notify/slack: failed to post settlement message", "challenge_id", ch.ID, "error", err)
		return
	}
	s.log.Debug("notify/slack: settlement message posted", "challenge_id", ch.ID)
}

// formatAmount renders a base-unit amount with the asset's decimal point.
func formatAmount(amount int64) string {
	whole := amount / types.OneUnit
	frac := amount % types.OneUnit
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%06d", whole, frac)
}
