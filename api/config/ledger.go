package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/givestake/ledger/ledger/pkg/types"
)

// LedgerConfig holds the ledger deployment parameters.
type LedgerConfig struct {
	Authority types.Address
	Treasury  types.Address

	// CustodyURL points at the asset custody service. Empty selects the
	// in-process bank, which only makes sense for local development.
	CustodyURL string

	MinStake            int64
	FeeBps              int64
	RewardShareBps      int64
	DeclarationWindow   time.Duration
	DeclarationTimeout  time.Duration
	FinalizeGracePeriod time.Duration

	AllowedOrigins []string

	SlackBotToken string
	SlackChannel  string
}

// LoadLedgerConfigFromEnv reads the ledger configuration from LEDGER_* env vars.
func LoadLedgerConfigFromEnv() (LedgerConfig, error) {
	cfg := LedgerConfig{
		CustodyURL:    os.Getenv("LEDGER_CUSTODY_URL"),
		SlackBotToken: os.Getenv("LEDGER_SLACK_BOT_TOKEN"),
		SlackChannel:  os.Getenv("LEDGER_SLACK_CHANNEL"),
	}

	authority, err := types.ParseAddress(os.Getenv("LEDGER_AUTHORITY_ADDRESS"))
	if err != nil {
		return cfg, fmt.Errorf("LEDGER_AUTHORITY_ADDRESS is invalid: %w", err)
	}
	cfg.Authority = authority

	treasury, err := types.ParseAddress(os.Getenv("LEDGER_TREASURY_ADDRESS"))
	if err != nil {
		return cfg, fmt.Errorf("LEDGER_TREASURY_ADDRESS is invalid: %w", err)
	}
	cfg.Treasury = treasury

	if cfg.MinStake, err = int64Env("LEDGER_MIN_STAKE", 0); err != nil {
		return cfg, err
	}
	if cfg.FeeBps, err = int64Env("LEDGER_FEE_BPS", 0); err != nil {
		return cfg, err
	}
	if cfg.RewardShareBps, err = int64Env("LEDGER_REWARD_SHARE_BPS", 0); err != nil {
		return cfg, err
	}
	if cfg.DeclarationWindow, err = durationEnv("LEDGER_DECLARATION_WINDOW"); err != nil {
		return cfg, err
	}
	if cfg.DeclarationTimeout, err = durationEnv("LEDGER_DECLARATION_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.FinalizeGracePeriod, err = durationEnv("LEDGER_FINALIZE_GRACE_PERIOD"); err != nil {
		return cfg, err
	}

	if origins := os.Getenv("LEDGER_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	return cfg, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is invalid: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is invalid: %w", key, err)
	}
	return v, nil
}
