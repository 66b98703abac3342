package auth

import (
	"log/slog"

	"github.com/dskvich/gemini-telegram-bot/pkg/config"
)

type ConfigSource interface {
	Current() *config.Snapshot
}

// authenticator checks users against the allow list of the current
// configuration snapshot, so edits to the file apply without a restart.
type authenticator struct {
	config ConfigSource
}

func NewAuthenticator(cfg ConfigSource) *authenticator {
	if s := cfg.Current(); s != nil {
		slog.Info("telegram authorized users loaded", "count", len(s.AllowedUsers))
	}

	return &authenticator{config: cfg}
}

func (a *authenticator) IsAuthorized(userID int64) bool {
	s := a.config.Current()
	if s == nil {
		return false
	}
	return s.IsAllowed(userID)
}
