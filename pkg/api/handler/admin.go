package handler

import (
	"net/http"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/api/response"
	"github.com/dskvich/gemini-telegram-bot/pkg/config"
)

type ConfigSource interface {
	Current() *config.Snapshot
}

type SessionCounter interface {
	Len() int
}

type admin struct {
	config    ConfigSource
	sessions  SessionCounter
	startedAt time.Time
	writer    response.JSONResponseWriter
}

func NewAdmin(cfg ConfigSource, sessions SessionCounter) *admin {
	return &admin{
		config:    cfg,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

func (a *admin) Health(w http.ResponseWriter, _ *http.Request) {
	a.writer.WriteSuccessResponse(w, map[string]any{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(a.startedAt).Seconds()),
		"active_sessions": a.sessions.Len(),
	})
}

// Config reports the effective configuration without prompt bodies.
func (a *admin) Config(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.config.Current()
	if snapshot == nil {
		a.writer.WriteErrorResponse(w, http.StatusServiceUnavailable, "configuration is not loaded")
		return
	}
	a.writer.WriteSuccessResponse(w, snapshot.View())
}
