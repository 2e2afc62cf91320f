package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/clock"
	"noctis-guard/internal/commandsync"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/settings"
)

const secretHeader = "x-dashboard-secret"

type CommandQueue interface {
	QueueUpdate(ctx context.Context, guildID string, disabled []string) error
	Trigger()
	Pending(ctx context.Context) (map[string]commandsync.Entry, error)
}

type Giveaways interface {
	Create(ctx context.Context, p giveaway.Params) (giveaway.Giveaway, error)
	End(ctx context.Context, id string) (giveaway.Giveaway, error)
	Reroll(ctx context.Context, id string) ([]string, error)
	Get(id string) (giveaway.Giveaway, bool)
	ListForGuild(guildID string) []giveaway.Giveaway
	Defaults(guildID string) giveaway.Defaults
	SetDefaults(ctx context.Context, guildID string, d giveaway.Defaults) error
}

type Server struct {
	secret    string
	mux       *http.ServeMux
	settings  *settings.Store
	queue     CommandQueue
	giveaways Giveaways
	activity  *ActivityLog
	auth      *Auth
	clock     clock.Clock
	logger    *zap.Logger
}

func New(secret string, store *settings.Store, queue CommandQueue, giveaways Giveaways, activity *ActivityLog, auth *Auth, clk clock.Clock, logger *zap.Logger) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Server{
		secret:    secret,
		mux:       http.NewServeMux(),
		settings:  store,
		queue:     queue,
		giveaways: giveaways,
		activity:  activity,
		auth:      auth,
		clock:     clk,
		logger:    logger.Named("webhook"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.requireSecret(s.handleWebhook))
	s.mux.HandleFunc("GET /webhook/plugin-state/{guildId}", s.requireSecret(s.handlePluginState))
	s.mux.HandleFunc("GET /webhook/activity/{guildId}", s.requireSecret(s.handleActivity))
	s.mux.HandleFunc("GET /webhook/pending-commands", s.requireSecret(s.handlePending))
	if s.auth != nil {
		s.mux.HandleFunc("GET /auth/login", s.auth.handleLogin)
		s.mux.HandleFunc("GET /auth/callback", s.auth.handleCallback)
		s.mux.HandleFunc("GET /auth/me", s.auth.handleMe)
	}
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.clock.Now().UTC().Format(time.RFC3339)})
}

type webhookRequest struct {
	Type       string          `json:"type"`
	GuildID    string          `json:"guildId"`
	Plugins    map[string]bool `json:"plugins,omitempty"`
	Plugin     string          `json:"plugin,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Action     string          `json:"action,omitempty"`
	GiveawayID string          `json:"giveawayId,omitempty"`
	Data       giveawayData    `json:"data"`
}

type giveawayData struct {
	ChannelID   string `json:"channelId"`
	Prize       string `json:"prize"`
	DurationMs  int64  `json:"durationMs"`
	WinnerCount int    `json:"winnerCount"`
	HostID      string `json:"hostId"`
	RequireRole string `json:"requireRole"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}

	switch req.Type {
	case "plugin_update":
		s.pluginUpdate(w, r, req)
	case "plugin_config":
		s.pluginConfig(w, r, req)
	case "giveaway_action":
		s.giveawayAction(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "unknown type")
	}
}

func (s *Server) pluginUpdate(w http.ResponseWriter, r *http.Request, req webhookRequest) {
	ctx := r.Context()
	if len(req.Plugins) == 0 {
		writeError(w, http.StatusBadRequest, "plugins are required")
		return
	}
	before := s.settings.Get(req.GuildID)
	g, err := s.settings.SetPlugins(ctx, req.GuildID, req.Plugins)
	if err != nil {
		s.logger.Error("persist plugin state", zap.String("guild_id", req.GuildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save plugin state")
		return
	}

	names := make([]string, 0, len(req.Plugins))
	for name := range req.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	now := s.clock.Now()
	for _, name := range names {
		enabled := req.Plugins[name]
		if before.PluginEnabled(name) == enabled {
			continue
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		s.activity.Add(ctx, req.GuildID, "plugin", fmt.Sprintf("Plugin %s %s", name, state), now)
	}

	if err := s.queue.QueueUpdate(ctx, req.GuildID, g.Disabled); err != nil {
		s.logger.Error("queue command update", zap.String("guild_id", req.GuildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not queue command update")
		return
	}
	s.queue.Trigger()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plugins": g.Plugins, "disabledCommands": nonNil(g.Disabled)})
}

type greetingConfig struct {
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

func (s *Server) pluginConfig(w http.ResponseWriter, r *http.Request, req webhookRequest) {
	ctx := r.Context()
	switch req.Plugin {
	case "giveaways":
		var d giveaway.Defaults
		if err := json.Unmarshal(req.Config, &d); err != nil {
			writeError(w, http.StatusBadRequest, "invalid giveaway config")
			return
		}
		if err := s.giveaways.SetDefaults(ctx, req.GuildID, d); err != nil {
			s.logger.Error("persist giveaway defaults", zap.String("guild_id", req.GuildID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not save config")
			return
		}
	case "welcome", "bye":
		var cfg greetingConfig
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid greeting config")
			return
		}
		_, err := s.settings.Update(ctx, req.GuildID, func(g *settings.Guild) {
			greeting := settings.Greeting{ChannelID: cfg.ChannelID, Message: cfg.Message}
			if req.Plugin == "welcome" {
				g.Welcome = greeting
			} else {
				g.Bye = greeting
			}
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not save config")
			return
		}
	case "automod":
		var cfg settings.AutomodSettings
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid automod config")
			return
		}
		if _, err := s.settings.Update(ctx, req.GuildID, func(g *settings.Guild) { g.Automod = cfg }); err != nil {
			writeError(w, http.StatusInternalServerError, "could not save config")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown plugin")
		return
	}
	s.activity.Add(ctx, req.GuildID, "config", fmt.Sprintf("Updated %s settings", req.Plugin), s.clock.Now())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) giveawayAction(w http.ResponseWriter, r *http.Request, req webhookRequest) {
	ctx := r.Context()
	if req.Action == "list" {
		list := s.giveaways.ListForGuild(req.GuildID)
		if list == nil {
			list = []giveaway.Giveaway{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "giveaways": list})
		return
	}
	if req.Action == "create" {
		params := s.giveaways.Defaults(req.GuildID).Apply(giveaway.Params{
			GuildID:     req.GuildID,
			ChannelID:   req.Data.ChannelID,
			Prize:       req.Data.Prize,
			Duration:    time.Duration(req.Data.DurationMs) * time.Millisecond,
			WinnerCount: req.Data.WinnerCount,
			HostID:      req.Data.HostID,
			RequireRole: req.Data.RequireRole,
		})
		g, err := s.giveaways.Create(ctx, params)
		if err != nil {
			writeGiveawayError(w, err)
			return
		}
		s.activity.Add(ctx, req.GuildID, "giveaway", fmt.Sprintf("Giveaway created: %s", g.Prize), s.clock.Now())
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "giveaway": g})
		return
	}

	existing, ok := s.giveaways.Get(req.GiveawayID)
	if !ok || existing.GuildID != req.GuildID {
		writeError(w, http.StatusNotFound, "giveaway not found")
		return
	}
	switch req.Action {
	case "end":
		g, err := s.giveaways.End(ctx, req.GiveawayID)
		if err != nil {
			writeGiveawayError(w, err)
			return
		}
		s.activity.Add(ctx, req.GuildID, "giveaway", fmt.Sprintf("Giveaway ended: %s", g.Prize), s.clock.Now())
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "giveaway": g})
	case "reroll":
		winners, err := s.giveaways.Reroll(ctx, req.GiveawayID)
		if err != nil {
			writeGiveawayError(w, err)
			return
		}
		s.activity.Add(ctx, req.GuildID, "giveaway", fmt.Sprintf("Giveaway rerolled: %s", existing.Prize), s.clock.Now())
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "winners": winners})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handlePluginState(w http.ResponseWriter, r *http.Request) {
	g := s.settings.Get(r.PathValue("guildId"))
	writeJSON(w, http.StatusOK, map[string]any{"guildId": g.GuildID, "plugins": g.Plugins, "disabledCommands": nonNil(g.Disabled)})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"activity": s.activity.List(r.PathValue("guildId"))})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func writeGiveawayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, giveaway.ErrInvalid):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), giveaway.ErrInvalid.Error()+"\n"))
	case errors.Is(err, giveaway.ErrNotFound):
		writeError(w, http.StatusNotFound, "giveaway not found")
	case errors.Is(err, giveaway.ErrNotPosted):
		writeError(w, http.StatusConflict, "giveaway announcement was never posted")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
