package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/clock"
	"noctis-guard/internal/commandsync"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/gateway/gatewaytest"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/settings"
	"noctis-guard/internal/storage"
)

type stubQueue struct {
	mu       sync.Mutex
	queued   map[string][]string
	triggers int
}

func (q *stubQueue) QueueUpdate(ctx context.Context, guildID string, disabled []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued[guildID] = disabled
	return nil
}

func (q *stubQueue) Trigger() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.triggers++
}

func (q *stubQueue) Pending(ctx context.Context) (map[string]commandsync.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]commandsync.Entry, len(q.queued))
	for id, disabled := range q.queued {
		out[id] = commandsync.Entry{DisabledCommands: disabled}
	}
	return out, nil
}

type fixture struct {
	server    *httptest.Server
	queue     *stubQueue
	settings  *settings.Store
	giveaways *giveaway.Manager
	gateway   *gatewaytest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := storage.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	gw := gatewaytest.New()

	store := settings.New(backend, zap.NewNop())
	_ = store.Load(ctx)
	giveaways := giveaway.New(backend, gw, zap.NewNop(), giveaway.WithClock(clk))
	if err := giveaways.Start(ctx); err != nil {
		t.Fatalf("start giveaways: %v", err)
	}
	activity := NewActivityLog(backend, 200, zap.NewNop())
	_ = activity.Load(ctx)
	queue := &stubQueue{queued: make(map[string][]string)}

	srv := New("s3cret", store, queue, giveaways, activity, nil, clk, zap.NewNop())
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return &fixture{server: httpSrv, queue: queue, settings: store, giveaways: giveaways, gateway: gw}
}

func (f *fixture) do(t *testing.T, method, path, body string, secret bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if secret {
		req.Header.Set(secretHeader, "s3cret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestWebhookRequiresSecret(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/webhook", `{"type":"plugin_update","guildId":"g1","plugins":{"leveling":false}}`, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/health", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", resp.StatusCode)
	}
}

func TestPluginUpdateQueuesAndTriggers(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/webhook", `{"type":"plugin_update","guildId":"g1","plugins":{"leveling":false,"giveaways":true}}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if got := f.queue.queued["g1"]; len(got) != 1 || got[0] != "leveling" {
		t.Fatalf("expected leveling queued as disabled, got %v", got)
	}
	if f.queue.triggers != 1 {
		t.Fatalf("expected a drain trigger")
	}
	if f.settings.IsEnabled("g1", "leveling") {
		t.Fatalf("expected plugin state persisted")
	}

	_, state := f.do(t, http.MethodGet, "/webhook/plugin-state/g1", "", true)
	if disabled, _ := state["disabledCommands"].([]any); len(disabled) != 1 {
		t.Fatalf("unexpected plugin state %v", state)
	}
	_, activity := f.do(t, http.MethodGet, "/webhook/activity/g1", "", true)
	if entries, _ := activity["activity"].([]any); len(entries) != 1 {
		t.Fatalf("expected one activity entry for the changed plugin, got %v", activity)
	}
	_, pending := f.do(t, http.MethodGet, "/webhook/pending-commands", "", true)
	if p, _ := pending["pending"].(map[string]any); len(p) != 1 {
		t.Fatalf("expected pending entry, got %v", pending)
	}
}

func TestGiveawayActions(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/webhook",
		`{"type":"giveaway_action","guildId":"g1","action":"create","data":{"channelId":"c1","prize":"Nitro","durationMs":60000,"winnerCount":1,"hostId":"h"}}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	created, _ := body["giveaway"].(map[string]any)
	id, _ := created["id"].(string)
	messageID, _ := created["messageId"].(string)
	f.gateway.SetReactions(messageID, gateway.User{ID: "u1"})

	_, list := f.do(t, http.MethodPost, "/webhook", `{"type":"giveaway_action","guildId":"g1","action":"list"}`, true)
	if items, _ := list["giveaways"].([]any); len(items) != 1 {
		t.Fatalf("expected one giveaway listed, got %v", list)
	}

	resp, _ = f.do(t, http.MethodPost, "/webhook", `{"type":"giveaway_action","guildId":"other","action":"end","giveawayId":"`+id+`"}`, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-guild end must be rejected, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/webhook", `{"type":"giveaway_action","guildId":"g1","action":"end","giveawayId":"`+id+`"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end: %d", resp.StatusCode)
	}
	g, _ := f.giveaways.Get(id)
	if !g.Ended || len(g.Winners) != 1 {
		t.Fatalf("expected ended with a winner, got %+v", g)
	}

	_, reroll := f.do(t, http.MethodPost, "/webhook", `{"type":"giveaway_action","guildId":"g1","action":"reroll","giveawayId":"`+id+`"}`, true)
	if winners, _ := reroll["winners"].([]any); len(winners) != 1 {
		t.Fatalf("expected reroll winners, got %v", reroll)
	}

	resp, _ = f.do(t, http.MethodPost, "/webhook",
		`{"type":"giveaway_action","guildId":"g1","action":"create","data":{"channelId":"c1","prize":"Bad","durationMs":60000,"winnerCount":0}}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", resp.StatusCode)
	}
}

func TestPluginConfig(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/webhook", `{"type":"plugin_config","guildId":"g1","plugin":"welcome","config":{"channelId":"c5","message":"hi {user}"}}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("welcome config: %d", resp.StatusCode)
	}
	if got := f.settings.Get("g1").Welcome; got.ChannelID != "c5" || got.Message != "hi {user}" {
		t.Fatalf("unexpected welcome config %+v", got)
	}

	resp, _ = f.do(t, http.MethodPost, "/webhook", `{"type":"plugin_config","guildId":"g1","plugin":"giveaways","config":{"winnerCount":3}}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("giveaway config: %d", resp.StatusCode)
	}
	if f.giveaways.Defaults("g1").WinnerCount != 3 {
		t.Fatalf("expected giveaway defaults saved")
	}

	resp, _ = f.do(t, http.MethodPost, "/webhook", `{"type":"plugin_config","guildId":"g1","plugin":"nope","config":{}}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown plugin rejected, got %d", resp.StatusCode)
	}
}

func TestActivityRetention(t *testing.T) {
	backend, _ := storage.NewFile(t.TempDir(), zap.NewNop())
	log := NewActivityLog(backend, 3, zap.NewNop())
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		log.Add(context.Background(), "g1", "plugin", "entry", now.Add(time.Duration(i)*time.Second))
	}
	entries := log.List("g1")
	if len(entries) != 3 || entries[0].Timestamp != now.Add(4*time.Second).UnixMilli() {
		t.Fatalf("expected newest three entries, got %+v", entries)
	}
}
