package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/reward"
	"github.com/lawnchairsociety/questengine/internal/store"
	"github.com/lawnchairsociety/questengine/internal/text"
)

const gatewayQuests = `
quests:
  rat_hunt:
    category: side
    giver_npc: guard
    objectives:
      - id: rats
        type: kill_mob
        mob: rat
        quantity: 2
    rewards:
      experience: 50
      items:
        - kind: rat_tail
          quantity: 1
`

// testFrame decodes both replies and notices.
type testFrame struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Op       string         `json:"op"`
	OK       bool           `json:"ok"`
	Error    *ErrorBody     `json:"error"`
	Progress []ProgressView `json:"progress"`
	Quests   []QuestView    `json:"quests"`
	Kind     string         `json:"kind"`
	Quest    quest.ID       `json:"quest"`
	Text     string         `json:"text"`
}

type gatewayHarness struct {
	engine  *progression.Engine
	gateway *Gateway
	server  *httptest.Server
	store   *store.Memory
	ledger  *reward.MemoryLedger
}

func newTestResolver(t *testing.T) *text.Resolver {
	t.Helper()
	r := text.New("en")
	if err := r.AddCatalog("en", map[string]string{
		"quest.rat_hunt.name":           "Rat Hunt",
		"quest.rat_hunt.description":    "The cellar is full of rats.",
		"quest.rat_hunt.objective.rats": "Kill rats ({0}/{1})",
		"notice.quest_started":          "Started {0}",
		"notice.objective_complete":     "{0}: {1}",
		"notice.quest_complete":         "Quest complete: {0}",
		"notice.reward_deferred":        "Some rewards for {0} were mailed",
	}); err != nil {
		t.Fatalf("AddCatalog(en) failed: %v", err)
	}
	if err := r.AddCatalog("de", map[string]string{
		"quest.rat_hunt.name": "Rattenjagd",
	}); err != nil {
		t.Fatalf("AddCatalog(de) failed: %v", err)
	}
	return r
}

func newGatewayHarness(t *testing.T, mutate func(cfg *config.Config)) *gatewayHarness {
	t.Helper()

	qc, err := quest.ParseQuestsYAML([]byte(gatewayQuests))
	if err != nil {
		t.Fatalf("ParseQuestsYAML failed: %v", err)
	}
	registry := quest.NewRegistry()
	if err := registry.LoadFromConfig(qc); err != nil {
		t.Fatalf("LoadFromConfig failed: %v", err)
	}

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	resolver := newTestResolver(t)
	hub := NewHub(registry, resolver)
	h := &gatewayHarness{
		store:  store.NewMemory(),
		ledger: reward.NewMemoryLedger(20),
	}
	h.engine = progression.New(registry, h.store, reward.NewGranter(h.ledger), progression.WithNotifier(hub))
	h.gateway = NewGateway(cfg, h.engine, hub, resolver)
	h.server = httptest.NewServer(h.gateway.Handler())

	t.Cleanup(func() {
		h.gateway.Shutdown()
		h.server.Close()
		h.engine.Close(context.Background())
	})
	return h
}

func (h *gatewayHarness) dial(query url.Values, header http.Header) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return websocket.DefaultDialer.Dial(u, header)
}

func (h *gatewayHarness) connect(t *testing.T, playerID string) *websocket.Conn {
	t.Helper()
	conn, _, err := h.dial(url.Values{"player": {playerID}}, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// A round trip proves the session is open and the hub knows the client.
	send(t, conn, Request{ID: "hello", Op: OpProgress})
	if r := readFrame(t, conn); r.ID != "hello" || !r.OK {
		t.Fatalf("handshake round trip failed: %+v", r)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, req Request) {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f testFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return f
}

func expectNotice(t *testing.T, conn *websocket.Conn, kind, text string) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != FrameNotice || f.Kind != kind {
		t.Fatalf("expected %s notice, got %+v", kind, f)
	}
	if f.Text != text {
		t.Errorf("%s notice text = %q, want %q", kind, f.Text, text)
	}
}

func expectReply(t *testing.T, conn *websocket.Conn, op string) testFrame {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != FrameReply || f.Op != op {
		t.Fatalf("expected %s reply, got %+v", op, f)
	}
	return f
}

func TestGateway_QuestFlow(t *testing.T) {
	h := newGatewayHarness(t, nil)
	conn := h.connect(t, "p1")

	send(t, conn, Request{ID: "1", Op: OpStart, Quest: "rat_hunt"})
	expectNotice(t, conn, "quest_started", "Started Rat Hunt")
	if r := expectReply(t, conn, OpStart); !r.OK || r.ID != "1" {
		t.Fatalf("start failed: %+v", r)
	}

	kill := quest.Kill("rat")
	send(t, conn, Request{Op: OpEvent, Event: &kill})
	if r := expectReply(t, conn, OpEvent); !r.OK {
		t.Fatalf("first kill failed: %+v", r)
	}

	send(t, conn, Request{Op: OpEvent, Event: &kill})
	expectNotice(t, conn, "objective_complete", "Rat Hunt: Kill rats (2/2)")

	// The reward is granted in the background, so the completion notice
	// may follow the reply.
	var replied, completed bool
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		switch {
		case f.Type == FrameReply && f.Op == OpEvent:
			replied = true
		case f.Type == FrameNotice && f.Kind == "quest_complete":
			completed = true
			if f.Text != "Quest complete: Rat Hunt" {
				t.Errorf("quest_complete notice text = %q", f.Text)
			}
		default:
			t.Fatalf("unexpected frame: %+v", f)
		}
	}
	if !replied || !completed {
		t.Fatalf("expected the event reply and a quest_complete notice, replied=%v completed=%v", replied, completed)
	}

	send(t, conn, Request{Op: OpProgress})
	r := expectReply(t, conn, OpProgress)
	if len(r.Progress) != 1 {
		t.Fatalf("expected one progress record, got %+v", r.Progress)
	}
	p := r.Progress[0]
	if p.Status != quest.StatusCompleted || p.Percent != 100 || p.Reward != quest.RewardGranted {
		t.Errorf("unexpected progress view: %+v", p)
	}
	if len(p.Objectives) != 1 || p.Objectives[0].Text != "Kill rats (2/2)" {
		t.Errorf("unexpected objective view: %+v", p.Objectives)
	}

	if b := h.ledger.Balance("p1"); b.Experience != 50 || b.Items["rat_tail"] != 1 {
		t.Errorf("reward not granted: %+v", b)
	}
}

func TestGateway_ErrorReplies(t *testing.T) {
	h := newGatewayHarness(t, nil)
	conn := h.connect(t, "p1")

	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"unknown quest", Request{Op: OpStart, Quest: "nope"}, string(quest.CodeUnknownQuest)},
		{"abandon not started", Request{Op: OpAbandon, Quest: "rat_hunt"}, string(quest.CodeNotInProgress)},
		{"event without payload", Request{Op: OpEvent}, "bad_request"},
		{"unknown op", Request{Op: "dance"}, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.req)
			r := readFrame(t, conn)
			if r.OK || r.Error == nil || r.Error.Code != tt.code {
				t.Errorf("expected error %s, got %+v", tt.code, r)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		r := readFrame(t, conn)
		if r.Error == nil || r.Error.Code != "bad_request" {
			t.Errorf("expected bad_request, got %+v", r)
		}
	})

	t.Run("blank messages are skipped", func(t *testing.T) {
		conn.WriteMessage(websocket.TextMessage, []byte("   \n"))
		send(t, conn, Request{ID: "after-blank", Op: OpEligible, Quest: "rat_hunt"})
		r := readFrame(t, conn)
		if r.ID != "after-blank" || !r.OK {
			t.Errorf("expected eligible reply after blank message, got %+v", r)
		}
	})
}

func TestGateway_LocalizedNotices(t *testing.T) {
	h := newGatewayHarness(t, nil)

	conn, _, err := h.dial(url.Values{"player": {"p1"}}, http.Header{"Accept-Language": {"de-DE,de;q=0.9"}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	send(t, conn, Request{Op: OpAvailable})
	r := expectReply(t, conn, OpAvailable)
	if len(r.Quests) != 1 || r.Quests[0].Name != "Rattenjagd" {
		t.Fatalf("expected German quest name, got %+v", r.Quests)
	}
	if r.Quests[0].Description != "The cellar is full of rats." {
		t.Errorf("missing German description should fall back to English, got %q", r.Quests[0].Description)
	}

	send(t, conn, Request{Op: OpStart, Quest: "rat_hunt"})
	expectNotice(t, conn, "quest_started", "Started Rattenjagd")
}

func TestGateway_NoticesReachEveryConnection(t *testing.T) {
	h := newGatewayHarness(t, nil)
	first := h.connect(t, "p1")
	second := h.connect(t, "p1")
	other := h.connect(t, "p2")

	send(t, first, Request{Op: OpStart, Quest: "rat_hunt"})
	expectNotice(t, first, "quest_started", "Started Rat Hunt")
	expectReply(t, first, OpStart)
	expectNotice(t, second, "quest_started", "Started Rat Hunt")

	// p2 sees only its own reply
	send(t, other, Request{ID: "x", Op: OpEligible, Quest: "rat_hunt"})
	if r := readFrame(t, other); r.Type != FrameReply || r.ID != "x" {
		t.Errorf("other player received a foreign frame: %+v", r)
	}
}

func TestGateway_SessionClosedOnLastDisconnect(t *testing.T) {
	h := newGatewayHarness(t, nil)
	first := h.connect(t, "p1")
	second := h.connect(t, "p1")

	send(t, first, Request{Op: OpStart, Quest: "rat_hunt"})
	expectNotice(t, first, "quest_started", "Started Rat Hunt")
	expectReply(t, first, OpStart)

	first.Close()
	waitFor(t, func() bool { return h.gateway.conns.PlayerCount("p1") == 1 })
	if h.engine.Online() != 1 {
		t.Fatalf("session should stay open while a connection remains")
	}

	second.Close()
	waitFor(t, func() bool { return h.engine.Online() == 0 })

	records, err := h.store.Load(context.Background(), "p1")
	if err != nil || len(records) != 1 || records[0].Status != quest.StatusInProgress {
		t.Errorf("progress should be flushed on close, got %v %v", records, err)
	}
}

func TestGateway_JWTAuthentication(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = "test-secret"
		cfg.Auth.Issuer = "questd"
	})

	token, err := h.gateway.Authenticator().IssueToken("p1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	conn, _, err := h.dial(nil, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	conn.Close()

	conn, _, err = h.dial(url.Values{"token": {token}}, nil)
	if err != nil {
		t.Fatalf("dial with query token failed: %v", err)
	}
	conn.Close()

	// The dev parameter is ignored once a secret is set
	_, resp, err := h.dial(url.Values{"player": {"p1"}}, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %v", resp)
	}
}

func TestGateway_AuthLockout(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = "test-secret"
		cfg.RateLimit.MaxFailures = 2
		cfg.RateLimit.Lockout = time.Minute
	})

	bad := http.Header{"Authorization": {"Bearer not-a-token"}}
	for i := 0; i < 2; i++ {
		_, resp, _ := h.dial(nil, bad)
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %v", i+1, resp)
		}
	}

	token, _ := h.gateway.Authenticator().IssueToken("p1", time.Hour)
	_, resp, err := h.dial(nil, http.Header{"Authorization": {"Bearer " + token}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("locked out address should get 429 even with a valid token, got %v", resp)
	}
	if resp != nil && resp.Header.Get("Retry-After") == "" {
		t.Error("lockout response should carry Retry-After")
	}
}

func TestGateway_ConnectionLimits(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.Connections.MaxPerPlayer = 1
	})
	h.connect(t, "p1")

	_, resp, err := h.dial(url.Values{"player": {"p1"}}, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second socket for p1 should be refused, got %v", resp)
	}
	h.connect(t, "p2")
}

func TestGateway_ForwardedAddressLimit(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.Connections.MaxPerIP = 1
	})
	forwarded := func(ip string) http.Header {
		return http.Header{"X-Forwarded-For": {ip + ", 10.0.0.1"}}
	}

	conn, _, err := h.dial(url.Values{"player": {"p1"}}, forwarded("203.0.113.50"))
	if err != nil {
		t.Fatalf("first connection from 203.0.113.50 refused: %v", err)
	}
	defer conn.Close()
	send(t, conn, Request{ID: "hello", Op: OpProgress})
	expectReply(t, conn, OpProgress)

	_, resp, err := h.dial(url.Values{"player": {"p2"}}, forwarded("203.0.113.50"))
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second connection from the same forwarded address should be refused, got %v", resp)
	}

	// Same proxy, different client.
	other, _, err := h.dial(url.Values{"player": {"p3"}}, forwarded("198.51.100.25"))
	if err != nil {
		t.Fatalf("connection from 198.51.100.25 refused: %v", err)
	}
	other.Close()
}

func TestGateway_Throttle(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.Throttle.MaxRequests = 3
		cfg.Throttle.Window = time.Hour
	})
	conn := h.connect(t, "p1")

	// The handshake round trip used one slot.
	for i := 0; i < 2; i++ {
		send(t, conn, Request{Op: OpProgress})
		if f := expectReply(t, conn, OpProgress); !f.OK {
			t.Fatalf("request %d refused: %+v", i+1, f.Error)
		}
	}

	send(t, conn, Request{ID: "x", Op: OpProgress})
	f := expectReply(t, conn, OpProgress)
	if f.OK || f.Error == nil || f.Error.Code != "rate_limited" || f.ID != "x" {
		t.Errorf("expected rate_limited reply, got %+v", f)
	}

	// Other connections have their own budget.
	other := h.connect(t, "p2")
	send(t, other, Request{Op: OpProgress})
	if f := expectReply(t, other, OpProgress); !f.OK {
		t.Errorf("second connection throttled: %+v", f.Error)
	}
}

func TestGateway_OriginCheck(t *testing.T) {
	h := newGatewayHarness(t, func(cfg *config.Config) {
		cfg.WebSocket.AllowedOrigins = []string{"https://game.example"}
	})

	_, resp, err := h.dial(url.Values{"player": {"p1"}}, http.Header{"Origin": {"https://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin should be refused, got %v", resp)
	}
	if stats := h.gateway.conns.Stats(); stats.Total != 0 {
		t.Errorf("refused upgrade must release its slot, stats %+v", stats)
	}

	conn, _, err := h.dial(url.Values{"player": {"p1"}}, http.Header{"Origin": {"https://game.example"}})
	if err != nil {
		t.Fatalf("allowed origin should connect: %v", err)
	}
	conn.Close()
}

func TestGateway_Health(t *testing.T) {
	h := newGatewayHarness(t, nil)
	h.connect(t, "p1")
	waitFor(t, func() bool { return h.engine.Online() == 1 })

	resp, err := http.Get(h.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body["status"] != "ok" || body["online"] != float64(1) || body["connections"] != float64(1) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
