// Package server exposes the quest engine to game clients over WebSocket.
// Clients authenticate during the handshake, send JSON requests and receive
// replies plus localized notices for their own player.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/text"
	"github.com/lawnchairsociety/questengine/internal/throttle"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
	pruneInterval   = 5 * time.Minute
)

// Engine is the part of the progression engine the gateway drives.
type Engine interface {
	OpenSession(ctx context.Context, playerID string) error
	CloseSession(ctx context.Context, playerID string) error
	StartQuest(ctx context.Context, playerID string, questID quest.ID) error
	AbandonQuest(ctx context.Context, playerID string, questID quest.ID) error
	OnEvent(ctx context.Context, playerID string, ev quest.Event) error
	Progress(ctx context.Context, playerID string) ([]*quest.Progress, error)
	Eligibility(ctx context.Context, playerID string, questID quest.ID) error
	Available(ctx context.Context, playerID string) ([]*quest.Definition, error)
	Online() int
	PendingWrites() int
}

var _ Engine = (*progression.Engine)(nil)

// Gateway serves the WebSocket endpoint and a health check.
type Gateway struct {
	cfg      *config.Config
	engine   Engine
	hub      *Hub
	text     *text.Resolver
	auth     *Authenticator
	conns    *ConnLimiter
	failures *AuthLimiter
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewGateway creates a gateway. Notices reach clients only if hub is also
// registered as the engine's notifier.
func NewGateway(cfg *config.Config, engine Engine, hub *Hub, resolver *text.Resolver) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		engine:   engine,
		hub:      hub,
		text:     resolver,
		auth:     NewAuthenticator(cfg.Auth),
		conns:    NewConnLimiter(cfg.Connections),
		failures: NewAuthLimiter(cfg.RateLimit),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := cfg.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}
	if !g.auth.Enabled() {
		logger.Warning("Gateway authentication disabled, trusting player query parameter")
	}
	return g
}

// Authenticator returns the gateway's authenticator.
func (g *Gateway) Authenticator() *Authenticator { return g.auth }

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	mux.HandleFunc("/healthz", g.handleHealth)
	return mux
}

// ListenAndServe serves on the configured address until ctx is done, then
// disconnects every client and waits for their sessions to close.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.WebSocket.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go g.pruneLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	g.Shutdown()
	return err
}

// Shutdown disconnects every client and waits for their handlers to finish.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll()
	g.wg.Wait()
}

func (g *Gateway) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.failures.Prune(10 * time.Minute)
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := g.conns.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"online":         g.engine.Online(),
		"connections":    stats.Total,
		"pending_writes": g.engine.PendingWrites(),
	})
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := getRealIP(r)

	if locked, remaining := g.failures.Locked(clientIP); locked {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(remaining.Seconds())+1))
		http.Error(w, "Too many failed attempts. Please try again later.", http.StatusTooManyRequests)
		return
	}

	playerID, err := g.auth.Authenticate(r)
	if err != nil {
		locked, lockout := g.failures.Fail(clientIP)
		logger.Warning("Gateway authentication failed",
			"client_ip", clientIP,
			"error", err,
			"locked", locked,
			"lockout", lockout)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	g.failures.Succeed(clientIP)

	if err := g.conns.Acquire(clientIP, playerID); err != nil {
		logger.Warning("WebSocket connection rejected - limit exceeded",
			"client_ip", clientIP,
			"player", playerID,
			"reason", err)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	g.wg.Add(1)
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "error", err)
		g.conns.Release(clientIP, playerID)
		g.wg.Done()
		return
	}

	client := NewClient(conn, playerID, g.negotiate(r), clientIP)
	g.hub.Register(client)
	go g.serve(client)
}

// negotiate picks a locale from the "lang" parameter, then Accept-Language.
func (g *Gateway) negotiate(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return g.text.Negotiate(lang)
	}
	return g.text.Negotiate(r.Header.Get("Accept-Language"))
}

func (g *Gateway) serve(c *Client) {
	defer g.wg.Done()
	defer g.disconnect(c)

	if limit := g.cfg.WebSocket.MaxMessageSize; limit > 0 {
		c.conn.SetReadLimit(limit)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err := g.engine.OpenSession(ctx, c.playerID)
	cancel()
	if err != nil {
		logger.Error("Failed to open quest session", "player", c.playerID, "error", err)
		c.Send(Reply{Type: FrameReply, Op: "open", Error: errorBody(err)})
		return
	}
	logger.Info("Gateway client connected", "player", c.playerID, "client_ip", c.ip, "locale", c.locale)

	limiter := throttle.NewTracker(throttle.FromConfig(g.cfg.Throttle))
	for {
		req, err := c.ReadRequest()
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.Send(Reply{Type: FrameReply, Error: &ErrorBody{Code: "bad_request", Message: "malformed request"}})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Gateway read failed", "player", c.playerID, "error", err)
			}
			return
		}

		if ok, wait := limiter.Allow(); !ok {
			c.Send(Reply{Type: FrameReply, ID: req.ID, Op: req.Op, Error: &ErrorBody{
				Code:    "rate_limited",
				Message: fmt.Sprintf("too many requests, retry in %s", wait.Round(time.Millisecond)),
			}})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		reply := g.handle(ctx, c, req)
		cancel()
		if !c.Send(reply) {
			return
		}
	}
}

func (g *Gateway) disconnect(c *Client) {
	c.Close()
	g.conns.Release(c.ip, c.playerID)
	if g.hub.Unregister(c) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := g.engine.CloseSession(ctx, c.playerID); err != nil {
		logger.Error("Failed to close quest session", "player", c.playerID, "error", err)
	}
	logger.Info("Gateway client disconnected", "player", c.playerID)
}

// handle runs one request. Start and objective notices raised by the
// request are queued to the client before the reply; a completion notice
// follows once the quest's reward has been granted.
func (g *Gateway) handle(ctx context.Context, c *Client, req Request) Reply {
	reply := Reply{Type: FrameReply, ID: req.ID, Op: req.Op}

	var err error
	switch strings.ToLower(req.Op) {
	case OpStart:
		err = g.engine.StartQuest(ctx, c.playerID, req.Quest)
	case OpAbandon:
		err = g.engine.AbandonQuest(ctx, c.playerID, req.Quest)
	case OpEvent:
		if req.Event == nil {
			err = errors.New("event op requires an event")
			break
		}
		err = g.engine.OnEvent(ctx, c.playerID, *req.Event)
	case OpProgress:
		var records []*quest.Progress
		records, err = g.engine.Progress(ctx, c.playerID)
		for _, p := range records {
			if req.Quest != "" && p.QuestID != req.Quest {
				continue
			}
			reply.Progress = append(reply.Progress, progressView(g.text, p, c.locale))
		}
	case OpEligible:
		err = g.engine.Eligibility(ctx, c.playerID, req.Quest)
	case OpAvailable:
		var defs []*quest.Definition
		defs, err = g.engine.Available(ctx, c.playerID)
		for _, def := range defs {
			reply.Quests = append(reply.Quests, questView(g.text, def, c.locale))
		}
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}

	if err != nil {
		reply.Error = errorBody(err)
		return reply
	}
	reply.OK = true
	return reply
}
