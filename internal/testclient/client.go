package testclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/server"
)

// ErrTimeout is returned when no reply arrives in time.
var ErrTimeout = errors.New("timed out waiting for reply")

// Frame is any message the gateway sends: a reply or a notice.
type Frame struct {
	Type     string                `json:"type"`
	ID       string                `json:"id"`
	Op       string                `json:"op"`
	OK       bool                  `json:"ok"`
	Error    *server.ErrorBody     `json:"error"`
	Progress []server.ProgressView `json:"progress"`
	Quests   []server.QuestView    `json:"quests"`
	Kind     string                `json:"kind"`
	Quest    quest.ID              `json:"quest"`
	Text     string                `json:"text"`
}

// TestClient represents a test client connection to the quest gateway
type TestClient struct {
	Name    string
	conn    *websocket.Conn
	nextID  atomic.Uint64
	frames  []Frame
	mu      sync.Mutex
	writeMu sync.Mutex
	done    chan struct{}
}

// Options control how a client connects.
type Options struct {
	Token  string // Bearer token; empty uses the dev-mode player parameter
	Locale string // Sent as the lang parameter when set
}

// NewTestClient connects as the given player.
func NewTestClient(name, address string, opts Options) (*TestClient, error) {
	query := url.Values{}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	} else {
		query.Set("player", name)
	}
	if opts.Locale != "" {
		query.Set("lang", opts.Locale)
	}

	u := url.URL{Scheme: "ws", Host: address, Path: "/ws", RawQuery: query.Encode()}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client := &TestClient{
		Name:   name,
		conn:   conn,
		frames: make([]Frame, 0),
		done:   make(chan struct{}),
	}

	// Start reading frames in background
	go client.readFrames()

	return client, nil
}

// readFrames continuously reads frames from the gateway
func (c *TestClient) readFrames() {
	defer close(c.done)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		c.mu.Lock()
		c.frames = append(c.frames, f)
		c.mu.Unlock()
	}
}

// Send writes a request without waiting for its reply.
func (c *TestClient) Send(req server.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// Do sends a request with a fresh ID and waits for the matching reply.
func (c *TestClient) Do(req server.Request, timeout time.Duration) (Frame, error) {
	req.ID = c.Name + "-" + strconv.FormatUint(c.nextID.Add(1), 10)
	if err := c.Send(req); err != nil {
		return Frame{}, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, f := range c.GetFrames() {
			if f.Type == server.FrameReply && f.ID == req.ID {
				return f, nil
			}
		}
		select {
		case <-c.done:
			return Frame{}, errors.New("connection closed")
		case <-time.After(20 * time.Millisecond):
		}
	}
	return Frame{}, ErrTimeout
}

// Start starts a quest.
func (c *TestClient) Start(questID quest.ID) (Frame, error) {
	return c.Do(server.Request{Op: server.OpStart, Quest: questID}, 2*time.Second)
}

// Abandon abandons a quest.
func (c *TestClient) Abandon(questID quest.ID) (Frame, error) {
	return c.Do(server.Request{Op: server.OpAbandon, Quest: questID}, 2*time.Second)
}

// Event reports a gameplay event.
func (c *TestClient) Event(ev quest.Event) (Frame, error) {
	return c.Do(server.Request{Op: server.OpEvent, Event: &ev}, 2*time.Second)
}

// Progress fetches the player's quest log.
func (c *TestClient) Progress() (Frame, error) {
	return c.Do(server.Request{Op: server.OpProgress}, 2*time.Second)
}

// Eligible checks whether a quest can be started.
func (c *TestClient) Eligible(questID quest.ID) (Frame, error) {
	return c.Do(server.Request{Op: server.OpEligible, Quest: questID}, 2*time.Second)
}

// Available lists quests the player can start.
func (c *TestClient) Available() (Frame, error) {
	return c.Do(server.Request{Op: server.OpAvailable}, 2*time.Second)
}

// GetFrames returns all frames received so far
func (c *TestClient) GetFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Return a copy
	result := make([]Frame, len(c.frames))
	copy(result, c.frames)
	return result
}

// GetNotices returns the notices received so far
func (c *TestClient) GetNotices() []Frame {
	var notices []Frame
	for _, f := range c.GetFrames() {
		if f.Type == server.FrameNotice {
			notices = append(notices, f)
		}
	}
	return notices
}

// ClearFrames clears the frame buffer
func (c *TestClient) ClearFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = make([]Frame, 0)
}

// WaitForNotice waits for a notice of the given kind about a quest (with timeout)
func (c *TestClient) WaitForNotice(kind string, questID quest.ID, timeout time.Duration) (Frame, bool) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, f := range c.GetNotices() {
			if f.Kind == kind && f.Quest == questID {
				return f, true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return Frame{}, false
}

// HasNotice checks if a notice of the given kind about a quest was received
func (c *TestClient) HasNotice(kind string, questID quest.ID) bool {
	for _, f := range c.GetNotices() {
		if f.Kind == kind && f.Quest == questID {
			return true
		}
	}
	return false
}

// Close closes the client connection
func (c *TestClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// PrintFrames prints all frames (for debugging)
func (c *TestClient) PrintFrames() {
	frames := c.GetFrames()
	fmt.Printf("\n=== Frames for %s ===\n", c.Name)
	for i, f := range frames {
		fmt.Printf("[%d] %+v\n", i, f)
	}
	fmt.Println("======================")
}
