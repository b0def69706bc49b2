// Package notify is the server-push fan-out layer: a per-project
// registry of live subscriber connections fed by the rule engine and
// action dispatcher.
//
// Delivery is at-least-once with idempotent message IDs, ordered per
// connection. A subscriber that cannot keep up is removed rather than
// allowed to stall delivery to anyone else.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/metrics"
	"github.com/liamcoop/eventflow/rules"
)

// MessageType names the channels pushed to subscribers.
type MessageType string

const (
	MessageConnected     MessageType = "connected"
	MessageEvent         MessageType = "event"
	MessageRuleExecution MessageType = "rule-execution"
	MessageChatRefresh   MessageType = "chat-refresh"
	MessageServiceStatus MessageType = "service-status"
	MessageError         MessageType = "error"
	MessageHeartbeat     MessageType = "heartbeat"
)

// Message is one unit of server push. IDs are unique so subscribers
// can deduplicate across reconnects.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

func newMessage(t MessageType, data any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Client is one subscriber connection. The transport handler drains
// Messages until it is closed; nothing is ever sent after Done fires.
type Client struct {
	id        string
	projectID string
	msgs      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) ID() string { return c.id }

func (c *Client) ProjectID() string { return c.projectID }

func (c *Client) Messages() <-chan Message { return c.msgs }

func (c *Client) Done() <-chan struct{} { return c.done }

// Config tunes the publisher. Zero values get defaults.
type Config struct {
	// HeartbeatInterval is the period of the background heartbeat.
	HeartbeatInterval time.Duration
	// ClientBuffer is each subscriber's queue depth; when it is full
	// the subscriber is dropped.
	ClientBuffer int
	Logger       *slog.Logger
}

// Publisher fans events, rule-execution results and heartbeats out to
// every subscriber of a project. All producer-side sends are
// non-blocking: a slow consumer is removed, never waited on.
type Publisher struct {
	clients map[string]map[string]*Client // projectID -> clientID -> client
	mu      sync.RWMutex

	buffer    int
	heartbeat time.Duration
	log       *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		clients:   make(map[string]map[string]*Client),
		buffer:    cfg.ClientBuffer,
		heartbeat: cfg.HeartbeatInterval,
		log:       cfg.Logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the heartbeat loop. It runs on its own goroutine with
// its own stop handle, independent of event traffic.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.broadcastAll(newMessage(MessageHeartbeat, nil))
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop halts the heartbeat and disconnects every subscriber.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	p.mu.Lock()
	var all []*Client
	for _, project := range p.clients {
		for _, c := range project {
			all = append(all, c)
		}
	}
	p.clients = make(map[string]map[string]*Client)
	p.mu.Unlock()

	for _, c := range all {
		c.closeOnce.Do(func() { close(c.done) })
		metrics.StreamClients.Dec()
	}
}

// AddClient registers a new subscriber for a project and queues its
// initial "connected" message.
func (p *Publisher) AddClient(projectID string) *Client {
	c := &Client{
		id:        uuid.NewString(),
		projectID: projectID,
		msgs:      make(chan Message, p.buffer),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if p.clients[projectID] == nil {
		p.clients[projectID] = make(map[string]*Client)
	}
	p.clients[projectID][c.id] = c
	p.mu.Unlock()

	metrics.StreamClients.Inc()
	p.trySend(c, newMessage(MessageConnected, map[string]string{"clientId": c.id}))
	p.log.Debug("stream client connected", "project", projectID, "client", c.id)
	return c
}

// RemoveClient unregisters a subscriber. Idempotent; safe to call from
// the connection-close callback and from failed-write paths.
func (p *Publisher) RemoveClient(c *Client) {
	if c == nil {
		return
	}

	p.mu.Lock()
	project, ok := p.clients[c.projectID]
	if ok {
		if _, present := project[c.id]; present {
			delete(project, c.id)
			if len(project) == 0 {
				delete(p.clients, c.projectID)
			}
			metrics.StreamClients.Dec()
		} else {
			ok = false
		}
	}
	p.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	if ok {
		p.log.Debug("stream client disconnected", "project", c.projectID, "client", c.id)
	}
}

// PublishEvent pushes an incoming event to its project's subscribers.
func (p *Publisher) PublishEvent(ev *event.Event) {
	p.broadcast(ev.ProjectID, newMessage(MessageEvent, ev))
}

// PublishRuleExecution pushes a successful execution result. Failed
// results go through PublishError instead.
func (p *Publisher) PublishRuleExecution(projectID string, res rules.ExecutionResult) {
	if !res.Success {
		return
	}
	p.broadcast(projectID, newMessage(MessageRuleExecution, res))
}

// PublishServiceStatus pushes an action-execution status update
// (started / completed / error details live in data).
func (p *Publisher) PublishServiceStatus(projectID string, data any) {
	p.broadcast(projectID, newMessage(MessageServiceStatus, data))
}

// PublishChatRefresh tells dashboards to reload conversation state
// after a prompt action completes.
func (p *Publisher) PublishChatRefresh(projectID string) {
	p.broadcast(projectID, newMessage(MessageChatRefresh, nil))
}

// PublishError surfaces an action failure to subscribers explicitly
// rather than as a silent disconnect.
func (p *Publisher) PublishError(projectID string, data any) {
	p.broadcast(projectID, newMessage(MessageError, data))
}

// Broadcast pushes a generic typed payload to a project.
func (p *Publisher) Broadcast(projectID string, t MessageType, data any) {
	p.broadcast(projectID, newMessage(t, data))
}

// ClientCount returns the per-project subscriber count, or the global
// count when projectID is empty.
func (p *Publisher) ClientCount(projectID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if projectID != "" {
		return len(p.clients[projectID])
	}
	total := 0
	for _, project := range p.clients {
		total += len(project)
	}
	return total
}

func (p *Publisher) broadcast(projectID string, m Message) {
	p.mu.RLock()
	targets := make([]*Client, 0, len(p.clients[projectID]))
	for _, c := range p.clients[projectID] {
		targets = append(targets, c)
	}
	p.mu.RUnlock()

	p.deliver(targets, m)
}

func (p *Publisher) broadcastAll(m Message) {
	p.mu.RLock()
	var targets []*Client
	for _, project := range p.clients {
		for _, c := range project {
			targets = append(targets, c)
		}
	}
	p.mu.RUnlock()

	p.deliver(targets, m)
}

// deliver sends to each target without blocking; any client whose
// queue is full is removed immediately and unilaterally.
func (p *Publisher) deliver(targets []*Client, m Message) {
	var failed []*Client
	for _, c := range targets {
		if !p.trySend(c, m) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		metrics.StreamMessagesDropped.Inc()
		p.log.Warn("dropping slow stream client", "project", c.projectID, "client", c.id)
		p.RemoveClient(c)
	}
}

func (p *Publisher) trySend(c *Client, m Message) bool {
	select {
	case <-c.done:
		return true // already removed, nothing to do
	default:
	}
	select {
	case c.msgs <- m:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}
