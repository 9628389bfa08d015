package campus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campusverse/campus/backend-go/internal/metrics"
	"github.com/campusverse/campus/backend-go/internal/presence"
)

const (
	defaultReapInterval      = time.Minute
	defaultInactivityTimeout = 5 * time.Minute
	defaultSendBuffer        = 256
)

// DefaultSpawn is where a user appears when the join carries no position.
var DefaultSpawn = presence.Position{X: 50, Y: 50}

// Publisher mirrors every broadcast snapshot to an external bus.
type Publisher interface {
	Publish(data []byte) error
}

type Option func(*Hub)

func WithSpawn(pos presence.Position) Option {
	return func(h *Hub) { h.spawn = pos }
}

func WithReaper(interval, timeout time.Duration) Option {
	return func(h *Hub) {
		h.reapInterval = interval
		h.inactivityTimeout = timeout
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(h *Hub) { h.publisher = p }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) { h.sendBuffer = n }
}

func WithOriginPatterns(patterns []string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

type inboundMessage struct {
	client *Client
	msg    *Message
}

// Hub owns the presence table on behalf of every connection. All mutations, snapshots
// and fanout happen on the Run goroutine, one event at a time.
type Hub struct {
	table             *presence.Table
	metrics           *metrics.Metrics
	publisher         Publisher
	spawn             presence.Position
	reapInterval      time.Duration
	inactivityTimeout time.Duration
	sendBuffer        int
	originPatterns    []string

	clients map[string]*Client // connID -> client, Run goroutine only
	closed  []*Client          // clients closed by Stop, read after done

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	sweeps     chan chan int
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub(table *presence.Table, opts ...Option) *Hub {
	h := &Hub{
		table:             table,
		spawn:             DefaultSpawn,
		reapInterval:      defaultReapInterval,
		inactivityTimeout: defaultInactivityTimeout,
		sendBuffer:        defaultSendBuffer,
		clients:           make(map[string]*Client),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		inbound:           make(chan inboundMessage, 64),
		sweeps:            make(chan chan int),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.New(prometheus.NewRegistry())
	}
	return h
}

func (h *Hub) Run() {
	ticker := time.NewTicker(h.reapInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.inbound:
			h.dispatch(in.client, in.msg)
		case reply := <-h.sweeps:
			reply <- h.reap()
		case <-ticker.C:
			h.reap()
		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

// Register hands a new connection to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) submit(client *Client, msg *Message) bool {
	select {
	case h.inbound <- inboundMessage{client: client, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Sweep runs one reaper pass on the hub goroutine and returns how many records it removed.
func (h *Hub) Sweep() int {
	reply := make(chan int, 1)
	select {
	case h.sweeps <- reply:
	case <-h.done:
		return 0
	}
	return <-reply
}

// Snapshot may be called from any goroutine.
func (h *Hub) Snapshot() presence.Snapshot {
	return h.table.Snapshot()
}

// Stop ends the Run loop and closes every client's send queue so write pumps can flush.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Shutdown stops the hub and waits for clients to flush their queued frames or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.Stop()
	for _, c := range h.closed {
		select {
		case <-c.flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) addClient(client *Client) {
	h.clients[client.ID] = client
	h.metrics.Connections.Set(float64(len(h.clients)))

	client.Send(newMessage(TypeWelcome, WelcomePayload{ConnectionID: client.ID}))
	client.Send(newMessage(TypeUpdatePresence, UpdatePresencePayload{Players: h.table.Snapshot()}))

	slog.Info("client connected", "conn", client.ID, "remote", client.RemoteAddr)
}

func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.send)
	client.state = stateTerminated
	h.metrics.Connections.Set(float64(len(h.clients)))

	if userKey, ok := h.table.RemoveByConnection(client.ID); ok {
		slog.Info("user removed on disconnect", "user", userKey, "conn", client.ID)
		h.broadcastSnapshot()
		return
	}
	slog.Info("client disconnected", "conn", client.ID)
}

func (h *Hub) closeAll() {
	for id, c := range h.clients {
		close(c.send)
		c.state = stateTerminated
		h.closed = append(h.closed, c)
		delete(h.clients, id)
	}
	h.metrics.Connections.Set(0)
}

func (h *Hub) reap() int {
	removed := h.table.Reap(h.inactivityTimeout)
	if len(removed) == 0 {
		return 0
	}

	h.metrics.ReapedTotal.Add(float64(len(removed)))
	slog.Info("removed inactive users", "count", len(removed), "users", removed)
	h.broadcastSnapshot()
	return len(removed)
}

// broadcastSnapshot queues the current table to every connection, including the one
// whose event caused the change. A full queue drops the frame for that client only.
func (h *Hub) broadcastSnapshot() {
	snap := h.table.Snapshot()
	data, err := json.Marshal(newMessage(TypeUpdatePresence, UpdatePresencePayload{Players: snap}))
	if err != nil {
		slog.Error("marshal presence snapshot", "error", err)
		return
	}

	for _, c := range h.clients {
		if !c.sendRaw(data) {
			h.metrics.DroppedFrames.Inc()
		}
	}
	h.metrics.Broadcasts.Inc()
	h.metrics.PresentUsers.Set(float64(len(snap)))

	if h.publisher != nil {
		if err := h.publisher.Publish(data); err != nil {
			slog.Warn("publish presence snapshot", "error", err)
		}
	}
}

func newMessage(msgType string, payload any) *Message {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal payload", "error", err, "type", msgType)
		return &Message{Type: msgType}
	}
	return &Message{Type: msgType, Payload: data}
}
