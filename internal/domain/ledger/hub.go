package ledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const balanceEventsChannel = "ledger:balance_events"

// publisher is the part of *redis.Client the hub sends with
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Connection is one websocket subscriber of an account's balance
type Connection struct {
	AccountID string
	Conn      *websocket.Conn
	Send      chan []byte
}

type balanceEnvelope struct {
	Event            BalanceChanged `json:"event"`
	SenderInstanceID string         `json:"sender_instance_id"`
}

// StreamEvent is what subscribers receive
type StreamEvent struct {
	Type string         `json:"type"`
	Data BalanceChanged `json:"data"`
}

// Hub fans balance changes out to websocket subscribers on every instance.
// Without Redis it delivers to local subscribers only.
type Hub struct {
	connections map[string]map[*Connection]bool
	mu          sync.RWMutex

	redis  publisher
	pubsub *redis.PubSub

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

// NewHub creates a balance hub
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}

	if redisClient != nil {
		h.redis = redisClient
		h.pubsub = redisClient.Subscribe(ctx, balanceEventsChannel)
	}
	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.AccountID] == nil {
				h.connections[conn.AccountID] = make(map[*Connection]bool)
			}
			h.connections[conn.AccountID][conn] = true
			h.mu.Unlock()
			log.Debug().Str("account_id", conn.AccountID).Msg("Balance stream connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.AccountID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
				}
				if len(conns) == 0 {
					delete(h.connections, conn.AccountID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("account_id", conn.AccountID).Msg("Balance stream disconnected")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleRemote(msg.Payload)
		}
	}
}

func (h *Hub) handleRemote(payload string) {
	var env balanceEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return
	}
	if env.SenderInstanceID == h.instanceID {
		return
	}
	h.deliverLocal(env.Event)
}

// Publish implements Notifier
func (h *Hub) Publish(ctx context.Context, ev BalanceChanged) {
	h.deliverLocal(ev)

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(balanceEnvelope{Event: ev, SenderInstanceID: h.instanceID})
	if err != nil {
		return
	}
	if err := h.redis.Publish(ctx, balanceEventsChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("account_id", ev.AccountID).Msg("Balance event publish failed")
	}
}

func (h *Hub) deliverLocal(ev BalanceChanged) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.connections[ev.AccountID]
	if !ok {
		return
	}

	data, err := json.Marshal(StreamEvent{Type: "balance", Data: ev})
	if err != nil {
		return
	}
	for conn := range conns {
		select {
		case conn.Send <- data:
		default:
			log.Warn().Str("account_id", ev.AccountID).Msg("Balance stream buffer full")
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.ctx.Done():
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns the number of local connections for an account
func (h *Hub) ConnectionCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[accountID])
}

// Shutdown stops the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
