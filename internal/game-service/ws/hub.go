package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

// client serializa as escritas: gorilla aceita um só escritor por conexão
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia as conexões WebSocket e as assinaturas por rodada
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu sync.RWMutex
	// roundID -> conexões
	subs map[string]map[*client]struct{}
}

func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.RoundID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.RoundID]; !ok {
				h.subs[msg.RoundID] = make(map[*client]struct{})
			}
			h.subs[msg.RoundID][c] = struct{}{}
			h.mu.Unlock()
			h.ack(c, "subscribed", msg.RoundID)
		case "unsubscribe":
			h.mu.Lock()
			if m, ok := h.subs[msg.RoundID]; ok {
				delete(m, c)
				if len(m) == 0 {
					delete(h.subs, msg.RoundID)
				}
			}
			h.mu.Unlock()
			h.ack(c, "unsubscribed", msg.RoundID)
		case "ping":
			h.ack(c, "pong", "")
		}
	}

	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) ack(c *client, kind, roundID string) {
	b, _ := json.Marshal(map[string]string{"type": kind, "round_id": roundID})
	_ = c.write(b)
}

// Broadcast envia o evento aos assinantes da rodada e de todas as rodadas
func (h *Hub) Broadcast(ev events.RoundEvent) {
	id := strconv.FormatUint(ev.RoundID, 10)

	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[id])+len(h.subs[AllRounds]))
	for c := range h.subs[id] {
		targets = append(targets, c)
	}
	for c := range h.subs[AllRounds] {
		if _, dup := h.subs[id][c]; !dup {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal ws broadcast", zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

// Subscribers conta as conexões assinadas em uma rodada
func (h *Hub) Subscribers(roundID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roundID])
}
