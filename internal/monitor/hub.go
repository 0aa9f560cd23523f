// Package monitor is a read-only observability server for a running
// coinforest index: a coin lookup endpoint and a websocket feed of flush
// events. It never participates in ingestion — it only ever reads from the
// store and forest after a flush has already committed.
package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// flushHistoryLen bounds how many past FlushEvents a newly-connected client
// is replayed, so a dashboard opened mid-run does not start on a blank slate.
const flushHistoryLen = 20

// FlushEvent is published once per completed Pipeline.Flush. Seq is
// strictly increasing across the Hub's lifetime, so a client can tell
// whether it missed events between reconnects.
type FlushEvent struct {
	Seq        uint64 `json:"seq"`
	BlockCount int    `json:"block_count"`
	CoinCount  int    `json:"coin_count"`
}

// Hub fans FlushEvents out to connected websocket clients, replaying the
// most recent ones to each client as it connects.
type Hub struct {
	clients map[*websocket.Conn]bool
	publish chan FlushEvent
	mutex   sync.Mutex
	history []FlushEvent
	nextSeq uint64
}

// NewHub constructs an empty Hub. Run must be started in its own goroutine
// before any client connects.
func NewHub() *Hub {
	return &Hub{
		publish: make(chan FlushEvent, 256),
		clients: make(map[*websocket.Conn]bool),
		nextSeq: 1,
	}
}

// Run drains the publish channel, recording each event in the replay
// history and forwarding it to every connected client, until the channel is
// closed.
func (h *Hub) Run() {
	for event := range h.publish {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("monitor: failed to marshal flush event: %v", err)
			continue
		}

		h.mutex.Lock()
		h.history = append(h.history, event)
		if len(h.history) > flushHistoryLen {
			h.history = h.history[len(h.history)-flushHistoryLen:]
		}
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("monitor: websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request to a websocket, replays the buffered
// flush history to the new client so it does not start blind, and keeps
// the connection registered for live events until it disconnects.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("monitor: failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	for _, event := range h.history {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.mutex.Unlock()
			conn.Close()
			return
		}
	}
	h.clients[conn] = true
	n := len(h.clients)
	h.mutex.Unlock()
	log.Printf("monitor: client connected, %d total", n)

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			n := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("monitor: client disconnected, %d total", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish assigns the next sequence number to a flush and enqueues it for
// delivery to every connected client (and replay to future ones).
func (h *Hub) Publish(blockCount, coinCount int) {
	h.mutex.Lock()
	seq := h.nextSeq
	h.nextSeq++
	h.mutex.Unlock()

	h.publish <- FlushEvent{Seq: seq, BlockCount: blockCount, CoinCount: coinCount}
}
