package streaming

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dailyquiz/quizsvc/observability"
	"github.com/dailyquiz/quizsvc/store"
)

// maxConnectionsPerRoom bounds a single day's room, the same defensive cap
// the teacher's MetricsHub applies globally.
const maxConnectionsPerRoom = 20000

// Hub is the Push Channel: one room per civil date, broadcasting question
// advancement and progress ticks to every connected client for that day.
// It is the room-per-tenant MetricsHub generalized to room-per-day.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]struct{}

	register   chan registration
	unregister chan unregistration
	publishCh  chan publishRequest
}

type registration struct {
	date string
	conn *websocket.Conn
}

type unregistration struct {
	date string
	conn *websocket.Conn
}

type publishRequest struct {
	date    string
	payload interface{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*websocket.Conn]struct{}),
		register:   make(chan registration),
		unregister: make(chan unregistration),
		publishCh:  make(chan publishRequest, 256),
	}
}

// Run drives the hub's single-writer loop; all connection map mutation and
// broadcasting happens here, so no mutex is held across a network write.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case reg := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[reg.date]
			if !ok {
				room = make(map[*websocket.Conn]struct{})
				h.rooms[reg.date] = room
			}
			if len(room) >= maxConnectionsPerRoom {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("[PUSH] connection rejected for %s: room full", reg.date)
				continue
			}
			room[reg.conn] = struct{}{}
			h.mu.Unlock()
			observability.WSConnections.Inc()
		case unreg := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[unreg.date]; ok {
				if _, present := room[unreg.conn]; present {
					delete(room, unreg.conn)
					unreg.conn.Close()
					observability.WSConnections.Dec()
				}
			}
			h.mu.Unlock()
		case req := <-h.publishCh:
			h.broadcast(req.date, req.payload)
		}
	}
}

func (h *Hub) broadcast(date string, payload interface{}) {
	h.mu.RLock()
	room := h.rooms[date]
	conns := make([]*websocket.Conn, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("[PUSH] write error for room %s: %v", date, err)
			go h.Unregister(date, conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for date, room := range h.rooms {
		for conn := range room {
			conn.Close()
		}
		delete(h.rooms, date)
	}
}

func (h *Hub) Register(date string, conn *websocket.Conn) {
	h.register <- registration{date: date, conn: conn}
}

func (h *Hub) Unregister(date string, conn *websocket.Conn) {
	h.unregister <- unregistration{date: date, conn: conn}
}

func (h *Hub) RoomSize(date string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[date])
}

// Publish implements streaming.Publisher by routing to the matching room.
func (h *Hub) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case h.publishCh <- publishRequest{date: topic, payload: json.RawMessage(data)}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (h *Hub) Close() error {
	close(h.publishCh)
	return nil
}

// NotifyProgress implements observability.ProgressNotifier, broadcasting a
// raw progress tick to the event's day's room without going through the
// generic Publish/topic indirection.
func (h *Hub) NotifyProgress(ev store.ProgressEvent) {
	select {
	case h.publishCh <- publishRequest{date: ev.Date, payload: ev}:
	default:
		log.Printf("[PUSH] dropped progress event for %s: publish channel full", ev.Date)
	}
}
