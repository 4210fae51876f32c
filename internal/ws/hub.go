package ws

import (
	"log"
	"sync"
)

// Hub tracks the set of active clients per document room and fans
// committed messages out to them.
type Hub struct {
	// Registered clients by document room
	rooms map[string]map[*Client]bool

	// Outbound messages to room members
	broadcast chan *broadcastMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex

	// One lock per document so that a committed edit and its broadcast
	// enqueue form a single step; delivery order then matches commit
	// order.
	lockMu    sync.Mutex
	editLocks map[string]*sync.Mutex
}

type broadcastMessage struct {
	RoomID string
	Data   []byte
	// Exclude skips one client (cursor updates); nil delivers to every
	// room member, sender included.
	Exclude *Client
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *broadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		editLocks:  make(map[string]*sync.Mutex),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.docID]; !ok {
				h.rooms[client.docID] = make(map[*Client]bool)
			}
			h.rooms[client.docID][client] = true
			clientCount := len(h.rooms[client.docID])
			h.mu.Unlock()

			log.Printf("Client %s joined doc %s (total: %d)", client.userID, client.docID, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.docID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.closeSend()

					if len(clients) == 0 {
						delete(h.rooms, client.docID)
						log.Printf("Doc room %s closed (empty)", client.docID)
					} else {
						log.Printf("Client %s left doc %s (remaining: %d)", client.userID, client.docID, len(clients))
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Full lock: slow clients get dropped from the room here.
			h.mu.Lock()
			if clients, ok := h.rooms[message.RoomID]; ok {
				for client := range clients {
					if client == message.Exclude {
						continue
					}
					select {
					case client.send <- message.Data:
					default:
						client.closeSend()
						delete(clients, client)
						log.Printf("Dropped slow client %s from doc %s", client.userID, client.docID)
					}
				}
				if len(clients) == 0 {
					delete(h.rooms, message.RoomID)
					log.Printf("Doc room %s closed (empty)", message.RoomID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues data for every member of roomID, minus exclude if
// non-nil.
func (h *Hub) Broadcast(roomID string, data []byte, exclude *Client) {
	h.broadcast <- &broadcastMessage{RoomID: roomID, Data: data, Exclude: exclude}
}

// editLock returns the per-document commit-order lock.
func (h *Hub) editLock(docID string) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()

	lock, ok := h.editLocks[docID]
	if !ok {
		lock = &sync.Mutex{}
		h.editLocks[docID] = lock
	}
	return lock
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms maps each active document room to its member count.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for docID, clients := range h.rooms {
		active[docID] = len(clients)
	}
	return active
}
