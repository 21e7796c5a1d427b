package server

// The room hub tracks which local peers subscribe to each discussion and
// fans orchestrator events out to them. Membership truth lives in the
// session store; the hub only knows this process's sockets.

import "sync"

type roomHub struct {
	mu sync.Mutex
	// rooms and byConn mirror each other: byConn records the one room a
	// connection subscribes to, so teardown needs no session lookup.
	rooms  map[string]*discussionRoom
	byConn map[string]string
}

func newRoomHub() *roomHub {
	return &roomHub{
		rooms:  make(map[string]*discussionRoom),
		byConn: make(map[string]string),
	}
}

type discussionRoom struct {
	discussionID string
	subscribers  map[string]*wsPeer
}

// join subscribes a connection's peer to a discussion room. A connection
// subscribes to at most one room; joining elsewhere moves it.
func (h *roomHub) join(discussionID, connectionID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.byConn[connectionID]; ok && prev != discussionID {
		h.removeLocked(prev, connectionID)
	}

	room, ok := h.rooms[discussionID]
	if !ok {
		room = &discussionRoom{
			discussionID: discussionID,
			subscribers:  make(map[string]*wsPeer),
		}
		h.rooms[discussionID] = room
	}
	room.subscribers[connectionID] = peer
	h.byConn[connectionID] = discussionID
}

// leave unsubscribes a connection from a discussion room, dropping the
// room once it empties.
func (h *roomHub) leave(discussionID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(discussionID, connectionID)
}

// drop unsubscribes a connection from whatever room it is in. Used on
// teardown, where the session record may already be gone.
func (h *roomHub) drop(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if discussionID, ok := h.byConn[connectionID]; ok {
		h.removeLocked(discussionID, connectionID)
	}
}

func (h *roomHub) removeLocked(discussionID, connectionID string) {
	if h.byConn[connectionID] == discussionID {
		delete(h.byConn, connectionID)
	}
	room, ok := h.rooms[discussionID]
	if !ok {
		return
	}
	delete(room.subscribers, connectionID)
	if len(room.subscribers) == 0 {
		delete(h.rooms, discussionID)
	}
}

// Broadcast sends an event frame to every subscriber of a discussion.
func (h *roomHub) Broadcast(discussionID, event string, payload any) {
	h.broadcast(discussionID, "", event, payload)
}

// BroadcastExcept sends an event frame to every subscriber except one
// connection, typically the actor who already got a direct reply.
func (h *roomHub) BroadcastExcept(discussionID, exceptConnectionID, event string, payload any) {
	h.broadcast(discussionID, exceptConnectionID, event, payload)
}

func (h *roomHub) broadcast(discussionID, exceptConnectionID, event string, payload any) {
	h.mu.Lock()
	room, ok := h.rooms[discussionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	peers := make([]*wsPeer, 0, len(room.subscribers))
	for connectionID, peer := range room.subscribers {
		if connectionID == exceptConnectionID {
			continue
		}
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	frame := wsFrame{Type: event, Payload: mustJSON(payload)}
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}
