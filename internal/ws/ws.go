package ws

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"studyforge/internal/notify"
	"studyforge/internal/queue"
	"studyforge/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Manager pushes all-jobs dashboard snapshots over WebSocket. It listens on
// the notifier firehose so every job record write fans out to every client.
type Manager struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	store     *store.Store
	db        *queue.DB
}

// New creates the manager. Run must be started for live updates.
func New(st *store.Store, db *queue.DB) *Manager {
	return &Manager{
		clients: make(map[*websocket.Conn]bool),
		store:   st,
		db:      db,
	}
}

// Run consumes the firehose topic until the broker closes. One goroutine.
func (m *Manager) Run(broker *notify.Broker) {
	events, cancel := broker.Subscribe(notify.Firehose)
	defer cancel()

	for range events {
		m.Broadcast()
	}
}

// HandleWS upgrades the connection and registers the client.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to upgrade WebSocket: %v", err)
		return
	}
	m.AddClient(conn)
}

// AddClient adds a new WebSocket client and sends it the current snapshot.
func (m *Manager) AddClient(conn *websocket.Conn) {
	m.clientsMu.Lock()
	m.clients[conn] = true
	m.clientsMu.Unlock()

	log.Printf("[WEBSOCKET] New client connected. Total clients: %d", m.ClientCount())

	m.SendUpdateToClient(conn)

	go func() {
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, conn)
			m.clientsMu.Unlock()
			conn.Close()
			log.Printf("[WEBSOCKET] Client disconnected. Total clients: %d", m.ClientCount())
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast sends the current snapshot to all connected clients.
func (m *Manager) Broadcast() {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		go m.SendUpdateToClient(client)
	}
}

// SendUpdateToClient sends the jobs list and metrics to a specific client.
func (m *Manager) SendUpdateToClient(conn *websocket.Conn) {
	jobs, err := m.store.List()
	if err != nil {
		log.Printf("[ERROR] Failed to list jobs for dashboard: %v", err)
		return
	}

	metrics := store.Summarize(jobs)
	if m.db != nil {
		if retries, err := m.db.PendingRetries(); err == nil {
			metrics.TotalRetries = retries
		}
	}

	update := map[string]interface{}{
		"jobs":    jobs,
		"metrics": metrics,
	}

	if err := conn.WriteJSON(update); err != nil {
		log.Printf("[ERROR] Failed to send WebSocket update: %v", err)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}
