package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles incoming HTTP requests for interacting with the
// configured modem driver
type Server struct {
	Logger *slog.Logger
	Driver *Driver

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates a server publishing the driver's state over HTTP
func NewServer(logger *slog.Logger, driver *Driver) *Server {
	s := &Server{
		Logger:  logger,
		Driver:  driver,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	driver.OnEvent(s.Broadcast)
	return s
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", s.handleTransmit)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)

}

// handleTransmit queues a message for satellite transmission
func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	var req TransmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Text == "" && len(req.Data) == 0 {
		s.sendError(w, "either 'text' or 'data' is required", http.StatusBadRequest)
		return
	}

	id, err := s.Driver.Transmit(r.Context(), req)
	if err != nil {
		s.Logger.Error("Failed to queue message", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("Message accepted", "message_id", id)

	type TransmitResponse struct {
		MessageID uint64 `json:"messageId"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TransmitResponse{MessageID: id})
}

// handleStatus returns the driver's latest modem snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Driver.Status())
}

// handleEvents upgrades the connection and streams unsolicited modem
// events to the client until it disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	registerMetrics()
	websocketClients.Inc()
	s.Logger.Info("Event subscriber connected", "total", total)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine, drains keep-alives and detects disconnects
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			websocketClients.Dec()
			s.Logger.Info("Event subscriber disconnected", "total", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast sends an event to every connected websocket client. Slow
// clients are skipped rather than blocking the driver.
func (s *Server) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}
