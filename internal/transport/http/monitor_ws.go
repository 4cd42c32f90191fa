package http

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizlab-service/internal/app"
	"quizlab-service/internal/domain"
)

// MonitorHandler streams monitoring snapshots for one lab over a websocket.
// Frames are pushed on a fixed interval; the owner check runs once at upgrade
// time and again implicitly on every snapshot.
type MonitorHandler struct {
	service  *app.MonitorService
	upgrader websocket.Upgrader
	interval time.Duration
}

func NewMonitorHandler(service *app.MonitorService, interval time.Duration) *MonitorHandler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &MonitorHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		interval: interval,
	}
}

type monitorFrame struct {
	Type    string       `json:"type"`
	Payload app.Snapshot `json:"payload"`
}

type monitorError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Serve upgrades the request and pushes snapshot frames until the client
// disconnects.
func (h *MonitorHandler) Serve(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	labID := r.PathValue("labID")

	// Reject before upgrading so unauthorized callers get a plain HTTP status.
	if _, err := h.service.Snapshot(r.Context(), labID, caller); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan interface{}, 8)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	// The read pump only exists to notice the client going away.
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		snap, err := h.service.Snapshot(r.Context(), labID, caller)
		if err != nil {
			select {
			case send <- monitorError{Type: "error", Message: err.Error()}:
			default:
			}
			break
		}
		select {
		case send <- monitorFrame{Type: "snapshot", Payload: snap}:
		default:
			// Slow consumer: skip the frame rather than block the loop.
		}

		select {
		case <-ticker.C:
		case <-readerDone:
			close(send)
			<-writerDone
			return
		case <-r.Context().Done():
			close(send)
			<-writerDone
			return
		}
	}

	close(send)
	<-writerDone
}
