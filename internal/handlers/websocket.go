package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bandobast/deployment-tracker/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream upgrades the connection and relays live duty records for one
// deployment. The stream starts at subscription time; history is served by
// the reports endpoint. When the subscription is dropped for not keeping up,
// the socket is closed and the client is expected to reconnect and backfill.
func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["id"]

	deployment, err := h.deploymentRepo.GetByID(r.Context(), deploymentID)
	if err != nil {
		h.logger.Error("Failed to get deployment for stream",
			"deployment_id", deploymentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment")
		return
	}
	if deployment == nil {
		h.writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	sub, err := h.broadcaster.Subscribe(deploymentID)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Cancel()
		h.logger.Warn("Failed to upgrade stream connection",
			"deployment_id", deploymentID, "error", err)
		return
	}

	h.metrics.Subscribers.Inc()
	h.logger.Debug("Stream subscriber connected", "deployment_id", deploymentID)

	go h.streamWritePump(conn, sub)
	go h.streamReadPump(conn, sub)
}

// streamWritePump pushes duty records to the client until the subscription
// or the connection ends.
func (h *HTTPHandler) streamWritePump(conn *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Cancel()
		conn.Close()
		h.metrics.Subscribers.Dec()
	}()

	for {
		select {
		case report, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Subscription ended: broadcaster closed or this client was
				// dropped for not keeping up.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(report); err != nil {
				h.logger.Debug("Stream write failed",
					"deployment_id", sub.DeploymentID(), "error", err)
				return
			}
			h.metrics.BroadcastDelivered.Inc()
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReadPump drains the client side so pong handling and close frames
// work; the stream is one-way.
func (h *HTTPHandler) streamReadPump(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
