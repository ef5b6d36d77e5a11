package handler

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/realtime"
)

// Realtime upgrades the request and keeps the connection registered with
// the hub until the client goes away.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.NotFound(w, r)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.Info("Websocket upgrade failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		return
	}

	conn := realtime.NewConnection(ws, h.cfg.SendBuffer)
	conn.Start()

	if err := h.hub.Register(conn); err != nil {
		conn.CloseWith(websocket.CloseTryAgainLater, "server shutting down")
		return
	}
	h.logger.Info("Observer connected", zap.String("observerID", conn.ID()))

	conn.ReadLoop()

	h.hub.Unregister(conn)
	conn.Close()
	h.logger.Info("Observer disconnected", zap.String("observerID", conn.ID()))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}
