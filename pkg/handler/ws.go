package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/notify"
)

// WSHandler joins callers to their notification room.
type WSHandler struct {
	hub    *notify.Hub
	logger *logrus.Logger
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(hub *notify.Hub, logger *logrus.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// Serve handles GET /api/ws.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	h.hub.ServeWS(w, r, uid)
}
