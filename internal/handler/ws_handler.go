package handler

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"flashsale/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	logger *log.Logger
	hub    *broadcast.Hub
}

func NewWSHandler(logger *log.Logger, hub *broadcast.Hub) *WSHandler {
	return &WSHandler{logger: logger, hub: hub}
}

// Subscribe upgrades the connection and attaches it to the sale's event
// stream. Subscribers start receiving from now; there is no replay.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || saleID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Failed to upgrade websocket for sale %d: %v", saleID, err)
		return
	}

	client := broadcast.NewClient(uuid.NewString(), saleID, conn)
	h.hub.Register(client)
	go client.ReadPump(h.hub)

	welcome := fmt.Sprintf(`{"type":"connected","sale_id":%d,"client_id":"%s"}`, saleID, client.ID)
	client.TrySend([]byte(welcome))
}
