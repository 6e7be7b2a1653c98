package collab

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scribe/api/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers cannot set custom headers on websocket dials, so the access
	// token arrives as a query parameter and CORS is handled at the API
	// layer; accept any origin here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated HTTP requests into hub connections.
type Handler struct {
	hub       *Hub
	access    Access
	jwtSecret []byte
}

func NewHandler(hub *Hub, access Access, jwtSecret []byte) *Handler {
	return &Handler{hub: hub, access: access, jwtSecret: jwtSecret}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ParseToken(h.jwtSecret, token)
	if err != nil {
		// Refused before any registry state exists for this connection.
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("collab: upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	c := newClient(connID, claims.UserID, h.hub, h.access, conn)
	h.hub.Register(connID, c, claims.UserID, claims.Username)
	log.Printf("collab: %s connected (%s)", claims.Username, connID)

	go c.writePump()
	c.readPump()
	log.Printf("collab: %s disconnected (%s)", claims.Username, connID)
}
