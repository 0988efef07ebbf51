package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dailyquiz/quizsvc/auth"
)

// upgrader mirrors the teacher's MetricsHub upgrader: permissive origin
// checking, since the CORS middleware already governs which origins the
// frontend is served from.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// reauthEvent is pushed to a connected client whose token is within
// auth.ReauthWindow of expiry, so it can refresh before being force
// disconnected rather than discovering expiry only when a write fails.
type reauthEvent struct {
	Type             string `json:"type"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// handleWS upgrades an authenticated request into a websocket connection
// registered in the civil date's room. The token is validated once at
// connect and re-validated on a fixed interval for as long as the
// connection stays open, since a long-lived connection could otherwise
// outlive the token that authorized it.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "missing token query parameter", http.StatusUnauthorized)
		return
	}
	claims, err := a.engine.Auth.Validate(tokenString)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[PUSH] upgrade failed: %v", err)
		return
	}

	date := a.engine.Calendar.Today()
	a.engine.Hub.Register(date, conn)

	go a.watchConnection(conn, date, claims)
}

// watchConnection owns one connection's lifetime: it drains client frames
// (there are none expected besides pings/close), periodically revalidates
// the token, and unregisters on any read error or forced close.
func (a *API) watchConnection(conn *websocket.Conn, date string, claims *auth.Claims) {
	defer a.engine.Hub.Unregister(date, conn)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			now := time.Now()
			if auth.NearExpiry(claims, now) {
				remaining := time.Unix(claims.ExpiresAt, 0).Sub(now)
				conn.WriteJSON(reauthEvent{Type: "reauth", ExpiresInSeconds: int(remaining.Seconds())})
			}
			if now.Unix() > claims.ExpiresAt {
				conn.Close()
				return
			}
		}
	}
}
