package httpserver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/live"
	"finitefield.org/bookfinder/internal/platform/observability"
	appsession "finitefield.org/bookfinder/internal/session"
)

// liveHandler upgrades authenticated Home tabs to a websocket registered
// with the hub under the session's identity.
type liveHandler struct {
	sessions *appsession.Manager
	identity identity.Provider
	hub      *live.Hub
	upgrader websocket.Upgrader
}

func (h *liveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.sessions.Load(r)
	if err != nil || sess.IDToken() == "" {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	client := identity.NewClient(h.identity)
	ev := client.Restore(ctx, sess.IDToken())
	if ev.State != identity.StateAuthenticated {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.FromContext(ctx).Warn("live: upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(ctx, conn, ev.User.UID)
}
