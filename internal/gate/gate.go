// Package gate turns identity state changes into navigation and wishlist
// reloads for a screen.
package gate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/platform/observability"
)

// LoginRoute is where unauthenticated users are sent.
const LoginRoute = "/login"

// Navigator moves the screen to another route.
type Navigator interface {
	Navigate(route string)
}

// Reloader refreshes data scoped to user.
type Reloader interface {
	Reload(ctx context.Context, user *identity.User)
}

// Subscriber is the identity state source; *identity.Client satisfies it.
type Subscriber interface {
	OnStateChange(fn identity.Listener) (unsubscribe func())
}

// Gate tracks Unknown, Authenticated and Unauthenticated. Each transition
// into Unauthenticated navigates to LoginRoute once, and each transition into
// Authenticated (including a switch to a different user) reloads once.
type Gate struct {
	nav    Navigator
	reload Reloader

	mu          sync.Mutex
	ctx         context.Context
	state       identity.State
	user        *identity.User
	unsubscribe func()
	closed      bool
}

// New constructs a gate in the Unknown state.
func New(nav Navigator, reload Reloader) *Gate {
	return &Gate{nav: nav, reload: reload, state: identity.StateUnknown}
}

// Attach subscribes to sub. ctx is handed to reloads triggered by later
// events, so it should live as long as the screen. Attaching again replaces
// the previous subscription.
func (g *Gate) Attach(ctx context.Context, sub Subscriber) {
	if ctx == nil {
		ctx = context.Background()
	}
	g.mu.Lock()
	previous := g.unsubscribe
	g.unsubscribe = nil
	g.ctx = ctx
	g.closed = false
	g.mu.Unlock()
	if previous != nil {
		previous()
	}

	unsubscribe := sub.OnStateChange(g.handle)

	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
}

// State returns the gate state.
func (g *Gate) State() identity.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Identity returns the authenticated user, or nil.
func (g *Gate) Identity() *identity.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user
}

// Close releases the identity subscription. Events delivered afterwards are
// ignored.
func (g *Gate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.closed = true
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *Gate) handle(ev identity.Event) {
	g.mu.Lock()
	ctx := g.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if g.closed || !g.transition(ev) {
		g.mu.Unlock()
		return
	}
	g.state = ev.State
	g.user = nil
	if ev.State == identity.StateAuthenticated {
		g.user = ev.User
	}
	user := g.user
	g.mu.Unlock()

	logger := observability.FromContext(ctx)
	switch ev.State {
	case identity.StateUnauthenticated:
		logger.Debug("session gate: unauthenticated", zap.String("route", LoginRoute))
		if g.nav != nil {
			g.nav.Navigate(LoginRoute)
		}
	case identity.StateAuthenticated:
		logger.Debug("session gate: authenticated", zap.String("uid", user.UID))
		if g.reload != nil {
			g.reload.Reload(ctx, user)
		}
	}
}

// transition reports whether ev changes the gate state. Callers hold g.mu.
func (g *Gate) transition(ev identity.Event) bool {
	switch ev.State {
	case identity.StateUnauthenticated:
		return g.state != identity.StateUnauthenticated
	case identity.StateAuthenticated:
		if ev.User == nil {
			return false
		}
		return g.state != identity.StateAuthenticated || g.user == nil || g.user.UID != ev.User.UID
	default:
		return false
	}
}
