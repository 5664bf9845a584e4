package gate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/bookfinder/internal/identity"
)

type recorder struct {
	mu      sync.Mutex
	routes  []string
	reloads []string
	order   []string
}

func (r *recorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	r.order = append(r.order, "navigate:"+route)
}

func (r *recorder) Reload(_ context.Context, user *identity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads = append(r.reloads, user.UID)
	r.order = append(r.order, "reload:"+user.UID)
}

// manualSource replays events to its listeners on demand.
type manualSource struct {
	listeners map[int]identity.Listener
	next      int
	current   *identity.Event
}

func newManualSource() *manualSource {
	return &manualSource{listeners: map[int]identity.Listener{}}
}

func (s *manualSource) OnStateChange(fn identity.Listener) func() {
	s.next++
	id := s.next
	s.listeners[id] = fn
	if s.current != nil {
		fn(*s.current)
	}
	return func() { delete(s.listeners, id) }
}

func (s *manualSource) emit(ev identity.Event) {
	s.current = &ev
	for _, fn := range s.listeners {
		fn(ev)
	}
}

func authenticated(uid string) identity.Event {
	return identity.Event{State: identity.StateAuthenticated, User: &identity.User{UID: uid}}
}

func unauthenticated() identity.Event {
	return identity.Event{State: identity.StateUnauthenticated}
}

func TestGateStartsUnknown(t *testing.T) {
	rec := &recorder{}
	g := New(rec, rec)
	g.Attach(context.Background(), newManualSource())

	require.Equal(t, identity.StateUnknown, g.State())
	require.Nil(t, g.Identity())
	require.Empty(t, rec.order)
}

func TestGateNavigatesOncePerUnauthenticatedTransition(t *testing.T) {
	rec := &recorder{}
	src := newManualSource()
	g := New(rec, rec)
	g.Attach(context.Background(), src)

	src.emit(unauthenticated())
	src.emit(unauthenticated())

	require.Equal(t, []string{LoginRoute}, rec.routes)
	require.Empty(t, rec.reloads)
	require.Equal(t, identity.StateUnauthenticated, g.State())

	src.emit(authenticated("u1"))
	src.emit(unauthenticated())
	require.Equal(t, []string{LoginRoute, LoginRoute}, rec.routes)
}

func TestGateReloadsOncePerIdentity(t *testing.T) {
	rec := &recorder{}
	src := newManualSource()
	g := New(rec, rec)
	g.Attach(context.Background(), src)

	src.emit(authenticated("u1"))
	src.emit(authenticated("u1"))
	require.Equal(t, []string{"u1"}, rec.reloads)
	require.Equal(t, "u1", g.Identity().UID)

	src.emit(authenticated("u2"))
	require.Equal(t, []string{"u1", "u2"}, rec.reloads)
	require.Equal(t, "u2", g.Identity().UID)
	require.Empty(t, rec.routes)
}

func TestGateHandlesStateKnownBeforeAttach(t *testing.T) {
	rec := &recorder{}
	src := newManualSource()
	src.emit(unauthenticated())

	g := New(rec, rec)
	g.Attach(context.Background(), src)

	require.Equal(t, []string{"navigate:" + LoginRoute}, rec.order)
}

func TestGateCloseReleasesSubscription(t *testing.T) {
	rec := &recorder{}
	src := newManualSource()
	g := New(rec, rec)
	g.Attach(context.Background(), src)
	require.Len(t, src.listeners, 1)

	g.Close()
	g.Close()
	require.Empty(t, src.listeners)

	src.emit(authenticated("u1"))
	require.Empty(t, rec.order)
}

func TestGateWithIdentityClient(t *testing.T) {
	provider := identity.NewMemoryProvider([]byte("gate-test-secret"), identity.WithBcryptCost(4))
	ctx := context.Background()
	_, err := provider.CreateAccount(ctx, "reader@example.com", "hunter22")
	require.NoError(t, err)

	client := identity.NewClient(provider)
	rec := &recorder{}
	g := New(rec, rec)
	g.Attach(ctx, client)
	defer g.Close()

	client.Restore(ctx, "")
	user, err := client.SignIn(ctx, "reader@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, client.SignOut(ctx))

	require.Equal(t, []string{
		"navigate:" + LoginRoute,
		"reload:" + user.UID,
		"navigate:" + LoginRoute,
	}, rec.order)
}
