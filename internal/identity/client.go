package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/platform/observability"
)

// State is the identity state seen by subscribers.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every state emission. User is nil
// unless State is StateAuthenticated.
type Event struct {
	State State
	User  *User
}

// Listener receives identity events.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Client holds the current identity for one screen and notifies subscribers
// when it changes. It starts in StateUnknown until Restore or a sign-in/out
// establishes a state.
type Client struct {
	provider Provider

	mu        sync.Mutex
	state     State
	user      *User
	listeners []subscription
	nextID    int
}

// NewClient wraps provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// OnStateChange registers fn and returns a function that removes it. When
// the state is already known fn is called immediately with it.
func (c *Client) OnStateChange(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, subscription{id: id, fn: fn})
	current := Event{State: c.state, User: c.user}
	c.mu.Unlock()

	if current.State != StateUnknown {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, sub := range c.listeners {
				if sub.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Current returns the authenticated user or nil.
func (c *Client) Current() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Restore establishes the startup state from a previously issued ID token.
// An empty or rejected token yields StateUnauthenticated.
func (c *Client) Restore(ctx context.Context, idToken string) Event {
	return c.Resume(ctx, idToken, "")
}

// Resume is Restore with a refresh token. An expired ID token is exchanged
// through the provider; the refreshed tokens are on the event's User, so
// callers can persist them. Any other rejection, or a failed refresh,
// yields StateUnauthenticated.
func (c *Client) Resume(ctx context.Context, idToken, refreshToken string) Event {
	if idToken == "" {
		return c.set(nil)
	}
	logger := observability.FromContext(ctx)
	user, err := c.provider.Verify(ctx, idToken)
	if err != nil && ErrorCode(err) == CodeTokenExpired && refreshToken != "" {
		user, err = c.provider.Refresh(ctx, refreshToken)
		if err == nil {
			logger.Debug("identity token refreshed", zap.String("uid", user.UID))
		}
	}
	if err != nil {
		level := zap.WarnLevel
		if ErrorCode(err) == CodeTokenExpired {
			level = zap.InfoLevel
		}
		logger.Log(level, "identity restore rejected",
			zap.String("code", ErrorCode(err)),
			zap.String("message", ErrorMessage(err)),
		)
		return c.set(nil)
	}
	if user.RefreshToken == "" {
		user.RefreshToken = refreshToken
	}
	return c.set(user)
}

// SignIn authenticates with email and password and emits StateAuthenticated
// on success. Failures leave the state unchanged.
func (c *Client) SignIn(ctx context.Context, email, password string) (*User, error) {
	user, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.set(user)
	return user, nil
}

// CreateAccount registers a new account. It does not change the client state;
// callers sign in separately.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*User, error) {
	return c.provider.CreateAccount(ctx, email, password)
}

// SignOut signs the current user out with the provider and emits
// StateUnauthenticated. On failure the state is unchanged.
func (c *Client) SignOut(ctx context.Context) error {
	user := c.Current()
	if user != nil {
		if err := c.provider.SignOut(ctx, user); err != nil {
			return err
		}
	}
	c.set(nil)
	return nil
}

func (c *Client) set(user *User) Event {
	ev := Event{State: StateUnauthenticated}
	if user != nil {
		ev = Event{State: StateAuthenticated, User: user}
	}

	c.mu.Lock()
	c.state = ev.State
	c.user = ev.User
	listeners := make([]Listener, 0, len(c.listeners))
	for _, sub := range c.listeners {
		listeners = append(listeners, sub.fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	return ev
}
