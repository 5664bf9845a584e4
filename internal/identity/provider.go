package identity

import "context"

// User is an authenticated identity. UID is the opaque id that scopes
// wishlist data; IDToken proves the identity on later requests and
// RefreshToken obtains a new IDToken once it expires.
type User struct {
	UID          string
	Email        string
	IDToken      string
	RefreshToken string
}

// Provider is the external identity provider.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context, user *User) error
	Verify(ctx context.Context, idToken string) (*User, error)
	Refresh(ctx context.Context, refreshToken string) (*User, error)
}
