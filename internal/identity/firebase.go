package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultFirebaseTimeout = 5 * time.Second

// AuthClient is the subset of the Firebase Admin auth client used here.
type AuthClient interface {
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// PasswordVerifier exchanges an email and password for ID and refresh tokens.
// The Admin SDK cannot do this, so it goes through the Identity Toolkit API.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (*User, error)
}

// TokenRefresher exchanges a refresh token for a new ID token. The Admin
// SDK cannot do this either; SecureToken calls the Secure Token API.
type TokenRefresher interface {
	RefreshIDToken(ctx context.Context, refreshToken string) (*User, error)
}

// FirebaseProvider implements Provider on Firebase Authentication.
type FirebaseProvider struct {
	auth      AuthClient
	passwords PasswordVerifier
	refresher TokenRefresher
	timeout   time.Duration
}

// FirebaseOption customises FirebaseProvider instances.
type FirebaseOption func(*FirebaseProvider)

// WithFirebaseTimeout overrides the timeout applied to each provider call.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(p *FirebaseProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTokenRefresher enables Refresh. Without it sessions end when their
// ID token expires.
func WithTokenRefresher(r TokenRefresher) FirebaseOption {
	return func(p *FirebaseProvider) {
		p.refresher = r
	}
}

// NewFirebaseProvider wires the Admin auth client and the password verifier.
func NewFirebaseProvider(auth AuthClient, passwords PasswordVerifier, opts ...FirebaseOption) (*FirebaseProvider, error) {
	if auth == nil {
		return nil, errors.New("identity: firebase auth client is required")
	}
	if passwords == nil {
		return nil, errors.New("identity: password verifier is required")
	}
	p := &FirebaseProvider{auth: auth, passwords: passwords, timeout: defaultFirebaseTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// CreateAccount creates the Firebase user. The returned User carries no
// tokens; the caller signs in afterwards.
func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record, err := p.auth.CreateUser(ctx, (&firebaseauth.UserToCreate{}).Email(strings.TrimSpace(email)).Password(password))
	if err != nil {
		return nil, firebaseError("create-account", err)
	}
	return &User{UID: record.UID, Email: record.Email}, nil
}

// SignIn delegates to the password verifier.
func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	user, err := p.passwords.VerifyPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		var idErr *Error
		if errors.As(err, &idErr) {
			return nil, err
		}
		return nil, newError("sign-in", CodeInternal, err.Error(), err)
	}
	return user, nil
}

// SignOut revokes the user's refresh tokens so tokens held by other tabs and
// devices stop verifying.
func (p *FirebaseProvider) SignOut(ctx context.Context, user *User) error {
	if user == nil || user.UID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.auth.RevokeRefreshTokens(ctx, user.UID); err != nil {
		return firebaseError("sign-out", err)
	}
	return nil
}

// Verify checks the ID token signature, expiry and revocation.
func (p *FirebaseProvider) Verify(ctx context.Context, idToken string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.auth.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if err != nil {
		return nil, firebaseError("verify", err)
	}
	email, _ := token.Claims["email"].(string)
	return &User{UID: token.UID, Email: email, IDToken: idToken}, nil
}

// Refresh obtains a new ID token and verifies it, so a refresh token that
// outlived a revocation or a disabled account yields no identity.
func (p *FirebaseProvider) Refresh(ctx context.Context, refreshToken string) (*User, error) {
	if p.refresher == nil {
		return nil, newError("refresh", CodeInvalidRefresh, "token refresh is not configured", nil)
	}
	refreshed, err := func() (*User, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.refresher.RefreshIDToken(ctx, refreshToken)
	}()
	if err != nil {
		var idErr *Error
		if errors.As(err, &idErr) {
			return nil, err
		}
		return nil, newError("refresh", CodeInternal, err.Error(), err)
	}

	user, err := p.Verify(ctx, refreshed.IDToken)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = refreshed.RefreshToken
	return user, nil
}

func firebaseError(op string, err error) error {
	code := CodeInternal
	switch {
	case firebaseauth.IsEmailAlreadyExists(err):
		code = CodeEmailAlreadyInUse
	case firebaseauth.IsIDTokenExpired(err):
		code = CodeTokenExpired
	case firebaseauth.IsIDTokenRevoked(err):
		code = CodeTokenRevoked
	case firebaseauth.IsUserNotFound(err):
		code = CodeInvalidCredential
	default:
		// The Admin SDK validates UserToCreate locally and returns plain errors.
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "password"):
			code = CodeWeakPassword
		case strings.Contains(msg, "email"):
			code = CodeInvalidEmail
		case strings.Contains(msg, "id token"):
			code = CodeInvalidToken
		}
	}
	return newError(op, code, err.Error(), err)
}
