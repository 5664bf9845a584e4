package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	memoryIssuer     = "bookfinder-local"
	defaultTokenTTL  = time.Hour
	minPasswordBytes = 6
)

// MemoryProvider is an in-process identity provider for local development
// and tests. Passwords are bcrypt hashed and ID tokens are HS256 JWTs.
// Signing out bumps the account's token generation, which revokes every ID
// and refresh token issued before it.
type MemoryProvider struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	// compare checks a password against its hash outside p.mu.
	compare func(hash, password []byte) error

	mu       sync.Mutex
	byEmail  map[string]*memoryAccount
	byUID    map[string]*memoryAccount
	disabled map[string]bool
	// refresh maps each outstanding refresh token to its account uid.
	refresh map[string]string
}

type memoryAccount struct {
	uid        string
	email      string
	hash       []byte
	generation int
}

type memoryClaims struct {
	Email      string `json:"email"`
	Generation int    `json:"gen"`
	jwt.RegisteredClaims
}

// MemoryOption customises a MemoryProvider.
type MemoryOption func(*MemoryProvider)

// WithTokenTTL sets the lifetime of issued ID tokens.
func WithTokenTTL(ttl time.Duration) MemoryOption {
	return func(p *MemoryProvider) {
		if ttl != 0 {
			p.ttl = ttl
		}
	}
}

// WithClock overrides the clock used to stamp tokens.
func WithClock(now func() time.Time) MemoryOption {
	return func(p *MemoryProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBcryptCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) MemoryOption {
	return func(p *MemoryProvider) {
		p.cost = cost
	}
}

// NewMemoryProvider creates an empty provider signing tokens with secret.
func NewMemoryProvider(secret []byte, opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		secret:   append([]byte(nil), secret...),
		ttl:      defaultTokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		compare:  bcrypt.CompareHashAndPassword,
		byEmail:  make(map[string]*memoryAccount),
		byUID:    make(map[string]*memoryAccount),
		disabled: make(map[string]bool),
		refresh:  make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CreateAccount registers email with password.
func (p *MemoryProvider) CreateAccount(ctx context.Context, email, password string) (*User, error) {
	const op = "create-account"

	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, newError(op, CodeInvalidEmail, "The email address is badly formatted.", err)
	}
	if len(password) < minPasswordBytes {
		return nil, newError(op, CodeWeakPassword, "Password should be at least 6 characters.", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, newError(op, CodeWeakPassword, err.Error(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byEmail[normalized]; exists {
		return nil, newError(op, CodeEmailAlreadyInUse, "The email address is already in use by another account.", nil)
	}
	account := &memoryAccount{uid: ulid.Make().String(), email: normalized, hash: hash}
	p.byEmail[normalized] = account
	p.byUID[account.uid] = account

	return p.issue(account)
}

// SignIn checks the password and issues a fresh ID token.
func (p *MemoryProvider) SignIn(ctx context.Context, email, password string) (*User, error) {
	const op = "sign-in"

	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, newError(op, CodeInvalidEmail, "The email address is badly formatted.", err)
	}

	p.mu.Lock()
	account, ok := p.byEmail[normalized]
	var hash []byte
	if ok {
		hash = account.hash
	}
	p.mu.Unlock()

	if !ok || p.compare(hash, []byte(password)) != nil {
		return nil, newError(op, CodeInvalidCredential, "The supplied credentials are incorrect.", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled[account.uid] {
		return nil, newError(op, CodeUserDisabled, "The user account has been disabled.", nil)
	}
	return p.issue(account)
}

// SignOut revokes every token issued to user so far.
func (p *MemoryProvider) SignOut(ctx context.Context, user *User) error {
	if user == nil || user.UID == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byUID[user.UID]
	if !ok {
		return newError("sign-out", CodeInternal, "unknown user", nil)
	}
	account.generation++
	for token, uid := range p.refresh {
		if uid == account.uid {
			delete(p.refresh, token)
		}
	}
	return nil
}

// Verify validates idToken and returns the identity it carries.
func (p *MemoryProvider) Verify(ctx context.Context, idToken string) (*User, error) {
	const op = "verify"

	claims := &memoryClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, newError(op, CodeTokenExpired, "The ID token has expired.", err)
	case err != nil:
		return nil, newError(op, CodeInvalidToken, "The ID token is invalid.", err)
	case claims.Issuer != memoryIssuer:
		return nil, newError(op, CodeInvalidToken, "The ID token has an unexpected issuer.", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byUID[claims.Subject]
	if !ok || account.generation != claims.Generation {
		return nil, newError(op, CodeTokenRevoked, "The ID token has been revoked.", nil)
	}
	return &User{UID: account.uid, Email: account.email, IDToken: idToken}, nil
}

// Refresh exchanges refreshToken for a new ID token. Like Firebase refresh
// tokens it stays valid until the account signs out; disabled accounts
// cannot refresh.
func (p *MemoryProvider) Refresh(ctx context.Context, refreshToken string) (*User, error) {
	const op = "refresh"

	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byUID[p.refresh[refreshToken]]
	if !ok {
		return nil, newError(op, CodeInvalidRefresh, "The refresh token is invalid.", nil)
	}
	if p.disabled[account.uid] {
		return nil, newError(op, CodeUserDisabled, "The user account has been disabled.", nil)
	}
	user, err := p.sign(account)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = refreshToken
	return user, nil
}

// Disable blocks future sign-ins and refreshes for uid.
func (p *MemoryProvider) Disable(uid string) {
	p.mu.Lock()
	p.disabled[uid] = true
	p.mu.Unlock()
}

// issue signs an ID token and opens a refresh token. It must be called with
// p.mu held.
func (p *MemoryProvider) issue(account *memoryAccount) (*User, error) {
	user, err := p.sign(account)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = ulid.Make().String()
	p.refresh[user.RefreshToken] = account.uid
	return user, nil
}

func (p *MemoryProvider) sign(account *memoryAccount) (*User, error) {
	now := p.now()
	claims := memoryClaims{
		Email:      account.email,
		Generation: account.generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    memoryIssuer,
			Subject:   account.uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        ulid.Make().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, newError("issue-token", CodeInternal, err.Error(), err)
	}
	return &User{UID: account.uid, Email: account.email, IDToken: signed}, nil
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", err
	}
	if addr.Address != trimmed {
		return "", errors.New("display names are not accepted")
	}
	return trimmed, nil
}
