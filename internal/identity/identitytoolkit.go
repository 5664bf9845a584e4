package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// IdentityToolkit signs users in with email and password through the
// Identity Toolkit relying-party API, authenticated by the web API key.
type IdentityToolkit struct {
	service *identitytoolkit.Service
}

// NewIdentityToolkit creates the API client. opts are appended after the key,
// e.g. option.WithEndpoint for the auth emulator.
func NewIdentityToolkit(ctx context.Context, apiKey string, opts ...option.ClientOption) (*IdentityToolkit, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("identity: web api key is required")
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := identitytoolkit.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("identity: create identity toolkit service: %w", err)
	}
	return &IdentityToolkit{service: service}, nil
}

// VerifyPassword implements PasswordVerifier.
func (t *IdentityToolkit) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	resp, err := t.service.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, toolkitError(err)
	}
	return &User{
		UID:          resp.LocalId,
		Email:        resp.Email,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// toolkitError maps REST error reasons such as "INVALID_PASSWORD" or
// "TOO_MANY_ATTEMPTS_TRY_LATER : ..." to provider codes.
func toolkitError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return newError("sign-in", CodeInternal, err.Error(), err)
	}

	reason := strings.TrimSpace(strings.SplitN(apiErr.Message, ":", 2)[0])
	code := CodeInternal
	switch reason {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		code = CodeInvalidCredential
	case "USER_DISABLED":
		code = CodeUserDisabled
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		code = CodeTooManyRequests
	case "INVALID_EMAIL":
		code = CodeInvalidEmail
	}
	return newError("sign-in", code, apiErr.Message, err)
}
