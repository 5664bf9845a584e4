package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const secureTokenEndpoint = "https://securetoken.googleapis.com/v1/"

// SecureToken refreshes ID tokens through the Secure Token API, the
// endpoint Firebase client SDKs use. google.golang.org/api has no generated
// client for it, so requests go through the API-key transport it builds.
type SecureToken struct {
	client   *http.Client
	endpoint string
}

// NewSecureToken creates the API client. opts are appended after the key
// and default endpoint, e.g. option.WithEndpoint for the auth emulator.
func NewSecureToken(ctx context.Context, apiKey string, opts ...option.ClientOption) (*SecureToken, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("identity: web api key is required")
	}
	clientOpts := append([]option.ClientOption{
		option.WithAPIKey(apiKey),
		option.WithEndpoint(secureTokenEndpoint),
	}, opts...)
	client, endpoint, err := htransport.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("identity: create secure token client: %w", err)
	}
	return &SecureToken{client: client, endpoint: strings.TrimSuffix(endpoint, "/") + "/token"}, nil
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// RefreshIDToken implements TokenRefresher. The returned User has no email;
// FirebaseProvider fills it in by verifying the new ID token.
func (s *SecureToken) RefreshIDToken(ctx context.Context, refreshToken string) (*User, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError("refresh", CodeInternal, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, newError("refresh", CodeInternal, err.Error(), err)
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, secureTokenError(err)
	}

	var body secureTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, newError("refresh", CodeInternal, "decode secure token response", err)
	}
	if body.IDToken == "" {
		return nil, newError("refresh", CodeInternal, "secure token response carried no id token", nil)
	}
	return &User{UID: body.UserID, IDToken: body.IDToken, RefreshToken: body.RefreshToken}, nil
}

// secureTokenError maps error reasons such as "TOKEN_EXPIRED" or
// "INVALID_REFRESH_TOKEN" to provider codes.
func secureTokenError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return newError("refresh", CodeInternal, err.Error(), err)
	}

	reason := strings.TrimSpace(strings.SplitN(apiErr.Message, ":", 2)[0])
	code := CodeInternal
	switch reason {
	case "TOKEN_EXPIRED":
		code = CodeTokenRevoked
	case "INVALID_REFRESH_TOKEN", "INVALID_GRANT_TYPE", "MISSING_REFRESH_TOKEN", "USER_NOT_FOUND":
		code = CodeInvalidRefresh
	case "USER_DISABLED":
		code = CodeUserDisabled
	}
	return newError("refresh", code, apiErr.Message, err)
}
