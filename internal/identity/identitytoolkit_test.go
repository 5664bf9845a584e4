package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newToolkitServer(t *testing.T, handler http.HandlerFunc) *IdentityToolkit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	toolkit, err := NewIdentityToolkit(context.Background(), "web-key", option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return toolkit
}

func TestIdentityToolkitVerifyPassword(t *testing.T) {
	var body map[string]any
	toolkit := newToolkitServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/verifyPassword"), r.URL.Path)
		require.Equal(t, "web-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"localId":      "fb-uid",
			"email":        "reader@example.com",
			"idToken":      "id-token",
			"refreshToken": "refresh-token",
			"registered":   true,
		})
	})

	user, err := toolkit.VerifyPassword(context.Background(), "reader@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, &User{UID: "fb-uid", Email: "reader@example.com", IDToken: "id-token", RefreshToken: "refresh-token"}, user)
	require.Equal(t, "reader@example.com", body["email"])
	require.Equal(t, true, body["returnSecureToken"])
}

func TestIdentityToolkitMapsErrorReasons(t *testing.T) {
	cases := map[string]string{
		"INVALID_PASSWORD":                      CodeInvalidCredential,
		"EMAIL_NOT_FOUND":                       CodeInvalidCredential,
		"USER_DISABLED":                         CodeUserDisabled,
		"TOO_MANY_ATTEMPTS_TRY_LATER : Retry later": CodeTooManyRequests,
		"SOMETHING_NEW":                         CodeInternal,
	}

	for reason, code := range cases {
		t.Run(reason, func(t *testing.T) {
			toolkit := newToolkitServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 400, "message": reason},
				})
			})

			_, err := toolkit.VerifyPassword(context.Background(), "reader@example.com", "wrong")
			require.ErrorIs(t, err, ErrAuth)
			require.Equal(t, code, ErrorCode(err))
			require.Equal(t, reason, ErrorMessage(err))
		})
	}
}

func TestNewIdentityToolkitRequiresKey(t *testing.T) {
	_, err := NewIdentityToolkit(context.Background(), " ")
	require.Error(t, err)
}
